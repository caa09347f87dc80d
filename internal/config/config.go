package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvToken         = "SLACKMGMT_TOKEN"
	EnvSigningSecret = "SLACK_SIGNING_SECRET"
)

type Config struct {
	Slack struct {
		Token         string  `yaml:"token"`
		SigningSecret string  `yaml:"signing_secret"`
		APIURL        string  `yaml:"api_url"`
		RateLimit     float64 `yaml:"rate_limit"`
		RateBurst     int     `yaml:"rate_burst"`
	} `yaml:"slack"`
	EventsAPI bool `yaml:"events_api"`
	Debug     bool `yaml:"debug"`
	HTTP      struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Auth struct {
		JWTPublicKeys []string `yaml:"jwt_public_keys"` // PEM certificate paths
		Issuer        string   `yaml:"issuer"`
		Audience      string   `yaml:"audience"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	RTM struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		HandlePoll   time.Duration `yaml:"handle_poll"`
		FailFast     bool          `yaml:"fail_fast"`
		Backoff      struct {
			Initial time.Duration `yaml:"initial"`
			Max     time.Duration `yaml:"max"`
		} `yaml:"backoff"`
	} `yaml:"rtm"`
	Webhook struct {
		Path        string `yaml:"path"`
		MaxBodySize int64  `yaml:"max_body_size"`
	} `yaml:"webhook"`
	Plugins map[string]map[string]interface{} `yaml:"plugins"`
}

// Load reads a YAML file, applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Slack.Token = v
	}
	if v := os.Getenv(EnvSigningSecret); v != "" {
		c.Slack.SigningSecret = v
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Slack.RateLimit <= 0 {
		c.Slack.RateLimit = 1
	}
	if c.Slack.RateBurst <= 0 {
		c.Slack.RateBurst = 3
	}
	if c.RTM.PingInterval <= 0 {
		c.RTM.PingInterval = 20 * time.Second
	}
	if c.RTM.HandlePoll <= 0 {
		c.RTM.HandlePoll = time.Second
	}
	if c.RTM.Backoff.Initial <= 0 {
		c.RTM.Backoff.Initial = time.Second
	}
	if c.RTM.Backoff.Max <= 0 {
		c.RTM.Backoff.Max = time.Minute
	}
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhook"
	}
	if c.Webhook.MaxBodySize <= 0 {
		c.Webhook.MaxBodySize = 1 << 20
	}
}

// LogLevel is the effective level; debug mode wins over logging.level.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Logging.Level
}

func (c *Config) Validate() error {
	if c.Slack.Token == "" {
		return errors.New("slack token is required (slack.token, " + EnvToken + " or --token)")
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.Cert == "" || c.HTTP.TLS.Key == "") {
		return errors.New("http.tls requires cert and key")
	}
	if c.RTM.Backoff.Max < c.RTM.Backoff.Initial {
		return fmt.Errorf("rtm.backoff.max (%s) is below rtm.backoff.initial (%s)", c.RTM.Backoff.Max, c.RTM.Backoff.Initial)
	}
	return nil
}

// PluginConfig returns the plugins.<name> sub-mapping, never nil.
func (c *Config) PluginConfig(name string) map[string]interface{} {
	if pc, ok := c.Plugins[name]; ok && pc != nil {
		return pc
	}
	return map[string]interface{}{}
}

// Mode names the transport in logs and on /v1/info.
func (c *Config) Mode() string {
	if c.EventsAPI {
		return "webhook"
	}
	return "rtm"
}
