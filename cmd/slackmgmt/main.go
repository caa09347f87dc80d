package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gtmanfred/slackmgmt/internal/config"
	"github.com/gtmanfred/slackmgmt/internal/dispatch"
	"github.com/gtmanfred/slackmgmt/internal/events"
	"github.com/gtmanfred/slackmgmt/internal/httpserver"
	"github.com/gtmanfred/slackmgmt/internal/logging"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/plugins"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/internal/reloader"
	"github.com/gtmanfred/slackmgmt/internal/rtm"
	"github.com/gtmanfred/slackmgmt/internal/slackapi"
	"github.com/gtmanfred/slackmgmt/internal/supervisor"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type flags struct {
	token     string
	debug     bool
	eventsAPI bool
	config    string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.token, "token", "", "Slack bot token (overrides config)")
	flag.StringVar(&f.token, "t", "", "shorthand for --token")
	flag.BoolVar(&f.debug, "debug", false, "debug logging")
	flag.BoolVar(&f.debug, "d", false, "shorthand for --debug")
	flag.BoolVar(&f.eventsAPI, "events-api", false, "receive events by webhook instead of RTM")
	flag.BoolVar(&f.eventsAPI, "e", false, "shorthand for --events-api")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: slackmgmt [flags] [config.yaml]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	f.config = flag.Arg(0)
	if f.config == "" {
		f.config = os.Getenv("SLACKMGMT_CONFIG")
	}
	if f.config == "" {
		f.config = "/etc/slackmgmt/config.yaml"
	}
	return f
}

// load reads the config file and layers the command line on top.
func load(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		cfg.Slack.Token = f.token
	}
	cfg.Debug = cfg.Debug || f.debug
	cfg.EventsAPI = cfg.EventsAPI || f.eventsAPI
	return cfg, cfg.Validate()
}

func main() {
	f := parseFlags()

	cfg, err := load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Cfg{
		Level: cfg.LogLevel(),
		JSON:  cfg.Logging.JSON,
	})
	defer logger.Sync()

	fmt.Println(`
     _            _                            _
 ___| | __ _  ___| | ___ __ ___   __ _ _ __ ___ | |_
/ __| |/ _' |/ __| |/ / '_ ' _ \ / _' | '_ ' _ \| __|
\__ \ | (_| | (__|   <| | | | | | (_| | | | | | | |_
|___/_|\__,_|\___|_|\_\_| |_| |_|\__, |_| |_| |_|\__|
                                 |___/
Slack event relay (` + cfg.Mode() + `)
Config:  ` + f.config + `
`)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	api := slackapi.New(slackapi.Options{
		Token:     cfg.Slack.Token,
		APIURL:    cfg.Slack.APIURL,
		RateLimit: cfg.Slack.RateLimit,
		RateBurst: cfg.Slack.RateBurst,
	}, logger)

	bus := events.NewBus()
	pongs := events.NewLastPong()
	dispatcher := dispatch.New(queue.New[sdk.Event](), pongs, bus, logger, m)
	pluginMgr := plugins.NewManager(cfg, logger, plugins.Builtin(), api, m)

	deps := httpserver.Deps{
		Inbound:  dispatcher.Inbound(),
		Bus:      bus,
		Plugins:  pluginMgr,
		Pongs:    pongs,
		Gatherer: reg,
		Metrics:  m,
	}

	var (
		stream  supervisor.Stream
		monitor supervisor.Heartbeat
		handle  *rtm.Handle
	)
	if !cfg.EventsAPI {
		handle = &rtm.Handle{}
		stream = rtm.NewClient(api, logger, m)
		monitor = rtm.NewMonitor(handle, pongs, cfg.RTM.PingInterval, cfg.RTM.HandlePoll, logger, m)
		deps.Conn = handle
	}

	srv := httpserver.New(cfg, logger, deps)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
		Handler: srv.Router(),
	}

	opts := supervisor.Options{
		FailFast:       cfg.RTM.FailFast,
		BackoffInitial: cfg.RTM.Backoff.Initial,
		BackoffMax:     cfg.RTM.Backoff.Max,
	}
	if cfg.HTTP.TLS.Enabled {
		opts.TLSCert, opts.TLSKey = cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key
	}
	sup := supervisor.New(dispatcher, pluginMgr, httpSrv, stream, monitor, handle, opts, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloader.OnSIGHUP(ctx, func() {
		newCfg, err := load(f)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		srv.Reload(newCfg)
		pluginMgr.Reload(newCfg)
		logger.Info("reloaded config")
	})

	if err := sup.Run(ctx); err != nil {
		logger.Fatal("supervisor", zap.Error(err))
	}
	logger.Info("bye")
}
