// Package slackapi wraps the Slack Web API calls this bot makes: the RTM
// handshake and the moderation actions plugins issue. Every call waits on a
// shared rate limiter.
package slackapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var _ sdk.Actions = (*Client)(nil)

type Options struct {
	Token     string
	APIURL    string // empty means slack.com
	RateLimit float64
	RateBurst int
}

type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
	log     *zap.Logger

	mu       sync.Mutex
	channels []sdk.Channel
}

func New(o Options, log *zap.Logger) *Client {
	var opts []slack.Option
	if o.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(o.APIURL))
	}
	return &Client{
		api:     slack.New(o.Token, opts...),
		limiter: rate.NewLimiter(rate.Limit(o.RateLimit), o.RateBurst),
		log:     log.With(zap.String("component", "slackapi")),
	}
}

// Handshake calls rtm.connect and returns the websocket URL. A reply with
// ok=false surfaces as an error.
func (c *Client) Handshake(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	info, url, err := c.api.ConnectRTMContext(ctx)
	if err != nil {
		return "", fmt.Errorf("rtm.connect: %w", err)
	}
	if url == "" {
		return "", fmt.Errorf("rtm.connect: empty url")
	}
	if info != nil && info.User != nil {
		c.log.Debug("rtm.connect ok", zap.String("bot", info.User.Name), zap.String("team", teamName(info)))
	}
	return url, nil
}

func teamName(info *slack.Info) string {
	if info.Team == nil {
		return ""
	}
	return info.Team.Name
}

// KickFromChannel removes user from channel (conversations.kick).
func (c *Client) KickFromChannel(ctx context.Context, channel, user string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.api.KickUserFromConversationContext(ctx, channel, user); err != nil {
		return fmt.Errorf("conversations.kick: %w", err)
	}
	c.log.Debug("user kicked", zap.String("channel", channel), zap.String("user", user))
	return nil
}

// Channels returns the cached channel list, fetching it on first use or
// when refresh is set.
func (c *Client) Channels(ctx context.Context, refresh bool) ([]sdk.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels != nil && !refresh {
		return c.channels, nil
	}

	all := []sdk.Channel{}
	params := &slack.GetConversationsParameters{Limit: 200, ExcludeArchived: true}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", err)
		}
		for _, ch := range page {
			all = append(all, sdk.Channel{ID: ch.ID, Name: ch.Name, IsMember: ch.IsMember})
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	c.log.Debug("channel list fetched", zap.Int("channels", len(all)))
	c.channels = all
	return all, nil
}
