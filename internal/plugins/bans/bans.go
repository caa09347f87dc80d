// Package bans removes banned users from the channels they join.
//
// Configuration is keyed by channel id or channel name:
//
//	plugins:
//	  BanPlugin:
//	    C012345:
//	      users: [U0BAD, U0WORSE]
//	    general:
//	      users: [U0SPAM]
package bans

import (
	"context"
	"fmt"

	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

const Name = "BanPlugin"

const eventMemberJoined = "member_joined_channel"

type Plugin struct{}

func New() sdk.Plugin { return &Plugin{} }

func (p *Plugin) Consume(ctx context.Context, pc sdk.Context, ev sdk.Event) error {
	if ev.Type() != eventMemberJoined {
		return nil
	}
	user, channel := ev.String("user"), ev.String("channel")
	if user == "" || channel == "" {
		return fmt.Errorf("%s event without user or channel", eventMemberJoined)
	}
	banned, err := p.banned(ctx, pc, channel, user)
	if err != nil {
		return err
	}
	if !banned {
		return nil
	}

	pc.Log().Info("removing banned user",
		zap.String("user", user),
		zap.String("channel", channel))
	if err := pc.Actions().KickFromChannel(ctx, channel, user); err != nil {
		return fmt.Errorf("kick %s from %s: %w", user, channel, err)
	}
	return nil
}

// banned checks the ban list under the channel id first and falls back to
// the channel's name.
func (p *Plugin) banned(ctx context.Context, pc sdk.Context, channel, user string) (bool, error) {
	cfg := pc.Config()
	if Banned(cfg, channel, user) {
		return true, nil
	}
	if len(cfg) == 0 {
		return false, nil
	}
	name, err := channelName(ctx, pc.Actions(), channel)
	if err != nil {
		return false, err
	}
	return name != "" && Banned(cfg, name, user), nil
}

// channelName resolves an id through the cached channel list, refreshing
// once when the channel is not in it yet.
func channelName(ctx context.Context, actions sdk.Actions, channel string) (string, error) {
	for _, refresh := range []bool{false, true} {
		chs, err := actions.Channels(ctx, refresh)
		if err != nil {
			return "", fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range chs {
			if ch.ID == channel {
				return ch.Name, nil
			}
		}
	}
	return "", nil
}

// Banned reports whether user is listed under cfg[channel].users.
func Banned(cfg map[string]interface{}, channel, user string) bool {
	ch, ok := cfg[channel].(map[string]interface{})
	if !ok {
		return false
	}
	switch users := ch["users"].(type) {
	case []interface{}:
		for _, u := range users {
			if s, ok := u.(string); ok && s == user {
				return true
			}
		}
	case []string:
		for _, u := range users {
			if u == user {
				return true
			}
		}
	}
	return false
}
