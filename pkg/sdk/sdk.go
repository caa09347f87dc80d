// Package sdk is the surface plugins are written against.
package sdk

import "context"

// Actions is the subset of the Slack Web API plugins may call.
type Actions interface {
	KickFromChannel(ctx context.Context, channel, user string) error
	// Channels lists the workspace's unarchived channels. The list is
	// cached after the first call; refresh forces a new fetch.
	Channels(ctx context.Context, refresh bool) ([]Channel, error)
}

// Channel is a conversation as plugins see it.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}
