package events

import "sync/atomic"

// NoPong is the value of LastPong before any pong has been observed.
const NoPong int64 = -1

// LastPong holds the reply_to id of the most recent pong. The dispatcher
// writes it, the heartbeat monitor reads it.
type LastPong struct {
	id atomic.Int64
}

func NewLastPong() *LastPong {
	p := &LastPong{}
	p.id.Store(NoPong)
	return p
}

func (p *LastPong) Record(id int64) { p.id.Store(id) }

func (p *LastPong) Load() int64 { return p.id.Load() }
