package realtime

import (
	"math/rand"
	"time"
)

// State of the realtime channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateSubscribed: connected and the room join has been sent.
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSubscribed:
		return "CONNECTED_SUBSCRIBED"
	}
	return "UNKNOWN"
}

// Live reports whether a socket is open, subscribed or not.
func (s State) Live() bool { return s == StateConnected || s == StateSubscribed }

// backoff: экспоненциальная задержка min*2^n, не больше max, со случайным джиттером
// в верхней половине интервала.
type backoff struct {
	min, max time.Duration
	attempt  int
}

func (b *backoff) next() time.Duration {
	d := b.min
	for i := 0; i < b.attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	b.attempt++
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}

func (b *backoff) reset() { b.attempt = 0 }
