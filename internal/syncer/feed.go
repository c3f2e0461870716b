package syncer

import (
	"sync"
	"time"

	"github.com/messenger-client/internal/logger"
)

// feed is a fan-out of values to subscribers. Slow subscribers lose values
// rather than block the publisher.
type feed[T any] struct {
	name string
	size int

	mu   sync.Mutex
	subs map[chan T]struct{}
}

func newFeed[T any](name string, size int) *feed[T] {
	return &feed[T]{name: name, size: size, subs: make(map[chan T]struct{})}
}

func (f *feed[T]) subscribe() (<-chan T, func()) {
	ch := make(chan T, f.size)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- v:
		default:
			logger.Debugf("syncer: %s subscriber full, dropped", f.name)
		}
	}
}

type NoticeKind string

const (
	NoticeMutation NoticeKind = "mutation"
	NoticeRealtime NoticeKind = "realtime"
	NoticeSession  NoticeKind = "session"
)

// Notice is a transient, user-visible error.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Op      string     `json:"op"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

type UpdateType string

const (
	UpdateCache   UpdateType = "cache"
	UpdateTyping  UpdateType = "typing"
	UpdateState   UpdateType = "state"
	UpdateNotice  UpdateType = "notice"
	UpdateSession UpdateType = "session" // вход, выход или смена токена
)

// Update tells views what to re-read.
type Update struct {
	Type           UpdateType `json:"type"`
	Key            string     `json:"key,omitempty"`
	ConversationID int64      `json:"conversationId,omitempty"`
	State          string     `json:"state,omitempty"`
	Notice         *Notice    `json:"notice,omitempty"`
}
