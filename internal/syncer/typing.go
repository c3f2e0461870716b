package syncer

import (
	"sync"

	"github.com/messenger-client/internal/model"
)

// typingBoard holds who is typing where. It is never persisted and never
// touches the cache.
type typingBoard struct {
	mu    sync.RWMutex
	lists map[int64][]*model.User
}

func newTypingBoard() *typingBoard {
	return &typingBoard{lists: make(map[int64][]*model.User)}
}

// replace swaps the whole list for a conversation.
func (b *typingBoard) replace(conversationID int64, users []*model.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(users) == 0 {
		delete(b.lists, conversationID)
		return
	}
	list := make([]*model.User, 0, len(users))
	for _, u := range users {
		if u != nil {
			list = append(list, u)
		}
	}
	b.lists[conversationID] = list
}

// get returns the list without excludeID (the current user).
func (b *typingBoard) get(conversationID, excludeID int64) []*model.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.User, 0, len(b.lists[conversationID]))
	for _, u := range b.lists[conversationID] {
		if u.ID != excludeID {
			out = append(out, u)
		}
	}
	return out
}

func (b *typingBoard) drop(conversationID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.lists[conversationID]
	delete(b.lists, conversationID)
	return ok
}

func (b *typingBoard) clear() {
	b.mu.Lock()
	b.lists = make(map[int64][]*model.User)
	b.mu.Unlock()
}
