package broker

import (
	"slices"
	"sync"
	"time"
)

// TypingTable tracks which users are currently typing in which chats, with
// the time of their last typing ping. It is goroutine-safe. Entries expire
// via Sweep once they go unrefreshed for longer than the liveness window; a
// ping while still active bumps the timestamp, extending the entry's life.
type TypingTable struct {
	mu    sync.Mutex
	chats map[int64]map[int64]time.Time // chatID -> userID -> last ping
	now   func() time.Time              // swappable clock for tests
}

// NewTypingTable creates an empty typing table.
func NewTypingTable() *TypingTable {
	return &TypingTable{
		chats: make(map[int64]map[int64]time.Time),
		now:   time.Now,
	}
}

// Set inserts or refreshes the (chat, user) entry when typing is true, and
// removes it when false (a no-op if absent). It returns the chat's resulting
// typer set, sorted ascending. Repeated calls are idempotent.
func (t *TypingTable) Set(chatID, userID int64, typing bool) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.chats[chatID]
	if typing {
		if users == nil {
			users = make(map[int64]time.Time)
			t.chats[chatID] = users
		}
		users[userID] = t.now()
	} else if users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.chats, chatID)
		}
	}
	return typerSet(users)
}

// Typers returns a sorted snapshot of the users currently typing in the
// chat. A chat with no entries yields an empty slice, not an error.
func (t *TypingTable) Typers(chatID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return typerSet(t.chats[chatID])
}

// Sweep evicts every entry whose last ping is older than window and returns
// the post-eviction typer set for exactly the chats that changed. Chats left
// with no entries are removed from the table. The scan holds the table lock,
// so a refresh that lands mid-sweep cannot be evicted by the same sweep.
func (t *TypingTable) Sweep(window time.Duration) map[int64][]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-window)
	var changed map[int64][]int64

	for chatID, users := range t.chats {
		evicted := false
		for userID, last := range users {
			if last.Before(cutoff) {
				delete(users, userID)
				evicted = true
			}
		}
		if !evicted {
			continue
		}
		if changed == nil {
			changed = make(map[int64][]int64)
		}
		changed[chatID] = typerSet(users)
		if len(users) == 0 {
			delete(t.chats, chatID)
		}
	}
	return changed
}

// Size returns the total number of typing entries across all chats.
func (t *TypingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, users := range t.chats {
		n += len(users)
	}
	return n
}

// typerSet flattens a chat's entry map into a sorted user-id slice.
// Callers must hold the table lock.
func typerSet(users map[int64]time.Time) []int64 {
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
