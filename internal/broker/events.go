package broker

import "github.com/relay/chat-app/internal/store"

// MessageEvent is the ephemeral broadcast record published after a message is
// persisted. RecipientIDs is the chat's participant set at the moment of
// send; it exists only to drive fan-out filtering and is never stored,
// recomputed, or replayed.
type MessageEvent struct {
	Chat         store.Chat    `json:"chat"`
	Message      store.Message `json:"message"`
	Participants []store.User  `json:"participants"`
	RecipientIDs []int64       `json:"recipient_ids"`
}

// TypingEvent carries the complete current typing set for a chat after a
// change. UserIDs is sorted ascending so two events with the same set
// compare equal element-wise.
type TypingEvent struct {
	ChatID  int64   `json:"chat_id"`
	UserIDs []int64 `json:"user_ids"`
}
