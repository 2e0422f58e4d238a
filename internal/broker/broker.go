// Package broker implements the in-process real-time core of Relay: fan-out
// of newly created messages to the users who participate in their chat, and
// short-lived typing presence with automatic expiry. Delivery is best-effort
// and live-only — events published while nobody is listening are gone, and
// consumers recover missed state by re-reading the store, never by replay.
package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relay/chat-app/internal/metrics"
	"github.com/relay/chat-app/internal/store"
)

// Store is the narrow persistence surface the broker needs. The postgres
// store satisfies it.
type Store interface {
	GetChat(ctx context.Context, chatID int64) (store.Chat, error)
	ChatParticipants(ctx context.Context, chatID int64) ([]store.User, error)
	InsertMessage(ctx context.Context, chatID, userID int64, content string) (store.Message, error)
}

// Config holds broker tuning parameters.
type Config struct {
	TypingWindow time.Duration // how long a typing entry lives without a refresh
	SweepPeriod  time.Duration // how often expired entries are evicted
	EventBuffer  int           // per-subscriber channel capacity
}

// DefaultConfig returns the reference timing: a one second liveness window
// swept every second. Keep the period at or below the window; a longer
// period lets entries outlive the window by up to a full sweep.
func DefaultConfig() Config {
	return Config{
		TypingWindow: time.Second,
		SweepPeriod:  time.Second,
		EventBuffer:  DefaultEventBuffer,
	}
}

// Broker owns the typing presence table, the two event topics, and the
// expiry sweeper. Construct one per process with New and drive the sweeper
// with Run.
type Broker struct {
	cfg    Config
	store  Store
	typing *TypingTable

	messageTopic *Topic[MessageEvent]
	typingTopic  *Topic[TypingEvent]
}

// New creates a broker backed by the given store. Zero config fields fall
// back to DefaultConfig values.
func New(st Store, cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = def.TypingWindow
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = def.SweepPeriod
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	return &Broker{
		cfg:          cfg,
		store:        st,
		typing:       NewTypingTable(),
		messageTopic: NewTopic[MessageEvent]("message", cfg.EventBuffer),
		typingTopic:  NewTopic[TypingEvent]("typing", cfg.EventBuffer),
	}
}

// SubmitMessage persists a message and publishes it to the live streams of
// every user who participates in the chat right now. Returns a wrapped
// store.ErrNotFound when the chat does not exist; on any error nothing is
// published. Publishing after a successful insert is best-effort and not
// atomic with it — a missed notification is recovered by re-reading the
// store.
func (b *Broker) SubmitMessage(ctx context.Context, chatID, userID int64, content string) (store.Message, error) {
	chat, err := b.store.GetChat(ctx, chatID)
	if err != nil {
		return store.Message{}, fmt.Errorf("broker: submit message: %w", err)
	}

	msg, err := b.store.InsertMessage(ctx, chatID, userID, content)
	if err != nil {
		return store.Message{}, fmt.Errorf("broker: submit message: %w", err)
	}

	participants, err := b.store.ChatParticipants(ctx, chatID)
	if err != nil {
		return store.Message{}, fmt.Errorf("broker: submit message: %w", err)
	}

	recipients := make([]int64, len(participants))
	for i, u := range participants {
		recipients[i] = u.ID
	}

	b.messageTopic.Publish(MessageEvent{
		Chat:         chat,
		Message:      msg,
		Participants: participants,
		RecipientIDs: recipients,
	})
	metrics.MessagesTotal.Inc()

	return msg, nil
}

// SetTyping records or clears a user's typing flag and publishes the chat's
// full resulting typer set. It publishes even when the set did not change —
// streams deduplicate at the consumer edge, which keeps the "did it change"
// logic in exactly one place.
func (b *Broker) SetTyping(chatID, userID int64, typing bool) {
	set := b.typing.Set(chatID, userID, typing)
	b.typingTopic.Publish(TypingEvent{ChatID: chatID, UserIDs: set})
	metrics.TypingEntries.Set(float64(b.typing.Size()))
}

// Typers returns the chat's current typer set, sorted ascending. Consumers
// use this for the initial read before attaching a typing stream.
func (b *Broker) Typers(chatID int64) []int64 {
	return b.typing.Typers(chatID)
}

// SubscribeMessages opens a live message stream for the user. The stream
// observes only events published after this call; close it when the
// consumer disconnects.
func (b *Broker) SubscribeMessages(userID int64) *MessageStream {
	return &MessageStream{
		userID: userID,
		sub:    b.messageTopic.Subscribe(),
	}
}

// SubscribeTyping opens a live typing stream for the chat. The stream's
// first matching event is never suppressed, regardless of what other
// streams have already seen.
func (b *Broker) SubscribeTyping(chatID int64) *TypingStream {
	return &TypingStream{
		chatID: chatID,
		sub:    b.typingTopic.Subscribe(),
	}
}

// Run drives the expiry sweeper until ctx is cancelled. Each tick evicts
// typing entries that went unrefreshed for longer than the window and
// publishes an update for exactly the chats whose set changed, so event
// volume is bounded by changes, not by the number of chats.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepPeriod)
	defer ticker.Stop()

	log.Printf("[broker] sweeper running (window=%s period=%s)", b.cfg.TypingWindow, b.cfg.SweepPeriod)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[broker] sweeper stopped")
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Broker) sweep() {
	for chatID, set := range b.typing.Sweep(b.cfg.TypingWindow) {
		b.typingTopic.Publish(TypingEvent{ChatID: chatID, UserIDs: set})
	}
	metrics.TypingEntries.Set(float64(b.typing.Size()))
}
