package broker

import (
	"context"
	"errors"
	"slices"
)

// ErrStreamClosed is returned by Next after a stream has been closed. A
// closed stream cannot be resumed; open a fresh one to receive from "now".
var ErrStreamClosed = errors.New("broker: stream closed")

// MessageStream is a live, filtered view over the message topic: it yields
// every message event whose recipient set contains the stream's user and
// silently drops the rest. The stream performs no backfill — consumers read
// current state from the store once, then attach a stream for updates.
type MessageStream struct {
	userID int64
	sub    *Subscription[MessageEvent]
}

// Next blocks until an event addressed to the stream's user arrives, the
// context is cancelled, or the stream is closed.
func (s *MessageStream) Next(ctx context.Context) (MessageEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return MessageEvent{}, ctx.Err()
		case ev, ok := <-s.sub.C():
			if !ok {
				return MessageEvent{}, ErrStreamClosed
			}
			if slices.Contains(ev.RecipientIDs, s.userID) {
				return ev, nil
			}
		}
	}
}

// Close detaches the stream from the bus. After Close returns no further
// events are delivered and the bus holds no reference to the stream.
func (s *MessageStream) Close() {
	s.sub.Close()
}

// TypingStream is a live view over the typing topic for a single chat. It
// suppresses an event whose typer set matches the set this stream last
// emitted. The dedup state is local to the stream instance: two streams
// watching the same chat track their last-emitted sets independently, so a
// late joiner's first event is never suppressed.
type TypingStream struct {
	chatID int64
	sub    *Subscription[TypingEvent]
	last   []int64
	seen   bool
}

// Next blocks until the chat's typer set changes (relative to what this
// stream last emitted), the context is cancelled, or the stream is closed.
func (s *TypingStream) Next(ctx context.Context) (TypingEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return TypingEvent{}, ctx.Err()
		case ev, ok := <-s.sub.C():
			if !ok {
				return TypingEvent{}, ErrStreamClosed
			}
			if ev.ChatID != s.chatID {
				continue
			}
			// UserIDs is sorted at publish time, so element-wise equality is
			// set equality.
			if s.seen && slices.Equal(ev.UserIDs, s.last) {
				continue
			}
			s.seen = true
			s.last = ev.UserIDs
			return ev, nil
		}
	}
}

// Close detaches the stream from the bus.
func (s *TypingStream) Close() {
	s.sub.Close()
}
