package core

import (
	"context"
	"encoding/json"
	"time"
)

// Session is a durable, ordered message history shared by the personas of
// one conversation.
//
// Contract:
//   - Messages are append-only; insertion order is conversational order
//   - Updated and SizeKB change only through Append
//   - Clone performs a deep copy of the message slice for safe divergence
type Session struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
	Updated  time.Time `json:"updated"`
	SizeKB   float64   `json:"size_kb"`
}

// NewSession creates an empty session with the given ID.
func NewSession(id string) *Session {
	return &Session{ID: id, Messages: []Message{}, Updated: time.Now().UTC()}
}

// Append adds msg to the history and refreshes Updated and SizeKB. It returns
// the serialized history so stores can persist it without encoding twice.
func (s *Session) Append(msg Message) ([]byte, error) {
	s.Messages = append(s.Messages, msg)
	raw, err := json.Marshal(s.Messages)
	if err != nil {
		s.Messages = s.Messages[:len(s.Messages)-1]
		return nil, NewError(KindValidation, "session.append", err)
	}
	s.Updated = time.Now().UTC()
	s.SizeKB = float64(len(raw)) / 1024
	return raw, nil
}

// Page returns up to limit messages counted back from the newest end after
// skipping offset of the newest messages. Results are in chronological order.
// A non-positive limit returns everything that remains after the offset.
func (s *Session) Page(limit, offset int) []Message {
	return PageMessages(s.Messages, limit, offset)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	clone := &Session{ID: s.ID, Messages: make([]Message, len(s.Messages)), Updated: s.Updated, SizeKB: s.SizeKB}
	copy(clone.Messages, s.Messages)
	return clone
}

// PageMessages applies newest-first offset/limit pagination to an ordered
// history and returns the page in chronological order.
func PageMessages(msgs []Message, limit, offset int) []Message {
	if offset < 0 {
		offset = 0
	}
	end := len(msgs) - offset
	if end <= 0 {
		return []Message{}
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	page := make([]Message, end-start)
	copy(page, msgs[start:end])
	return page
}

// StoreStats summarises a ConversationStore for pruning and diagnostics.
type StoreStats struct {
	Sessions int
	SizeKB   float64
}

// ConversationStore persists session histories with bounded retention.
// Implementations must serialise appends per session and run the pruning
// policy after every successful append.
type ConversationStore interface {
	// Append adds msg to the session, creating it on first use.
	Append(ctx context.Context, sessionID string, msg Message) error
	// Recent returns a page of history in chronological order.
	Recent(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)
	// ContextString renders the history as a role-annotated transcript.
	ContextString(ctx context.Context, sessionID string) (string, error)
	// Stats reports session count and total stored size.
	Stats(ctx context.Context) (StoreStats, error)
	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
	// Close releases backing resources.
	Close() error
}
