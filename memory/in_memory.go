package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
)

// InMemoryStore is a volatile ConversationStore keeping sessions in a process
// local map. It applies the same retention policy as SQLiteStore and is best
// suited for tests or ephemeral runs. Appends are serialised by a single
// store-wide lock, so no update is ever lost.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	opts     Options
	logger   logging.Logger
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{sessions: make(map[string]*core.Session), opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Append adds msg to the session (creating it on first use) then prunes.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return core.Errorf(core.KindValidation, "memory.append", "session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID)
	}
	next := sess.Clone()
	if _, err := next.Append(msg); err != nil {
		return err
	}
	s.sessions[sessionID] = next

	s.pruneLocked(sessionID)
	return nil
}

// pruneLocked applies retention; caller must hold the write lock.
func (s *InMemoryStore) pruneLocked(current string) {
	infos := make([]sessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		infos = append(infos, sessionInfo{ID: id, Updated: sess.Updated, SizeKB: sess.SizeKB})
	}
	p := s.opts.plan(infos, current)
	for _, id := range p.all() {
		delete(s.sessions, id)
	}
	logPlan(s.logger, p)
}

// Recent returns a page of the session's history in chronological order.
func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit, offset int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []core.Message{}, nil
	}
	return sess.Page(limit, offset), nil
}

// ContextString renders the full history as a transcript.
func (s *InMemoryStore) ContextString(ctx context.Context, sessionID string) (string, error) {
	msgs, err := s.Recent(ctx, sessionID, 0, 0)
	if err != nil {
		return "", err
	}
	return RenderTranscript(msgs), nil
}

// Session returns a clone of the stored session.
func (s *InMemoryStore) Session(sessionID string) (*core.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Stats reports session count and total size.
func (s *InMemoryStore) Stats(context.Context) (core.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := core.StoreStats{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		st.SizeKB += sess.SizeKB
	}
	return st, nil
}

// Delete removes a session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
