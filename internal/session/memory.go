package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// MemoryStore is an in-process Store for tests and embedded single-node
// use. Sessions are deep-copied on the way in and out so callers cannot
// mutate stored state behind the store's back.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[Key]*schema.Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[Key]*schema.Session)}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*schema.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func (s *MemoryStore) Create(ctx context.Context, sess *schema.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	key := Key{TenantID: sess.TenantID, FlowID: sess.FlowID, Correspondent: sess.Correspondent}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "session already exists for %s/%s/%s",
			key.TenantID, key.FlowID, key.Correspondent)
	}
	s.sessions[key] = copySession(sess)
	return nil
}

func (s *MemoryStore) Patch(ctx context.Context, key Key, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session not found for %s/%s/%s",
			key.TenantID, key.FlowID, key.Correspondent)
	}
	applyPatch(sess, patch)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) ListExpiredDisable(ctx context.Context, now time.Time) ([]*schema.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Session
	for _, sess := range s.sessions {
		if sess.DisableChat != nil && !sess.DisableChat.Timestamp.After(now) {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

// copySession deep-copies via JSON; session state is JSON-shaped by
// construction.
func copySession(sess *schema.Session) *schema.Session {
	b, err := json.Marshal(sess)
	if err != nil {
		clone := *sess
		return &clone
	}
	var out schema.Session
	if err := json.Unmarshal(b, &out); err != nil {
		clone := *sess
		return &clone
	}
	return &out
}
