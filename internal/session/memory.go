package session

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// MemoryStore 單機記憶體 session 儲存
type MemoryStore struct {
	lifetime Lifetime
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore 建立記憶體 session 儲存
func NewMemoryStore(lifetime Lifetime) *MemoryStore {
	return &MemoryStore{
		lifetime: lifetime,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// WithClock 替換時間來源（測試用）
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Create 建立 session
func (s *MemoryStore) Create(_ context.Context, username, role string) (*Session, error) {
	if username == "" {
		return nil, apperrors.Invalid("username is required")
	}

	now := s.now()
	sess := &Session{
		ID:        newID(),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		LastSeen:  now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	cp := *sess
	return &cp, nil
}

// Get 取得 session 並延長閒置期限
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}

	now := s.now()
	if s.lifetime.expired(sess, now) {
		delete(s.sessions, id)
		return nil, apperrors.ErrSessionNotFound
	}

	sess.LastSeen = now
	cp := *sess
	return &cp, nil
}

// Delete 刪除 session（冪等）
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Sweep 清除過期 session
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.lifetime.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len 目前 session 數量
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
