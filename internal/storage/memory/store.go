package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
)

// Store is an in-memory implementation of SessionStore
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ReportRecord
	ttl      time.Duration
	now      func() time.Time
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a new in-memory store. Records expire after ttl; zero keeps
// them forever.
func New(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*domain.ReportRecord),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Store) InitSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = storage.NewRecord(sessionID, s.now(), s.ttl)
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.ReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if storage.Expired(rec, s.now()) {
		delete(s.sessions, sessionID)
		return nil, storage.ErrNotFound
	}

	copied := *rec
	return &copied, nil
}

func (s *Store) MarkReportGenerated(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[sessionID]
	if !exists || storage.Expired(rec, s.now()) {
		return storage.ErrNotFound
	}

	rec.ReportGenerated = true
	rec.LastReportTime = at.Unix()
	rec.UpdatedAt = s.now().Unix()
	return nil
}

func (s *Store) Close() error {
	return nil
}
