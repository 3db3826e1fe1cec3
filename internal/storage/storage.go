// Package storage defines the session store used to track report status per
// chat session. Backends live in the subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
)

var (
	// ErrNotFound is returned when no live record exists for a session.
	ErrNotFound = errors.New("session not found")

	// ErrNotReady is returned when the backing table has not been provisioned.
	ErrNotReady = errors.New("session store not ready")
)

// SessionStore persists report records keyed by session ID.
type SessionStore interface {
	// InitSession creates or overwrites the record for sessionID with
	// reportGenerated=false.
	InitSession(ctx context.Context, sessionID string) error

	// GetSession returns the record for sessionID, ErrNotFound or ErrNotReady.
	GetSession(ctx context.Context, sessionID string) (*domain.ReportRecord, error)

	// MarkReportGenerated flags the session's report as written at the given time.
	MarkReportGenerated(ctx context.Context, sessionID string, at time.Time) error

	Close() error
}

// NewRecord builds a fresh record for sessionID. A zero ttl leaves ExpiresAt unset.
func NewRecord(sessionID string, now time.Time, ttl time.Duration) *domain.ReportRecord {
	rec := &domain.ReportRecord{
		SessionID: sessionID,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).Unix()
	}
	return rec
}

// Expired reports whether rec is past its TTL at now.
func Expired(rec *domain.ReportRecord, now time.Time) bool {
	return rec.ExpiresAt > 0 && now.Unix() >= rec.ExpiresAt
}
