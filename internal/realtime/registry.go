package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned by Heartbeat for unknown or already-expired
// sessions. The client must Connect again.
var ErrSessionNotFound = errors.New("session not found")

const (
	// DefaultSessionTTL bounds how long a session survives without a heartbeat.
	DefaultSessionTTL = 30 * time.Second
)

// Session is one live client connection, TTL-bounded by heartbeats.
// State is ephemeral: a process restart loses all sessions and clients
// are expected to reconnect.
type Session struct {
	ID              string
	UserID          string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	ExpiresAt       time.Time
}

// SessionObserver receives session lifecycle signals from the registry.
// The presence aggregator implements this.
type SessionObserver interface {
	SessionOpened(userID string, at time.Time)
	SessionClosed(userID string, at time.Time)
}

// Registry tracks live sessions per user. A user may own any number of
// concurrent sessions (multi-device). A background sweep removes sessions
// past their expiry; the sweep period is half the TTL so presence staleness
// is bounded.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl      time.Duration
	observer SessionObserver
	now      func() time.Time
}

func NewRegistry(ttl time.Duration, observer SessionObserver) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		observer: observer,
		now:      time.Now,
	}
}

// Connect creates a session for the user and notifies the observer.
func (r *Registry) Connect(userID string) *Session {
	now := r.now().UTC()
	s := &Session{
		ID:              uuid.New().String(),
		UserID:          userID,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
		ExpiresAt:       now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SessionOpened(userID, now)
	}
	return s
}

// Heartbeat refreshes the session's expiry. ExpiresAt only ever advances;
// a stale heartbeat never shortens a session's life.
func (r *Registry) Heartbeat(sessionID string) error {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if now.After(s.ExpiresAt) {
		// Expired but not yet swept. Treat it as gone; the sweep will
		// notify the observer.
		return ErrSessionNotFound
	}
	s.LastHeartbeatAt = now
	if exp := now.Add(r.ttl); exp.After(s.ExpiresAt) {
		s.ExpiresAt = exp
	}
	return nil
}

// Disconnect removes the session immediately. Idempotent.
func (r *Registry) Disconnect(sessionID string) {
	now := r.now().UTC()

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok && r.observer != nil {
		r.observer.SessionClosed(s.UserID, now)
	}
}

// Get returns a copy of the session, if it exists and has not expired.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || r.now().UTC().After(s.ExpiresAt) {
		return Session{}, false
	}
	return *s, true
}

// LiveSessionCount returns the number of non-expired sessions the user owns.
func (r *Registry) LiveSessionCount(userID string) int {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && !now.After(s.ExpiresAt) {
			n++
		}
	}
	return n
}

// Run sweeps expired sessions until ctx is done. The sweep may race with a
// heartbeat arriving at the same instant; last write wins on receipt order
// under the registry lock, which is safe because both are idempotent.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := r.now().UTC()

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		log.Debug().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("session expired")
		if r.observer != nil {
			r.observer.SessionClosed(s.UserID, now)
		}
	}
}

// Sweep runs one sweep pass immediately. Exposed for tests.
func (r *Registry) Sweep() {
	r.sweep()
}
