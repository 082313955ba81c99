package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is a user's derived presence.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultOfflineGrace is how long a user must stay without sessions before
// an offline transition is emitted. Covers tab refreshes and quick reconnects.
const DefaultOfflineGrace = 2 * time.Second

// Transition is an externally observed presence edge. Exactly one is emitted
// per edge.
type Transition struct {
	UserID string    `json:"user_id"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// PresenceState is the derived online/offline + last-seen view of one user.
// It is a pure function of the live session set, never stored independently.
type PresenceState struct {
	UserID     string    `json:"user_id"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Presence aggregates session lifecycle signals into per-user presence.
// A user is online iff they own at least one live session. Offline
// transitions are debounced by the grace window: a reconnect within the
// window cancels the pending emission so flapping never leaks out.
type Presence struct {
	mu       sync.Mutex
	counts   map[string]int
	lastSeen map[string]time.Time
	pending  map[string]*time.Timer // scheduled offline emissions

	grace time.Duration
	out   chan Transition
	now   func() time.Time
}

func NewPresence(grace time.Duration) *Presence {
	if grace <= 0 {
		grace = DefaultOfflineGrace
	}
	return &Presence{
		counts:   make(map[string]int),
		lastSeen: make(map[string]time.Time),
		pending:  make(map[string]*time.Timer),
		grace:    grace,
		out:      make(chan Transition, 256),
		now:      time.Now,
	}
}

// Transitions is the stream of presence edges. The dispatcher must drain it.
func (p *Presence) Transitions() <-chan Transition {
	return p.out
}

// SessionOpened implements SessionObserver.
func (p *Presence) SessionOpened(userID string, at time.Time) {
	p.mu.Lock()
	p.counts[userID]++
	p.lastSeen[userID] = at

	if t, ok := p.pending[userID]; ok {
		// Reconnected within the grace window: the user never went
		// offline externally, so no transition either way.
		t.Stop()
		delete(p.pending, userID)
		p.mu.Unlock()
		return
	}

	first := p.counts[userID] == 1
	p.mu.Unlock()

	if first {
		p.emit(Transition{UserID: userID, Status: StatusOnline, At: at})
	}
}

// SessionClosed implements SessionObserver.
func (p *Presence) SessionClosed(userID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.counts[userID] > 0 {
		p.counts[userID]--
	}
	p.lastSeen[userID] = at
	if p.counts[userID] != 0 {
		return
	}
	if _, ok := p.pending[userID]; ok {
		return
	}
	p.pending[userID] = time.AfterFunc(p.grace, func() {
		p.emitOffline(userID)
	})
}

func (p *Presence) emitOffline(userID string) {
	p.mu.Lock()
	if _, ok := p.pending[userID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)
	if p.counts[userID] > 0 {
		p.mu.Unlock()
		return
	}
	at := p.lastSeen[userID]
	p.mu.Unlock()

	p.emit(Transition{UserID: userID, Status: StatusOffline, At: at})
}

func (p *Presence) emit(tr Transition) {
	select {
	case p.out <- tr:
	default:
		// The dispatcher has stalled badly; block rather than drop an edge.
		log.Warn().Str("user_id", tr.UserID).Msg("presence transition queue full")
		p.out <- tr
	}
}

// Status returns the derived state for one user. A user inside the offline
// grace window is still reported online.
func (p *Presence) Status(userID string) PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(userID)
}

func (p *Presence) stateLocked(userID string) PresenceState {
	st := PresenceState{UserID: userID, Status: StatusOffline, LastSeenAt: p.lastSeen[userID]}
	if p.counts[userID] > 0 {
		st.Status = StatusOnline
	} else if _, graced := p.pending[userID]; graced {
		st.Status = StatusOnline
	}
	return st
}

// Snapshot returns the presence of every user the aggregator has seen.
func (p *Presence) Snapshot() []PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PresenceState, 0, len(p.lastSeen))
	for userID := range p.lastSeen {
		out = append(out, p.stateLocked(userID))
	}
	return out
}
