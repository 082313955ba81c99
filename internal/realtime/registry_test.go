package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures session lifecycle signals.
type recordingObserver struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (o *recordingObserver) SessionOpened(userID string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, userID)
}

func (o *recordingObserver) SessionClosed(userID string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, userID)
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened), len(o.closed)
}

// fakeClock lets tests advance time explicitly.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestConnectHeartbeatDisconnect(t *testing.T) {
	obs := &recordingObserver{}
	clock := newFakeClock()
	r := NewRegistry(30*time.Second, obs)
	r.now = clock.Now

	s := r.Connect("user-a")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, r.LiveSessionCount("user-a"))

	clock.Advance(10 * time.Second)
	require.NoError(t, r.Heartbeat(s.ID))
	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(30*time.Second), got.ExpiresAt)

	r.Disconnect(s.ID)
	assert.Equal(t, 0, r.LiveSessionCount("user-a"))

	// Disconnecting twice is a no-op.
	r.Disconnect(s.ID)
	opened, closed := obs.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestHeartbeatUnknownOrExpiredSession(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(30*time.Second, nil)
	r.now = clock.Now

	assert.ErrorIs(t, r.Heartbeat("nope"), ErrSessionNotFound)

	s := r.Connect("user-a")
	clock.Advance(31 * time.Second)
	assert.ErrorIs(t, r.Heartbeat(s.ID), ErrSessionNotFound)
}

func TestExpiresAtNeverDecreases(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(30*time.Second, nil)
	r.now = clock.Now

	s := r.Connect("user-a")
	first, _ := r.Get(s.ID)

	// A heartbeat at the same instant cannot move expiry backwards.
	require.NoError(t, r.Heartbeat(s.ID))
	second, _ := r.Get(s.ID)
	assert.False(t, second.ExpiresAt.Before(first.ExpiresAt))

	clock.Advance(5 * time.Second)
	require.NoError(t, r.Heartbeat(s.ID))
	third, _ := r.Get(s.ID)
	assert.True(t, third.ExpiresAt.After(second.ExpiresAt))
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	obs := &recordingObserver{}
	clock := newFakeClock()
	r := NewRegistry(30*time.Second, obs)
	r.now = clock.Now

	s1 := r.Connect("user-a")
	clock.Advance(20 * time.Second)
	s2 := r.Connect("user-a") // second device

	clock.Advance(11 * time.Second) // s1 is 31s old, s2 only 11s
	r.Sweep()

	_, ok := r.Get(s1.ID)
	assert.False(t, ok)
	_, ok = r.Get(s2.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, r.LiveSessionCount("user-a"))

	_, closed := obs.counts()
	assert.Equal(t, 1, closed)

	// Sweeping again does not re-notify.
	r.Sweep()
	_, closed = obs.counts()
	assert.Equal(t, 1, closed)
}

// Presence status must equal "at least one non-expired session" across any
// sequence of connect/heartbeat/disconnect.
func TestOnlineIffLiveSession(t *testing.T) {
	clock := newFakeClock()
	p := NewPresence(time.Millisecond)
	r := NewRegistry(30*time.Second, p)
	r.now = clock.Now
	go drainTransitions(p)

	assert.Equal(t, StatusOffline, p.Status("user-a").Status)

	s1 := r.Connect("user-a")
	assert.Equal(t, StatusOnline, p.Status("user-a").Status)

	s2 := r.Connect("user-a")
	r.Disconnect(s1.ID)
	// Still one live session.
	assert.Equal(t, StatusOnline, p.Status("user-a").Status)

	r.Disconnect(s2.ID)
	waitForStatus(t, p, "user-a", StatusOffline)
}

// Scenario: user connects with a 30s TTL, never heartbeats; after 31s the
// aggregator emits offline exactly once.
func TestExpiryEmitsOfflineExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	p := NewPresence(time.Millisecond)
	r := NewRegistry(30*time.Second, p)
	r.now = clock.Now

	r.Connect("user-a")
	tr := <-p.Transitions()
	assert.Equal(t, StatusOnline, tr.Status)

	clock.Advance(31 * time.Second)
	r.Sweep()
	r.Sweep() // a second pass must not produce another edge

	tr = <-p.Transitions()
	assert.Equal(t, StatusOffline, tr.Status)
	assert.Equal(t, "user-a", tr.UserID)

	select {
	case extra := <-p.Transitions():
		t.Fatalf("unexpected extra transition: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func drainTransitions(p *Presence) {
	for range p.Transitions() {
	}
}

func waitForStatus(t *testing.T, p *Presence, userID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Status(userID).Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never reached status %s", userID, want)
}
