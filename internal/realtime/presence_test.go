package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectTransitions(p *Presence) func() []Transition {
	var got []Transition
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case tr := <-p.Transitions():
				got = append(got, tr)
			case <-time.After(200 * time.Millisecond):
				return
			}
		}
	}()
	return func() []Transition {
		<-done
		return got
	}
}

func TestFirstSessionEmitsOnline(t *testing.T) {
	p := NewPresence(10 * time.Millisecond)
	now := time.Now().UTC()

	p.SessionOpened("user-a", now)
	p.SessionOpened("user-a", now) // second device, no second edge

	select {
	case tr := <-p.Transitions():
		assert.Equal(t, Transition{UserID: "user-a", Status: StatusOnline, At: now}, tr)
	case <-time.After(time.Second):
		t.Fatal("no online transition")
	}
	select {
	case tr := <-p.Transitions():
		t.Fatalf("unexpected transition: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOfflineDebouncedByGraceWindow(t *testing.T) {
	p := NewPresence(30 * time.Millisecond)
	now := time.Now().UTC()

	p.SessionOpened("user-a", now)
	<-p.Transitions() // online

	p.SessionClosed("user-a", now.Add(time.Second))

	// Within the grace window the user still reads as online.
	assert.Equal(t, StatusOnline, p.Status("user-a").Status)

	select {
	case tr := <-p.Transitions():
		assert.Equal(t, StatusOffline, tr.Status)
		assert.Equal(t, now.Add(time.Second), tr.At)
	case <-time.After(time.Second):
		t.Fatal("no offline transition after grace window")
	}
	assert.Equal(t, StatusOffline, p.Status("user-a").Status)
}

// A disconnect immediately followed by a reconnect (tab refresh) must not
// leak any offline transition.
func TestReconnectWithinGraceSuppressesOffline(t *testing.T) {
	p := NewPresence(50 * time.Millisecond)
	now := time.Now().UTC()

	p.SessionOpened("user-a", now)
	<-p.Transitions() // online

	p.SessionClosed("user-a", now.Add(time.Second))
	p.SessionOpened("user-a", now.Add(time.Second+10*time.Millisecond))

	fetch := collectTransitions(p)
	got := fetch()
	require.Empty(t, got, "no transitions expected across a flap")
	assert.Equal(t, StatusOnline, p.Status("user-a").Status)
}

func TestClosingOneOfTwoSessionsKeepsUserOnline(t *testing.T) {
	p := NewPresence(20 * time.Millisecond)
	now := time.Now().UTC()

	p.SessionOpened("user-a", now)
	<-p.Transitions()
	p.SessionOpened("user-a", now)

	p.SessionClosed("user-a", now.Add(time.Second))

	fetch := collectTransitions(p)
	require.Empty(t, fetch())
	assert.Equal(t, StatusOnline, p.Status("user-a").Status)
}

func TestSnapshotCoversSeenUsers(t *testing.T) {
	p := NewPresence(10 * time.Millisecond)
	now := time.Now().UTC()

	p.SessionOpened("user-a", now)
	<-p.Transitions()
	p.SessionOpened("user-b", now)
	<-p.Transitions()
	p.SessionClosed("user-b", now.Add(time.Second))
	select {
	case tr := <-p.Transitions():
		require.Equal(t, StatusOffline, tr.Status)
	case <-time.After(time.Second):
		t.Fatal("no offline transition")
	}

	states := make(map[string]PresenceState)
	for _, st := range p.Snapshot() {
		states[st.UserID] = st
	}
	require.Len(t, states, 2)
	assert.Equal(t, StatusOnline, states["user-a"].Status)
	assert.Equal(t, StatusOffline, states["user-b"].Status)
	assert.Equal(t, now.Add(time.Second), states["user-b"].LastSeenAt)
}
