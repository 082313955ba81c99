package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(context.Background(), NewMemoryStore())
	require.NoError(t, err)
	return l
}

func postEvent(author, postID, text string) *Event {
	return &Event{
		Kind:     KindPostCreated,
		AuthorID: author,
		TargetID: postID,
		Payload:  Payload{Text: text, PostID: postID},
	}
}

func TestAppendAssignsGaplessSequence(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seq, err := l.Append(ctx, postEvent("user-a", "post-1", "hello"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, uint64(5), l.LastSeq())
}

func TestAppendRejectsMalformedEvents(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		event *Event
		field string
	}{
		{"missing author", &Event{Kind: KindPostCreated, TargetID: "p"}, "author_id"},
		{"post without text", &Event{Kind: KindPostCreated, AuthorID: "a", TargetID: "p"}, "payload.text"},
		{"like without target", &Event{Kind: KindLikeToggled, AuthorID: "a"}, "target_id"},
		{"reply without text", &Event{Kind: KindReplyAdded, AuthorID: "a", TargetID: "p"}, "payload.text"},
		{"notification without cause", &Event{Kind: KindNotificationIssued, AuthorID: "a", TargetID: "u", Payload: Payload{NotifKind: "like"}}, "caused_by"},
		{"unknown kind", &Event{Kind: "bogus", AuthorID: "a"}, "kind"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Append(ctx, tc.event)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	// Nothing entered the log.
	assert.Equal(t, uint64(0), l.LastSeq())
}

func TestReadFromReplaysInOrder(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, postEvent("user-a", "post-1", "hello"))
		require.NoError(t, err)
	}

	cur := l.ReadFrom(1)
	for want := uint64(1); want <= 10; want++ {
		ev, err := cur.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Seq)
	}
}

func TestCursorTailsLiveAppends(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cur := l.ReadFrom(1)

	got := make(chan uint64, 3)
	go func() {
		for i := 0; i < 3; i++ {
			ev, err := cur.Next(ctx)
			if err != nil {
				close(got)
				return
			}
			got <- ev.Seq
		}
		close(got)
	}()

	// Give the reader a chance to park on the tail signal.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err := l.Append(context.Background(), postEvent("user-a", "post-1", "live"))
		require.NoError(t, err)
	}

	var seqs []uint64
	for s := range got {
		seqs = append(seqs, s)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestCursorResumesWithoutGapsOrDuplicates(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.Append(ctx, postEvent("user-a", "post-1", "hello"))
		require.NoError(t, err)
	}

	cur := l.ReadFrom(1)
	var last uint64
	for i := 0; i < 3; i++ {
		ev, err := cur.Next(ctx)
		require.NoError(t, err)
		last = ev.Seq
	}
	require.Equal(t, uint64(3), last)

	// Simulate a reconnect: a fresh cursor from last+1 sees exactly 4..6.
	resumed := l.ReadFrom(last + 1)
	for want := uint64(4); want <= 6; want++ {
		ev, err := resumed.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Seq)
	}
}

func TestOpenRecoversTailFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	l, err := Open(ctx, store)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := l.Append(ctx, postEvent("user-a", "post-1", "hello"))
		require.NoError(t, err)
	}

	reopened, err := Open(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reopened.LastSeq())

	seq, err := reopened.Append(ctx, postEvent("user-b", "post-2", "after restart"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
}

func TestCursorNextHonorsContextCancel(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())

	cur := l.ReadFrom(1)
	done := make(chan error, 1)
	go func() {
		_, err := cur.Next(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cursor did not observe cancellation")
	}
}
