package projection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happypulse/pulse-backend/internal/eventlog"
)

type memorySink struct {
	mu     sync.Mutex
	posts  map[string]*Post
	notifs map[string]*Notification
}

func newMemorySink() *memorySink {
	return &memorySink{posts: make(map[string]*Post), notifs: make(map[string]*Notification)}
}

func (s *memorySink) SavePost(_ context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
	return nil
}

func (s *memorySink) SaveNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert-with-setOnInsert semantics: replay must not clobber.
	if _, ok := s.notifs[n.ID]; ok {
		return nil
	}
	s.notifs[n.ID] = n
	return nil
}

func (s *memorySink) notifCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifs)
}

func newLog(t *testing.T) *eventlog.Log {
	t.Helper()
	l, err := eventlog.Open(context.Background(), eventlog.NewMemoryStore())
	require.NoError(t, err)
	return l
}

func mustAppend(t *testing.T, l *eventlog.Log, ev *eventlog.Event) *eventlog.Event {
	t.Helper()
	_, err := l.Append(context.Background(), ev)
	require.NoError(t, err)
	return ev
}

func createPost(t *testing.T, l *eventlog.Log, author, postID, text string) *eventlog.Event {
	return mustAppend(t, l, &eventlog.Event{
		Kind:     eventlog.KindPostCreated,
		AuthorID: author,
		TargetID: postID,
		Payload:  eventlog.Payload{Text: text, PostID: postID},
	})
}

// runProjector applies everything currently in the log and keeps tailing
// until the returned cancel func is called.
func runProjector(t *testing.T, p *Projector) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("projector: %v", err)
		}
	}()
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestPostCreatedMaterializesPost(t *testing.T) {
	l := newLog(t)
	sink := newMemorySink()
	p := New(l, sink)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "hello world")

	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })
	post, _ := p.Post("post-1")
	assert.Equal(t, "user-a", post.AuthorID)
	assert.Equal(t, "hello world", post.Text)
	assert.Empty(t, post.Likes)
	assert.Empty(t, post.Replies)
}

func TestLikeToggleSemantics(t *testing.T) {
	l := newLog(t)
	p := New(l, nil)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "hello")
	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })

	like := func() {
		mustAppend(t, l, &eventlog.Event{
			Kind:     eventlog.KindLikeToggled,
			AuthorID: "user-b",
			TargetID: "post-1",
		})
	}

	like()
	waitFor(t, func() bool { post, _ := p.Post("post-1"); return post.LikedBy("user-b") })

	// A second toggle event unlikes; it does not re-assert "liked".
	like()
	waitFor(t, func() bool { post, _ := p.Post("post-1"); return !post.LikedBy("user-b") })
}

func TestReplayingSameLikeEventIsIdempotent(t *testing.T) {
	l := newLog(t)
	p := New(l, nil)

	createPost(t, l, "user-a", "post-1", "hello")
	likeEv := mustAppend(t, l, &eventlog.Event{
		Kind:     eventlog.KindLikeToggled,
		AuthorID: "user-b",
		TargetID: "post-1",
	})

	cancel := runProjector(t, p)
	defer cancel()
	waitFor(t, func() bool { post, ok := p.Post("post-1"); return ok && post.LikedBy("user-b") })

	// Feed the same event through apply again, as an at-least-once delivery would.
	require.NoError(t, p.apply(context.Background(), likeEv))

	post, _ := p.Post("post-1")
	assert.Equal(t, []string{"user-b"}, post.Likes)
}

func TestRepliesAppendInOrder(t *testing.T) {
	l := newLog(t)
	p := New(l, nil)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "hello")
	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })

	for _, text := range []string{"first", "second", "third"} {
		mustAppend(t, l, &eventlog.Event{
			Kind:     eventlog.KindReplyAdded,
			AuthorID: "user-b",
			TargetID: "post-1",
			Payload:  eventlog.Payload{Text: text, ReplyID: "reply-" + text},
		})
	}

	waitFor(t, func() bool { post, _ := p.Post("post-1"); return len(post.Replies) == 3 })
	post, _ := p.Post("post-1")
	assert.Equal(t, "first", post.Replies[0].Text)
	assert.Equal(t, "second", post.Replies[1].Text)
	assert.Equal(t, "third", post.Replies[2].Text)
}

// A like by another user synthesizes a notification_issued event in the log,
// causally linked to the like.
func TestLikeIssuesNotificationForPostOwner(t *testing.T) {
	l := newLog(t)
	sink := newMemorySink()
	p := New(l, sink)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "hello")
	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })

	likeEv := mustAppend(t, l, &eventlog.Event{
		Kind:     eventlog.KindLikeToggled,
		AuthorID: "user-b",
		TargetID: "post-1",
		Payload:  eventlog.Payload{Username: "bee"},
	})

	waitFor(t, func() bool { return sink.notifCount() == 1 })

	// The synthesized event is in the log right after the like.
	cur := l.ReadFrom(likeEv.Seq + 1)
	ctx, cancelRead := context.WithTimeout(context.Background(), time.Second)
	defer cancelRead()
	notifEv, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, eventlog.KindNotificationIssued, notifEv.Kind)
	assert.Equal(t, likeEv.Seq, notifEv.CausedBy)
	assert.Equal(t, "user-a", notifEv.TargetID)
}

func TestSelfLikeDoesNotNotify(t *testing.T) {
	l := newLog(t)
	sink := newMemorySink()
	p := New(l, sink)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "hello")
	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })

	mustAppend(t, l, &eventlog.Event{
		Kind:     eventlog.KindLikeToggled,
		AuthorID: "user-a",
		TargetID: "post-1",
	})

	waitFor(t, func() bool { post, _ := p.Post("post-1"); return post.LikedBy("user-a") })
	assert.Equal(t, 0, sink.notifCount())
}

// Rebuilding from the log after a restart converges to the same state and
// does not append duplicate notification events.
func TestReplayConvergesWithoutDuplicateNotifications(t *testing.T) {
	l := newLog(t)
	sink := newMemorySink()
	p := New(l, sink)
	cancel := runProjector(t, p)

	createPost(t, l, "user-a", "post-1", "hello")
	waitFor(t, func() bool { _, ok := p.Post("post-1"); return ok })
	mustAppend(t, l, &eventlog.Event{
		Kind:     eventlog.KindLikeToggled,
		AuthorID: "user-b",
		TargetID: "post-1",
	})
	waitFor(t, func() bool { return sink.notifCount() == 1 })
	cancel()

	tail := l.LastSeq()

	// Fresh projector over the same log, as after a process restart.
	p2 := New(l, sink)
	cancel2 := runProjector(t, p2)
	defer cancel2()

	waitFor(t, func() bool { post, ok := p2.Post("post-1"); return ok && post.LikedBy("user-b") })
	time.Sleep(50 * time.Millisecond) // allow any (incorrect) synthesis to surface
	assert.Equal(t, tail, l.LastSeq(), "replay must not append new events")
	assert.Equal(t, 1, sink.notifCount())
}

func TestRecentPostsNewestFirst(t *testing.T) {
	l := newLog(t)
	p := New(l, nil)
	cancel := runProjector(t, p)
	defer cancel()

	createPost(t, l, "user-a", "post-1", "one")
	createPost(t, l, "user-a", "post-2", "two")
	createPost(t, l, "user-b", "post-3", "three")

	waitFor(t, func() bool { return len(p.RecentPosts(10)) == 3 })
	posts := p.RecentPosts(2)
	require.Len(t, posts, 2)
	assert.Equal(t, "post-3", posts[0].ID)
	assert.Equal(t, "post-2", posts[1].ID)
}
