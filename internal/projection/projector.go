package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/happypulse/pulse-backend/internal/eventlog"
)

// Reply is one entry in a post's append-only reply list.
type Reply struct {
	ID        string    `bson:"id" json:"id"`
	AuthorID  string    `bson:"author_id" json:"author_id"`
	Username  string    `bson:"username,omitempty" json:"username,omitempty"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	Seq       uint64    `bson:"seq" json:"seq"`
}

// Post is a materialized view over the event log. It is never mutated
// directly: likes and replies arrive as events and the projector folds them
// in, so concurrent like/unlike cannot lose updates.
type Post struct {
	ID        string    `bson:"_id" json:"id"`
	AuthorID  string    `bson:"author_id" json:"author_id"`
	Username  string    `bson:"username,omitempty" json:"username,omitempty"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	Likes     []string  `bson:"likes" json:"likes"` // liker user ids, set semantics
	Replies   []Reply   `bson:"replies" json:"replies"`
	Seq       uint64    `bson:"seq" json:"seq"` // last event folded into this view
}

// LikedBy reports set membership in the post's liker set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// Notification is the per-recipient projection of a notification_issued
// event. Only the Read flag is client-mutable, via a dedicated acknowledge
// operation.
type Notification struct {
	ID          string    `bson:"_id" json:"id"`
	RecipientID string    `bson:"recipient_id" json:"recipient_id"`
	Kind        string    `bson:"kind" json:"kind"` // "like" or "reply"
	SourceSeq   uint64    `bson:"source_seq" json:"source_seq"`
	PostID      string    `bson:"post_id,omitempty" json:"post_id,omitempty"`
	ActorID     string    `bson:"actor_id" json:"actor_id"`
	ActorName   string    `bson:"actor_name,omitempty" json:"actor_name,omitempty"`
	Message     string    `bson:"message" json:"message"`
	Read        bool      `bson:"read" json:"read"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Sink persists materialized views. Implementations must be idempotent so
// that log replay after a restart converges instead of duplicating.
type Sink interface {
	SavePost(ctx context.Context, post *Post) error
	SaveNotification(ctx context.Context, n *Notification) error
}

// Projector tails the log and maintains the Post views in memory, persisting
// through the sink. It also synthesizes notification_issued events for likes
// and replies that target another user's post, appending them to the log so
// notification creation is itself ordered, auditable, and replayable.
type Projector struct {
	log  *eventlog.Log
	sink Sink

	mu    sync.RWMutex
	posts map[string]*Post
	order []string // post ids, oldest first

	// Events at or below this sequence existed before this process started;
	// their notifications were synthesized by a previous run, so replay must
	// not append them again.
	replayBoundary uint64
}

func New(l *eventlog.Log, sink Sink) *Projector {
	return &Projector{
		log:            l,
		sink:           sink,
		posts:          make(map[string]*Post),
		replayBoundary: l.LastSeq(),
	}
}

// Run replays the log from the beginning to rebuild the views, then keeps
// tailing live appends until ctx is done. An unreadable range is fatal for
// the rebuild: it is returned, never skipped.
func (p *Projector) Run(ctx context.Context) error {
	cur := p.log.ReadFrom(1)
	for {
		ev, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("projection: %w", err)
		}
		if err := p.apply(ctx, ev); err != nil {
			log.Error().Err(err).Uint64("seq", ev.Seq).Msg("projection apply failed")
		}
	}
}

func (p *Projector) apply(ctx context.Context, ev *eventlog.Event) error {
	switch ev.Kind {
	case eventlog.KindPostCreated:
		return p.applyPostCreated(ctx, ev)
	case eventlog.KindLikeToggled:
		return p.applyLikeToggled(ctx, ev)
	case eventlog.KindReplyAdded:
		return p.applyReplyAdded(ctx, ev)
	case eventlog.KindNotificationIssued:
		return p.applyNotification(ctx, ev)
	}
	return nil
}

func (p *Projector) applyPostCreated(ctx context.Context, ev *eventlog.Event) error {
	p.mu.Lock()
	if _, exists := p.posts[ev.TargetID]; exists {
		p.mu.Unlock()
		return nil // already applied
	}
	post := &Post{
		ID:        ev.TargetID,
		AuthorID:  ev.AuthorID,
		Username:  ev.Payload.Username,
		Text:      ev.Payload.Text,
		CreatedAt: ev.CreatedAt,
		Likes:     []string{},
		Replies:   []Reply{},
		Seq:       ev.Seq,
	}
	p.posts[post.ID] = post
	p.order = append(p.order, post.ID)
	snapshot := *post
	p.mu.Unlock()

	return p.persistPost(ctx, &snapshot)
}

func (p *Projector) applyLikeToggled(ctx context.Context, ev *eventlog.Event) error {
	p.mu.Lock()
	post, ok := p.posts[ev.TargetID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("like for unknown post %s", ev.TargetID)
	}
	if ev.Seq <= post.Seq {
		p.mu.Unlock()
		return nil // replaying an event already folded in
	}

	// The event is the toggle, not the desired state.
	likedNow := false
	if post.LikedBy(ev.AuthorID) {
		kept := post.Likes[:0]
		for _, id := range post.Likes {
			if id != ev.AuthorID {
				kept = append(kept, id)
			}
		}
		post.Likes = kept
	} else {
		post.Likes = append(post.Likes, ev.AuthorID)
		likedNow = true
	}
	post.Seq = ev.Seq
	owner := post.AuthorID
	snapshot := clonePost(post)
	p.mu.Unlock()

	if err := p.persistPost(ctx, snapshot); err != nil {
		return err
	}
	if likedNow && owner != ev.AuthorID {
		p.issueNotification(ctx, ev, owner, "like", ev.Payload.Username+" liked your post")
	}
	return nil
}

func (p *Projector) applyReplyAdded(ctx context.Context, ev *eventlog.Event) error {
	p.mu.Lock()
	post, ok := p.posts[ev.TargetID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("reply for unknown post %s", ev.TargetID)
	}
	if ev.Seq <= post.Seq {
		p.mu.Unlock()
		return nil
	}
	post.Replies = append(post.Replies, Reply{
		ID:        ev.Payload.ReplyID,
		AuthorID:  ev.AuthorID,
		Username:  ev.Payload.Username,
		Text:      ev.Payload.Text,
		CreatedAt: ev.CreatedAt,
		Seq:       ev.Seq,
	})
	post.Seq = ev.Seq
	owner := post.AuthorID
	snapshot := clonePost(post)
	p.mu.Unlock()

	if err := p.persistPost(ctx, snapshot); err != nil {
		return err
	}
	if owner != ev.AuthorID {
		p.issueNotification(ctx, ev, owner, "reply", ev.Payload.Username+" replied to your post")
	}
	return nil
}

// issueNotification appends a notification_issued event caused by ev. Replayed
// events are skipped: their notifications are already in the log.
func (p *Projector) issueNotification(ctx context.Context, ev *eventlog.Event, recipient, kind, message string) {
	if ev.Seq <= p.replayBoundary {
		return
	}
	_, err := p.log.Append(ctx, &eventlog.Event{
		Kind:     eventlog.KindNotificationIssued,
		AuthorID: ev.AuthorID,
		TargetID: recipient,
		CausedBy: ev.Seq,
		Payload: eventlog.Payload{
			NotifKind: kind,
			PostID:    ev.TargetID,
			Username:  ev.Payload.Username,
			Text:      message,
		},
	})
	if err != nil {
		log.Error().Err(err).Uint64("caused_by", ev.Seq).Msg("failed to issue notification")
	}
}

func (p *Projector) applyNotification(ctx context.Context, ev *eventlog.Event) error {
	if p.sink == nil {
		return nil
	}
	n := &Notification{
		ID:          fmt.Sprintf("notif-%d", ev.Seq),
		RecipientID: ev.TargetID,
		Kind:        ev.Payload.NotifKind,
		SourceSeq:   ev.CausedBy,
		PostID:      ev.Payload.PostID,
		ActorID:     ev.AuthorID,
		ActorName:   ev.Payload.Username,
		Message:     ev.Payload.Text,
		CreatedAt:   ev.CreatedAt,
	}
	return p.sink.SaveNotification(ctx, n)
}

func (p *Projector) persistPost(ctx context.Context, post *Post) error {
	if p.sink == nil {
		return nil
	}
	return p.sink.SavePost(ctx, post)
}

func clonePost(post *Post) *Post {
	cp := *post
	cp.Likes = append([]string(nil), post.Likes...)
	cp.Replies = append([]Reply(nil), post.Replies...)
	return &cp
}

// Post returns a copy of one materialized post.
func (p *Projector) Post(id string) (*Post, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	post, ok := p.posts[id]
	if !ok {
		return nil, false
	}
	return clonePost(post), true
}

// RecentPosts returns up to limit posts, newest first.
func (p *Projector) RecentPosts(limit int) []*Post {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit <= 0 || limit > len(p.order) {
		limit = len(p.order)
	}
	out := make([]*Post, 0, limit)
	for i := len(p.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clonePost(p.posts[p.order[i]]))
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}
