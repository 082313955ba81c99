package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/happypulse/pulse-backend/internal/eventlog"
)

// ErrOverflowed marks a subscription whose bounded queue filled up. The
// client must resubscribe with a cursor; missed events are replayed from the
// log, so nothing is lost.
var ErrOverflowed = errors.New("subscription overflowed")

// DefaultQueueSize bounds each session's outbound push queue.
const DefaultQueueSize = 64

// SubscriptionState is the per-subscription delivery state machine:
// Pending -> Streaming -> {Disconnected, Overflowed}.
type SubscriptionState string

const (
	StatePending      SubscriptionState = "pending"
	StateStreaming    SubscriptionState = "streaming"
	StateDisconnected SubscriptionState = "disconnected"
	StateOverflowed   SubscriptionState = "overflowed"
)

// Push is one message delivered to a subscribed session: either a feed event
// (in sequence order) or a presence transition.
type Push struct {
	Event    *eventlog.Event
	Presence *Transition
}

// Subscription is one session's live delivery stream.
type Subscription struct {
	SessionID string
	UserID    string

	mu     sync.Mutex
	state  SubscriptionState
	out    chan Push
	cancel context.CancelFunc
	d      *Dispatcher
}

// C is the outbound push channel. It is closed when the subscription leaves
// the Streaming state; check State to distinguish Overflowed from a normal
// close.
func (s *Subscription) C() <-chan Push {
	return s.out
}

func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the subscription down and releases its queue. Idempotent.
// After Close no delivery is attempted; before it, delivery is at-least-once.
func (s *Subscription) Close() {
	s.terminate(StateDisconnected)
}

func (s *Subscription) terminate(final SubscriptionState) {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateOverflowed {
		s.mu.Unlock()
		return
	}
	s.state = final
	s.mu.Unlock()

	s.cancel()
	s.d.remove(s)
	close(s.out)
}

// offer enqueues without blocking. A full queue overflows the subscription:
// the live stream is dropped rather than stalling the dispatcher.
func (s *Subscription) offer(p Push) bool {
	s.mu.Lock()
	if s.state != StateStreaming && s.state != StatePending {
		s.mu.Unlock()
		return false
	}
	s.state = StateStreaming
	select {
	case s.out <- p:
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		log.Warn().
			Str("session_id", s.SessionID).
			Str("user_id", s.UserID).
			Msg("subscriber queue full, dropping live stream")
		s.terminate(StateOverflowed)
		return false
	}
}

// wants filters the global feed down to this session's interest set:
// everything public, plus notifications addressed to the session's user.
func (s *Subscription) wants(ev *eventlog.Event) bool {
	if ev.Kind == eventlog.KindNotificationIssued {
		return ev.TargetID == s.UserID
	}
	return true
}

// Dispatcher fans out feed events and presence transitions to subscribed
// sessions. Each subscription pumps its own log cursor, so slow consumers
// never reorder or block anyone else.
type Dispatcher struct {
	log      *eventlog.Log
	presence *Presence

	mu        sync.Mutex
	subs      map[string]*Subscription // keyed by session id
	queueSize int
}

func NewDispatcher(l *eventlog.Log, p *Presence, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		log:       l,
		presence:  p,
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe begins delivery for a session. A cursor of 0 means "from now":
// only events appended after the subscription starts are delivered. A
// non-zero cursor replays from that sequence (inclusive), which is how a
// client recovers after a disconnect or an overflow. Delivery is
// at-least-once; clients treat duplicate sequence numbers as no-ops.
func (d *Dispatcher) Subscribe(sessionID, userID string, cursor uint64) *Subscription {
	if cursor == 0 {
		cursor = d.log.LastSeq() + 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		SessionID: sessionID,
		UserID:    userID,
		state:     StatePending,
		out:       make(chan Push, d.queueSize),
		cancel:    cancel,
		d:         d,
	}

	d.mu.Lock()
	if prev, ok := d.subs[sessionID]; ok {
		// Resubscribe replaces the previous stream (e.g. after overflow).
		go prev.Close()
	}
	d.subs[sessionID] = sub
	d.mu.Unlock()

	go sub.pump(ctx, d.log.ReadFrom(cursor))
	return sub
}

func (s *Subscription) pump(ctx context.Context, cur *eventlog.Cursor) {
	for {
		ev, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// Unreadable log range is a degraded-service condition,
				// not something to skip silently.
				log.Error().Err(err).Str("session_id", s.SessionID).Msg("event cursor failed")
				s.terminate(StateDisconnected)
			}
			return
		}
		if !s.wants(ev) {
			continue
		}
		if !s.offer(Push{Event: ev}) {
			return
		}
	}
}

func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	if cur, ok := d.subs[s.SessionID]; ok && cur == s {
		delete(d.subs, s.SessionID)
	}
	d.mu.Unlock()
}

// Run drains presence transitions and fans them out to every live
// subscription until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-d.presence.Transitions():
			d.mu.Lock()
			targets := make([]*Subscription, 0, len(d.subs))
			for _, sub := range d.subs {
				targets = append(targets, sub)
			}
			d.mu.Unlock()

			for _, sub := range targets {
				t := tr
				sub.offer(Push{Presence: &t})
			}
		}
	}
}
