package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Log is the append-only, totally ordered record of feed events. Append is
// the single serialization point in the system; reads never block writers.
type Log struct {
	store Store

	mu      sync.Mutex // guards lastSeq and the append path
	lastSeq uint64
	notify  chan struct{} // closed and replaced on every append

	now func() time.Time
}

// Open recovers the current tail from the store and returns a ready log.
func Open(ctx context.Context, store Store) (*Log, error) {
	last, err := store.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recover tail: %w", err)
	}
	return &Log{
		store:   store,
		lastSeq: last,
		notify:  make(chan struct{}),
		now:     time.Now,
	}, nil
}

// LastSeq returns the sequence of the most recently appended event.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append validates the event, assigns the next sequence number, and makes it
// durable before acknowledging. Concurrent appenders are serialized; the
// sequence is strictly increasing and gapless. On store failure nothing is
// assigned and the caller may retry.
func (l *Log) Append(ctx context.Context, e *Event) (uint64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeq + 1
	e.Seq = seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := l.store.Append(ctx, seq, data); err != nil {
		e.Seq = 0
		return 0, err
	}

	l.lastSeq = seq
	close(l.notify)
	l.notify = make(chan struct{})
	return seq, nil
}

// tailSignal returns a channel that is closed after the next append.
func (l *Log) tailSignal() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify
}

// Cursor iterates events in ascending sequence order, first replaying stored
// entries and then tailing live appends. A cursor is restartable: re-issue
// ReadFrom with the last consumed seq + 1 to resume without gaps.
type Cursor struct {
	log  *Log
	next uint64
	buf  []*Event
}

// ReadFrom returns a cursor positioned at the given sequence (inclusive).
// A from of 0 is treated as 1.
func (l *Log) ReadFrom(from uint64) *Cursor {
	if from == 0 {
		from = 1
	}
	return &Cursor{log: l, next: from}
}

// Next returns the next event, blocking until one is appended or ctx is done.
// An unreadable or undecodable range is surfaced as an error, never skipped.
func (c *Cursor) Next(ctx context.Context) (*Event, error) {
	for {
		if len(c.buf) > 0 {
			ev := c.buf[0]
			c.buf = c.buf[1:]
			return ev, nil
		}

		signal := c.log.tailSignal()
		last := c.log.LastSeq()
		if c.next <= last {
			raw, err := c.log.store.ReadRange(ctx, c.next, last)
			if err != nil {
				return nil, fmt.Errorf("eventlog: read range [%d,%d]: %w", c.next, last, err)
			}
			for _, data := range raw {
				var ev Event
				if err := json.Unmarshal(data, &ev); err != nil {
					return nil, fmt.Errorf("eventlog: corrupt entry at seq %d: %w", c.next, err)
				}
				c.buf = append(c.buf, &ev)
				c.next = ev.Seq + 1
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}
