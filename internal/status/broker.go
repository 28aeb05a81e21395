// Package status is the channel through which clients observe a job: reads of
// the job record plus an in-process push stream of every change.
package status

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

const DefaultBufferSize = 16

// Forwarder receives every update after local subscribers, e.g. to push it to
// Supabase Realtime.
type Forwarder interface {
	Forward(update models.StatusSnapshot)
}

type subscriber struct {
	ch     chan models.StatusSnapshot
	done   chan struct{}
	closed bool
}

// Broker fans status updates out to per-job subscribers. Updates for one job
// reach each subscriber in publish order. A subscriber that falls behind loses
// its oldest queued updates, never the newest, and its channel is closed
// right after the terminal update.
type Broker struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]map[*subscriber]struct{}
	forwarders []Forwarder
	bufferSize int
}

func NewBroker(bufferSize int, forwarders ...Forwarder) *Broker {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subs:       make(map[uuid.UUID]map[*subscriber]struct{}),
		forwarders: forwarders,
		bufferSize: bufferSize,
	}
}

func (b *Broker) Publish(update models.StatusSnapshot) {
	b.mu.Lock()
	for sub := range b.subs[update.JobID] {
		sub.offer(update)
		if update.IsComplete {
			b.closeLocked(update.JobID, sub)
		}
	}
	b.mu.Unlock()

	for _, f := range b.forwarders {
		f.Forward(update)
	}
}

// Subscribe returns a stream of updates for jobID. The stream ends after a
// terminal update, when ctx is done, or when cancel is called.
func (b *Broker) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan models.StatusSnapshot, func()) {
	sub := &subscriber{
		ch:   make(chan models.StatusSnapshot, b.bufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscriber]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			b.closeLocked(jobID, sub)
			b.mu.Unlock()
		})
	}

	// Exits on whichever comes first: ctx, cancel or a terminal update.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return sub.ch, cancel
}

// Subscribers reports how many streams are open for jobID.
func (b *Broker) Subscribers(jobID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broker) closeLocked(jobID uuid.UUID, sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	close(sub.done)
	delete(b.subs[jobID], sub)
	if len(b.subs[jobID]) == 0 {
		delete(b.subs, jobID)
	}
}

// offer enqueues without blocking. Only the broker sends on ch, under its
// lock, so after dropping one queued update there is room for this one.
func (s *subscriber) offer(update models.StatusSnapshot) {
	select {
	case s.ch <- update:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- update:
	default:
	}
}

// Supersedes reports whether next carries newer state than prev, so a
// consumer that already holds prev can discard stale or repeated updates.
func Supersedes(next, prev models.StatusSnapshot) bool {
	if prev.IsComplete {
		return false
	}
	if next.IsComplete {
		return true
	}
	if next.Status.Before(prev.Status) || next.Progress < prev.Progress {
		return false
	}
	return next.Status != prev.Status || next.Progress != prev.Progress || next.Title != prev.Title
}
