// Package eventbus fans job lifecycle events out to in-process subscribers.
package eventbus

import (
	"sync"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	JobScheduled Kind = "job.scheduled"
	JobSent      Kind = "job.sent"
	JobFailed    Kind = "job.failed"
	JobDeferred  Kind = "job.deferred"
	ScanError    Kind = "scan.error"
)

// Event describes one lifecycle transition of a queued job.
type Event struct {
	Kind  Kind
	Time  time.Time
	Ref   string
	JobID string
	Slot  string
	// PublishAt is the scheduled time, zero for immediate jobs.
	PublishAt time.Time
	// Dest is the artifact's terminal path for sent/failed events.
	Dest    string
	TweetID string
	Err     string
}

// Bus delivers events without blocking the publisher. A subscriber whose
// buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe closes under the write
	// lock, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
