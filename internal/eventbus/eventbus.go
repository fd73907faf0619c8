// Package eventbus carries world events between server components and
// between nodes. Payloads are opaque bytes; the bus only routes envelopes.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the world server.
const (
	EventEditRecord = "EditRecord" // one encoded protocol.EditRecord
	EventEditBatch  = "EditBatch"  // compressed batch of EditRecords
	EventChunkReady = "ChunkReady" // a fresh mesh was installed
	EventChunkDirty = "ChunkDirty" // chunk contents changed
)

// Metadata keys used by chunk notifications.
const (
	MetaChunk       = "chunk"
	MetaVersion     = "version"
	MetaCompression = "compression"
)

// Priority levels. The memory bus drops envelopes below PriorityHigh when
// its buffer is full and blocks for the rest.
const (
	PriorityLow    = 0
	PriorityNormal = 3
	PriorityHigh   = 5
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Envelope is the routing container of one event.
type Envelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Priority      int               `json:"priority"`
	Payload       []byte            `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope stamps a fresh id and timestamp.
func NewEnvelope(source, eventType string, payload []byte) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  PriorityNormal,
		Payload:   payload,
	}
}

// Filter selects envelopes by type and source. Empty lists match everything.
type Filter struct {
	Types   []string
	Sources []string
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Handler consumes events.
type Handler func(ctx context.Context, ev *Envelope)

// Stats are aggregated bus counters.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus is implemented by the in-memory bus and by JetStreamBus.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	order       []int
	nextID      int
	stats       Stats
	buffer      chan *Envelope
	done        chan struct{}
	closeOnce   sync.Once
	stopped     chan struct{}
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus creates an in-process bus. Handlers run on a single
// dispatch goroutine in subscription order, so every subscriber sees
// envelopes in publish order.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case <-mb.done:
		return ErrBusClosed
	default:
	}

	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	default:
	}

	// Buffer is full: low priority is dropped.
	if ev.Priority < PriorityHigh {
		mb.count(&mb.stats.Dropped)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) count(field *uint64) {
	mb.mu.Lock()
	*field++
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.order = append(mb.order, id)
	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// Close stops dispatching. Envelopes still buffered are discarded.
func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() {
		close(mb.done)
		<-mb.stopped
	})
	return nil
}

func (mb *memoryBus) dispatchLoop() {
	defer close(mb.stopped)
	for {
		select {
		case <-mb.done:
			return
		case ev := <-mb.buffer:
			mb.dispatch(ev)
		}
	}
}

func (mb *memoryBus) dispatch(ev *Envelope) {
	mb.mu.RLock()
	subs := make([]subscriber, 0, len(mb.order))
	for _, id := range mb.order {
		if sub, ok := mb.subscribers[id]; ok {
			subs = append(subs, sub)
		}
	}
	mb.mu.RUnlock()

	for _, sub := range subs {
		if !matchFilter(ev, sub.filter) || sub.ctx.Err() != nil {
			continue
		}
		sub.handler(sub.ctx, ev)
		mb.count(&mb.stats.Consumed)
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	sub, ok := s.bus.subscribers[s.id]
	if !ok {
		return
	}
	sub.cancel()
	delete(s.bus.subscribers, s.id)
	for i, id := range s.bus.order {
		if id == s.id {
			s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
			break
		}
	}
}
