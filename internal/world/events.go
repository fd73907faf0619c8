package world

import (
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/vec"
)

// NotificationKind is the type of a chunk notification.
type NotificationKind uint8

const (
	NotifyLoaded  NotificationKind = iota // voxel data became available
	NotifyDirty                           // contents changed; the mesh is stale
	NotifyReady                           // a fresh mesh was installed
	NotifyEvicted                         // the chunk left memory
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyLoaded:
		return "loaded"
	case NotifyDirty:
		return "dirty"
	case NotifyReady:
		return "ready"
	case NotifyEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Notification tells read-only consumers (AI, renderer, physics) that a chunk
// changed state.
type Notification struct {
	Kind    NotificationKind
	Coord   vec.ChunkCoord
	Version uint64
}

type subscriber struct {
	ch chan Notification
}

// Notifier fans notifications out to subscribers. Delivery never blocks: a
// subscriber with a full buffer loses the notification and the drop counter
// grows.
type Notifier struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*subscriber
	dropped atomic.Uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*subscriber)}
}

// Subscribe registers a consumer. cancel closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Notification, buffer)}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers note to every subscriber.
func (n *Notifier) Publish(note Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.ch <- note:
		default:
			n.dropped.Add(1)
		}
	}
}

// Dropped returns how many notifications were discarded.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}
