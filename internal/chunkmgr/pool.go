package chunkmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("chunk job queue full")

// JobKind distinguishes the work a job performs.
type JobKind uint8

const (
	JobLoad JobKind = iota // read from the store or generate
	JobMesh                // build a mesh from a volume snapshot
)

func (k JobKind) String() string {
	if k == JobMesh {
		return "mesh"
	}
	return "load"
}

type jobKey struct {
	coord vec.ChunkCoord
	kind  JobKind
}

// Job is one unit of background work.
type Job struct {
	Coord  vec.ChunkCoord
	Kind   JobKind
	Volume *mesh.Volume // JobMesh only
}

func (j Job) key() jobKey { return jobKey{coord: j.Coord, kind: j.Kind} }

// Result is what a worker hands back to the owner loop.
type Result struct {
	Job
	Data      *world.ChunkData // JobLoad
	Source    string           // "store" or "generator"
	Mesh      *mesh.Mesh       // JobMesh
	Err       error
	Cancelled bool // dropped at dequeue time; nothing was executed
}

// Pool runs jobs on a fixed number of workers. At most one job per
// (coord, kind) is pending at a time; the key stays pending until the owner
// releases it after applying the result.
type Pool struct {
	workers int
	jobs    chan Job
	results chan Result

	exec  func(context.Context, Job) Result
	valid func(Job) bool

	mu      sync.Mutex
	pending map[jobKey]struct{}

	inflight  atomic.Int64
	cancelled atomic.Uint64

	wg      sync.WaitGroup
	started atomic.Bool
}

// NewPool creates a pool. valid is consulted when a job is dequeued; jobs it
// rejects are reported as cancelled without running.
func NewPool(workers, queueSize int, exec func(context.Context, Job) Result, valid func(Job) bool) *Pool {
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		results: make(chan Result, queueSize+workers),
		exec:    exec,
		valid:   valid,
		pending: make(map[jobKey]struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit queues a job. queued is false when an identical job is already
// pending; ErrQueueFull signals backpressure.
func (p *Pool) Submit(j Job) (queued bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[j.key()]; ok {
		return false, nil
	}
	select {
	case p.jobs <- j:
		p.pending[j.key()] = struct{}{}
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Pending reports whether a job for (coord, kind) is queued or running.
func (p *Pool) Pending(coord vec.ChunkCoord, kind JobKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[jobKey{coord: coord, kind: kind}]
	return ok
}

// Release clears the pending mark of a job whose result was applied.
func (p *Pool) Release(j Job) {
	p.mu.Lock()
	delete(p.pending, j.key())
	p.mu.Unlock()
}

// Results delivers finished and cancelled jobs.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueDepth returns the number of queued jobs.
func (p *Pool) QueueDepth() int { return len(p.jobs) }

// InFlight returns the number of running jobs.
func (p *Pool) InFlight() int { return int(p.inflight.Load()) }

// Cancelled returns how many jobs were dropped at dequeue time.
func (p *Pool) Cancelled() uint64 { return p.cancelled.Load() }

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			var res Result
			if p.valid != nil && !p.valid(j) {
				p.cancelled.Add(1)
				res = Result{Job: j, Cancelled: true}
			} else {
				p.inflight.Add(1)
				res = p.exec(ctx, j)
				res.Job = j
				p.inflight.Add(-1)
			}
			select {
			case p.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}
