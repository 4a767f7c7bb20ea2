package msgworker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of callback work. Jobs sharing a SessionID always land on
// the same worker and run in submission order.
type Job struct {
	SessionID string
	Kind      string
	Handler   func(ctx context.Context) error
}

// PoolStats contiene métricas en tiempo real del pool
type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	Workers         []WorkerStats `json:"workers"`
}

type WorkerStats struct {
	WorkerID      int    `json:"worker_id"`
	QueueDepth    int    `json:"queue_depth"`
	IsProcessing  bool   `json:"is_processing"`
	JobsProcessed int64  `json:"jobs_processed"`
	LastKind      string `json:"last_kind,omitempty"`
}

// Pool is a sharded worker pool: a fixed set of workers, each draining its own
// queue, with jobs routed by a hash of the session id.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    atomic.Bool
	// closeMu excluye envíos concurrentes mientras se cierran las colas
	closeMu sync.RWMutex

	totalDispatched atomic.Int64
	totalProcessed  atomic.Int64
	totalDropped    atomic.Int64
	totalErrors     atomic.Int64

	OnJobStart func(workerID int, job Job)
	OnJobEnd   func(workerID int, job Job, err error)
}

type worker struct {
	id            int
	queue         chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	processing    atomic.Bool
	jobsProcessed atomic.Int64
	lastKind      atomic.Value
	pool          *Pool
}

// NewPool creates a pool. Start must be called before jobs are accepted.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start launches every worker goroutine.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:     i,
			queue:  make(chan Job, p.queueSize),
			ctx:    workerCtx,
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues without blocking and reports whether the job was accepted.
func (p *Pool) TryDispatch(job Job) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.stopped.Load() {
		p.totalDropped.Add(1)
		return false
	}

	shard := p.shardFor(job.SessionID)
	select {
	case p.workers[shard].queue <- job:
		p.totalDispatched.Add(1)
		return true
	default:
		p.totalDropped.Add(1)
		logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full, dropping %s job for session %s", shard, job.Kind, job.SessionID)
		return false
	}
}

// Submit enqueues the job, waiting for room in the worker queue. Callback
// events use Submit so a burst never silently drops a message.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.stopped.Load() {
		p.totalDropped.Add(1)
		return ErrPoolStopped
	}

	shard := p.shardFor(job.SessionID)
	select {
	case p.workers[shard].queue <- job:
		p.totalDispatched.Add(1)
		return nil
	case <-ctx.Done():
		p.totalDropped.Add(1)
		return ctx.Err()
	}
}

// Stop refuses new jobs, drains what is queued and waits for the workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		p.closeMu.Lock()
		p.stopped.Store(true)
		for _, w := range p.workers {
			if w != nil {
				close(w.queue)
			}
		}
		p.closeMu.Unlock()

		p.wg.Wait()
		for _, w := range p.workers {
			if w != nil {
				w.cancel()
			}
		}
		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(p.numWorkers))
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		TotalDispatched: p.totalDispatched.Load(),
		TotalProcessed:  p.totalProcessed.Load(),
		TotalDropped:    p.totalDropped.Load(),
		TotalErrors:     p.totalErrors.Load(),
		Workers:         make([]WorkerStats, 0, len(p.workers)),
	}

	for _, w := range p.workers {
		if w == nil {
			continue
		}
		busy := w.processing.Load()
		if busy {
			stats.ActiveWorkers++
		}
		kind, _ := w.lastKind.Load().(string)
		stats.Workers = append(stats.Workers, WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.queue),
			IsProcessing:  busy,
			JobsProcessed: w.jobsProcessed.Load(),
			LastKind:      kind,
		})
	}
	return stats
}

// run consumes the queue until it is closed. Closing the queue is the only
// shutdown signal so queued callbacks are never lost.
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	logrus.Debugf("[MSG_WORKER_POOL] Worker %d started", w.id)

	for job := range w.queue {
		w.execute(job)
	}
	logrus.Debugf("[MSG_WORKER_POOL] Worker %d shutting down", w.id)
}

func (w *worker) execute(job Job) {
	var err error

	if w.pool.OnJobStart != nil {
		w.pool.OnJobStart(w.id, job)
	}
	w.processing.Store(true)
	w.lastKind.Store(job.Kind)

	defer func() {
		if r := recover(); r != nil {
			w.pool.totalErrors.Add(1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic on %s job for session %s: %v", w.id, job.Kind, job.SessionID, r)
		}
		w.processing.Store(false)
		w.jobsProcessed.Add(1)
		w.pool.totalProcessed.Add(1)
		if w.pool.OnJobEnd != nil {
			w.pool.OnJobEnd(w.id, job, err)
		}
	}()

	err = job.Handler(w.ctx)
	if err != nil {
		w.pool.totalErrors.Add(1)
		logrus.WithError(err).WithField("session_id", job.SessionID).
			Errorf("[MSG_WORKER_POOL] Worker %d %s job failed", w.id, job.Kind)
	}
}
