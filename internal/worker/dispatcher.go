package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the inbound queue is full.
	ErrDispatcherBusy = errors.New("worker: dispatcher queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("worker: dispatcher closed")
)

// Config sizes the dispatcher and its worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded pool, taking turns between keys so one
// busy client cannot starve the others.
type Dispatcher struct {
	pool *jobChannelPool
	jobs chan Job

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // round-robin queue of keys
	positions map[string]*list.Element
	pending   int
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobs:      make(chan Job, cfg.QueueSize),
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues fn under key without blocking.
func (d *Dispatcher) Submit(key string, fn func()) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- Job{Key: key, Run: fn}:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Close stops accepting jobs, runs everything already queued and waits for
// the workers to exit.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.closeMu.Unlock()
	<-d.done
}

// Stats reports live workers, busy workers and jobs not yet handed out.
func (d *Dispatcher) Stats() (running, busy, queued int) {
	running, busy = d.pool.stats()
	d.mu.Lock()
	queued = d.pending
	d.mu.Unlock()
	return running, busy, queued + len(d.jobs)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	open := true
	for {
		if d.dispatchOne() {
			if open {
				select {
				case job, ok := <-d.jobs: // non-blocking
					if !ok {
						open = false
					} else {
						d.enqueueJob(job)
					}
				default:
				}
			}
			continue
		}
		if !open {
			d.pool.close()
			return
		}
		job, ok := <-d.jobs // nothing ready, block
		if !ok {
			open = false
			continue
		}
		d.enqueueJob(job)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	workerChan, workerID := d.pool.acquire()
	if workerChan == nil {
		return true
	}
	debugLog("job for %s to worker-%d", job.Key, workerID)
	workerChan <- job
	return true
}

// next pops one job from the front key and moves that key to the back.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.pending--
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}
