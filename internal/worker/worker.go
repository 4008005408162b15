package worker

import (
	"log"
	"runtime/debug"
)

// Job is one unit of work owned by a key (a client id).
type Job struct {
	Key  string
	Run  func()
	stop bool
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start runs jobs until the pool retires the worker.
func (w *Worker) Start() {
	go func() {
		defer w.pool.wg.Done()
		for job := range w.jobChannel {
			if job.stop {
				debugLog("worker-%d stopped", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker-%d job for %s panicked: %v\n%s", w.id, job.Key, r, debug.Stack())
		}
	}()
	if job.Run != nil {
		job.Run()
	}
}
