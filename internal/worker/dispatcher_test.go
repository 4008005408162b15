package worker

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 4, QueueSize: 16})
	defer d.Close()

	var (
		wg    sync.WaitGroup
		count int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		key := "a"
		if i%2 == 0 {
			key = "b"
		}
		if err := d.Submit(key, func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	waitTimeout(t, &wg)
	if got := atomic.LoadInt64(&count); got != 10 {
		t.Fatalf("expected 10 jobs, ran %d", got)
	}
}

func TestDispatcherRoundRobinBetweenKeys(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for _, key := range []string{"a", "a", "a", "b", "c"} {
		d.enqueueJob(Job{Key: key})
	}
	var order []string
	for {
		job, ok := d.next()
		if !ok {
			break
		}
		order = append(order, job.Key)
	}
	want := []string{"a", "b", "c", "a", "a"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if len(d.queues) != 0 || d.ready.Len() != 0 || d.pending != 0 {
		t.Fatalf("dispatcher state not drained")
	}
}

func TestDispatcherBusy(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit("a", func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	// the run loop may hold one job waiting for a worker, so fill until refused
	var busy bool
	for i := 0; i < 4; i++ {
		if err := d.Submit("a", func() {}); errors.Is(err, ErrDispatcherBusy) {
			busy = true
			break
		}
	}
	if !busy {
		t.Fatalf("expected ErrDispatcherBusy once the queue filled")
	}
	close(release)
	d.Close()
}

func TestDispatcherCloseDrainsQueued(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 0, MaxWorkers: 1, QueueSize: 8})
	var count int64
	for i := 0; i < 5; i++ {
		if err := d.Submit("k", func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&count, 1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	d.Close()
	if got := atomic.LoadInt64(&count); got != 5 {
		t.Fatalf("close dropped jobs: ran %d", got)
	}
	if err := d.Submit("k", func() {}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	if running, busy, _ := d.Stats(); running != 0 || busy != 0 {
		t.Fatalf("workers left after close: running=%d busy=%d", running, busy)
	}
}

func TestDispatcherSurvivesPanickingJob(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	if err := d.Submit("k", func() { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := make(chan struct{})
	if err := d.Submit("k", func() { close(done) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job after panic never ran")
	}
}

func TestPoolShutdownExpired(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour)
	defer p.close()
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()

	p.shutdownExpired()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if running, _ := p.stats(); running == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	running, _ := p.stats()
	t.Fatalf("expected pool to shrink to min, running=%d", running)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for jobs")
	}
}
