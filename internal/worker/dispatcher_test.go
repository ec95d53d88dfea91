package worker

import (
	"container/list"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pepper/internal/errx"
)

func TestDispatcherRunsEveryJob(t *testing.T) {
	d := NewDispatcher(1, 4, 32, time.Second)
	defer d.Close()

	var (
		wg    sync.WaitGroup
		count atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		key := []string{"a", "b", "c"}[i%3]
		if err := d.Execute(key, func() {
			defer wg.Done()
			count.Add(1)
		}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	waitTimeout(t, &wg)
	if got := count.Load(); got != 20 {
		t.Fatalf("expected 20 jobs, ran %d", got)
	}
}

func TestDispatcherRoundRobinAcrossKeys(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for _, key := range []string{"a", "a", "a", "b", "c", "b"} {
		d.enqueueJob(Job{Type: Run, Key: key})
	}

	var order []string
	for {
		job, ok := d.nextJob()
		if !ok {
			break
		}
		order = append(order, job.Key)
	}
	want := []string{"a", "b", "c", "a", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", order, want)
		}
	}
}

func TestDispatcherCancelKey(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.enqueueJob(Job{Key: "a"})
	d.enqueueJob(Job{Key: "b"})
	d.enqueueJob(Job{Key: "a"})
	if n := d.Pending(); n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}
	d.CancelKey("a")
	if n := d.Pending(); n != 1 {
		t.Fatalf("expected 1 pending after cancel, got %d", n)
	}

	job, ok := d.nextJob()
	if !ok || job.Key != "b" {
		t.Fatalf("expected only b left, got %+v ok=%v", job, ok)
	}
	if _, ok := d.nextJob(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	d := NewDispatcher(1, 1, 1, time.Second)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := d.Execute("a", func() { close(started); <-release }); err != nil {
		t.Fatalf("execute: %v", err)
	}
	<-started
	// the dispatcher holds one job while waiting for the busy worker and the
	// intake channel holds one more
	var busy error
	for i := 0; i < 3 && busy == nil; i++ {
		busy = d.Execute("a", func() {})
		if busy == nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if busy != ErrDispatcherBusy || errx.StatusOf(busy) != 429 {
		t.Fatalf("expected busy error, got %v", busy)
	}
	close(release)
	d.Close()
	if err := d.Execute("a", func() {}); err != ErrDispatcherBusy {
		t.Fatalf("closed dispatcher should reject work, got %v", err)
	}
}

func TestPoolExpiresIdleWorkersDownToMin(t *testing.T) {
	d := NewDispatcher(1, 3, 8, 20*time.Millisecond)
	defer d.Close()

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < 3; i++ {
		wg.Add(1)
		key := []string{"a", "b", "c"}[i]
		_ = d.Execute(key, func() {
			defer wg.Done()
			<-gate
		})
	}
	time.Sleep(30 * time.Millisecond)
	close(gate)
	waitTimeout(t, &wg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if running, _ := d.pool.size(); running == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	running, idle := d.pool.size()
	t.Fatalf("expected pool to shrink to 1 worker, running=%d idle=%d", running, idle)
}

func TestWorkerSurvivesPanickingJob(t *testing.T) {
	d := NewDispatcher(1, 1, 4, time.Second)
	defer d.Close()

	_ = d.Execute("a", func() { panic("boom") })
	var wg sync.WaitGroup
	wg.Add(1)
	_ = d.Execute("a", func() { wg.Done() })
	waitTimeout(t, &wg)
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
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for jobs")
	}
}
