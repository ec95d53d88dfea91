package worker

import (
	"container/list"
	"net/http"
	"sync"
	"time"

	"pepper/internal/errx"
	"pepper/internal/metrics"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errx.New(nil, errx.CodeBusy, http.StatusTooManyRequests, "too many pending messages, try again later")

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded worker pool, taking one job per key in
// round-robin order so a chatty session cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each session
	ready     *list.List           // LRU queue storing session keys
	positions map[string]*list.Element

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout),
		JobQueue:  make(chan Job, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Execute queues run under key without blocking.
func (d *Dispatcher) Execute(key string, run func()) error {
	select {
	case <-d.quit:
		return ErrDispatcherBusy
	default:
	}
	select {
	case d.JobQueue <- Job{Type: Run, Key: key, Run: run}:
		metrics.DispatcherQueue.Inc()
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the key in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelKey drops every queued job of key. Running jobs are not interrupted.
func (d *Dispatcher) CancelKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[key]; ok {
		metrics.DispatcherQueue.Sub(float64(len(q.jobs)))
	}
	delete(d.queues, key)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
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
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne get first key in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	metrics.DispatcherQueue.Dec()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	debugLog("assign job", job.Key)
	workerChan <- job
	return true
}

// nextJob pops the head job of the least recently served key.
func (d *Dispatcher) nextJob() (Job, bool) {
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
	if len(q.jobs) == 0 {
		// key only had one job, it leaves the queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// Pending reports how many jobs are queued per key.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n + len(d.JobQueue)
}

// Close stops intake, drops queued jobs and waits for running ones.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.quit)
		<-d.done
		d.pool.close()
	})
}
