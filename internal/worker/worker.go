package worker

import (
	"pepper/internal/logger"
)

type JobType int

const (
	Run JobType = iota
	Stop
)

// Job is one unit of work queued under a fairness key (a chat session).
type Job struct {
	Type JobType
	Key  string
	Run  func()
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("key", job.Key).Msg("worker job panicked")
		}
	}()
	if job.Run != nil {
		job.Run()
	}
}
