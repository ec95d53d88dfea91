package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BridgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pepper",
		Subsystem: "bridge",
		Name:      "requests_total",
		Help:      "Bot backend requests by route and outcome.",
	}, []string{"route", "outcome"})

	BridgeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pepper",
		Subsystem: "bridge",
		Name:      "request_seconds",
		Help:      "Bot backend request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pepper",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Transcript entries by author and final status.",
	}, []string{"author", "status"})

	SpeechSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pepper",
		Subsystem: "speech",
		Name:      "sessions_total",
		Help:      "Speech recognition attempts by outcome.",
	}, []string{"outcome"})

	AnnotationsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pepper",
		Subsystem: "annotator",
		Name:      "examples_stored_total",
		Help:      "Annotated examples accepted by the store endpoint.",
	})

	DispatcherQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pepper",
		Subsystem: "worker",
		Name:      "queued_jobs",
		Help:      "Jobs waiting in per-session queues.",
	})
)
