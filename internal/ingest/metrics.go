package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_events_processed_total",
		Help: "Scan events fully processed, by resulting status.",
	}, []string{"kind", "status"})

	droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_events_dropped_total",
		Help: "Scan events dropped, by reason.",
	}, []string{"reason"})
)
