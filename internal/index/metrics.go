package index

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts index write operations by entity, operation, and result.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_index_operations_total",
			Help: "Total number of index write operations",
		},
		[]string{"entity", "operation", "result"},
	)

	// OperationDuration observes the duration of index write operations.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_index_operation_duration_seconds",
			Help:    "Duration of index write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "operation"},
	)
)

// opTimer tracks the outcome and duration of one writer operation.
type opTimer struct {
	entity string
	op     string
	start  time.Time
	failed bool
}

func startOp(entity, op string) *opTimer {
	return &opTimer{entity: entity, op: op, start: time.Now()}
}

// fail marks the operation failed and passes the error through.
func (t *opTimer) fail(err error) error {
	t.failed = true
	return err
}

func (t *opTimer) done() {
	result := "success"
	if t.failed {
		result = "failure"
	}
	OperationsTotal.WithLabelValues(t.entity, t.op, result).Inc()
	OperationDuration.WithLabelValues(t.entity, t.op).Observe(time.Since(t.start).Seconds())
}
