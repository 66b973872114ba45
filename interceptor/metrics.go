package interceptor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/cond"
)

// Metrics records per-call counters and latency.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the call metrics against reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrpc_server_calls_total",
			Help: "Calls dispatched, by method and result code.",
		}, []string{"method", "code"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrpc_server_call_duration_seconds",
			Help:    "Time spent handling calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(m.calls, m.duration)

	return m
}

func (m *Metrics) Interceptor() mrpc.Interceptor {
	return func(next mrpc.Handler) mrpc.Handler {
		return func(ctx context.Context, call *mrpc.Call) error {
			start := time.Now()

			err := next(ctx, call)

			m.duration.WithLabelValues(call.Method()).Observe(time.Since(start).Seconds())

			code := "ok"
			if err != nil {
				code = cond.Code(err)
			}

			m.calls.WithLabelValues(call.Method(), code).Inc()

			return err
		}
	}
}
