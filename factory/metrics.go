package factory

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grove",
		Name:      "materializations_total",
		Help:      "Blueprint materializations by operation, blueprint and outcome.",
	}, []string{"op", "blueprint", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grove",
		Name:      "materialization_duration_seconds",
		Help:      "Time spent resolving and persisting blueprints.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	return &metrics{
		total:    register(reg, total),
		duration: register(reg, duration),
	}
}

// register registers c, reusing an identical collector already on reg.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(op, blueprint string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.total.WithLabelValues(op, blueprint, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
