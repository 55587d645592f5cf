package changemaster

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ingested    prometheus.Counter
	failures    *prometheus.CounterVec
	pruned      prometheus.Counter
	subscribers prometheus.Counter
}

const metricsNamespace = "changemaster"

// Ingest failure reasons
const (
	reasonValidation = "validation"
	reasonStorage    = "storage"
	reasonClosed     = "closed"
)

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changes_ingested_total",
			Help:      "Changes numbered and persisted by the change store.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_failures_total",
			Help:      "Raw changes rejected during ingestion.",
		}, []string{"reason"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pruned_total",
			Help:      "Changes removed by the retention pruner.",
		}),
		subscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriber_failures_total",
			Help:      "Subscriber invocations that failed or timed out.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.ingested, err = register(reg, m.ingested); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.pruned, err = register(reg, m.pruned); err != nil {
		return nil, err
	}
	if m.subscribers, err = register(reg, m.subscribers); err != nil {
		return nil, err
	}
	return m, nil
}

// register adopts an identical collector that is already registered, so
// several Managers can share one Registerer
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *metrics) changeIngested() {
	m.ingested.Inc()
}

func (m *metrics) ingestFailed(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *metrics) changePruned() {
	m.pruned.Inc()
}

func (m *metrics) subscriberFailed() {
	m.subscribers.Inc()
}
