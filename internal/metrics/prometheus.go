package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	legsFilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "legs_filled_total",
		Help:      "Total number of confirmed hedge legs.",
	})
	capHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cap_hits_total",
		Help:      "Total number of exposure cap transitions.",
	})
	tickErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "tick_errors_total",
		Help:      "Total number of abandoned side ticks.",
	})
	sidesHalted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "sides_halted_total",
		Help:      "Total number of sides halted on terminal errors.",
	})
	reconcileMismatch := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reconcile_mismatch_total",
		Help:      "Total number of restart reconciliation mismatches.",
	})
	externalCloses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "external_closes_total",
		Help:      "Total number of externally requested position closes.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, legsFilled, capHits, tickErrors, sidesHalted, reconcileMismatch, externalCloses)

	m := &Metrics{
		OrdersPlaced:      promCounter{ordersPlaced},
		OrdersFailed:      promCounter{ordersFailed},
		LegsFilled:        promCounter{legsFilled},
		CapHits:           promCounter{capHits},
		TickErrors:        promCounter{tickErrors},
		SidesHalted:       promCounter{sidesHalted},
		ReconcileMismatch: promCounter{reconcileMismatch},
		ExternalCloses:    promCounter{externalCloses},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
