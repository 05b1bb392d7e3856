package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.LegsFilled.Inc()
	prom.Metrics.CapHits.Inc()
	prom.Metrics.SidesHalted.Inc()

	recorder := httptest.NewRecorder()
	prom.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body := recorder.Body.String()

	for _, want := range []string{
		"hedge_bot_orders_placed_total 2",
		"hedge_bot_legs_filled_total 1",
		"hedge_bot_cap_hits_total 1",
		"hedge_bot_sides_halted_total 1",
		"hedge_bot_orders_failed_total 0",
		"hedge_bot_tick_errors_total 0",
		"hedge_bot_reconcile_mismatch_total 0",
		"hedge_bot_external_closes_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	// Must be safe to call on every counter without wiring.
	m.OrdersPlaced.Inc()
	m.OrdersFailed.Inc()
	m.LegsFilled.Inc()
	m.CapHits.Inc()
	m.TickErrors.Inc()
	m.SidesHalted.Inc()
	m.ReconcileMismatch.Inc()
	m.ExternalCloses.Inc()
}
