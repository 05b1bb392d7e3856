package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced      Counter
	OrdersFailed      Counter
	LegsFilled        Counter
	CapHits           Counter
	TickErrors        Counter
	SidesHalted       Counter
	ReconcileMismatch Counter
	ExternalCloses    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:      n,
		OrdersFailed:      n,
		LegsFilled:        n,
		CapHits:           n,
		TickErrors:        n,
		SidesHalted:       n,
		ReconcileMismatch: n,
		ExternalCloses:    n,
	}
}
