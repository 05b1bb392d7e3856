package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bybit-hedge-bot/internal/state"

	"go.uber.org/zap"
)

// OrderRequest is one logical order. IdempotencyKey is derived from
// (symbol, leg index, anchor epoch) by the caller so that retries of the
// same logical action can never duplicate execution: the key doubles as
// the exchange client order link id, which the venue deduplicates.
type OrderRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           string
	NotionalUSD    float64
	Price          float64
	ReduceOnly     bool
}

type OrderResult struct {
	OrderID           string  `json:"order_id"`
	FilledNotionalUSD float64 `json:"filled_notional_usd"`
	AvgPrice          float64 `json:"avg_price"`
	Status            string  `json:"status"`
}

type Exchange interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Executor wraps the exchange with idempotent issuance and bounded
// retry. Results for keyed orders are cached in memory and in the kv
// store, so a crash between send and confirm cannot double-execute on
// restart.
type Executor struct {
	exchange   Exchange
	store      state.Store
	log        *zap.Logger
	maxRetries int
	backoff    time.Duration

	mu    sync.Mutex
	cache map[string]OrderResult
}

func New(exchange Exchange, store state.Store, log *zap.Logger, maxRetries int, backoff time.Duration) *Executor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Executor{
		exchange:   exchange,
		store:      store,
		log:        log,
		maxRetries: maxRetries,
		backoff:    backoff,
		cache:      make(map[string]OrderResult),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.IdempotencyKey == "" {
		return e.placeWithRetry(ctx, req)
	}
	cacheKey := state.OrderResultKey(req.IdempotencyKey)
	e.mu.Lock()
	if result, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return result, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if raw, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return OrderResult{}, err
		} else if ok {
			var result OrderResult
			if err := json.Unmarshal([]byte(raw), &result); err != nil {
				return OrderResult{}, fmt.Errorf("corrupt cached order result for %s: %w", req.IdempotencyKey, err)
			}
			e.mu.Lock()
			e.cache[cacheKey] = result
			e.mu.Unlock()
			return result, nil
		}
	}
	result, err := e.placeWithRetry(ctx, req)
	if err != nil {
		return OrderResult{}, err
	}
	if e.store != nil {
		payload, err := json.Marshal(result)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil {
			e.log.Warn("failed to persist order result", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = result
	e.mu.Unlock()
	return result, nil
}

func (e *Executor) placeWithRetry(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var result OrderResult
	err := e.retry(ctx, func() error {
		var err error
		result, err = e.exchange.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		return OrderResult{}, err
	}
	if result.OrderID == "" {
		// The venue answered without an order id; the outcome is unknown,
		// so a retry under the same key is the safe path.
		return OrderResult{}, fmt.Errorf("empty order id: %w", ErrUnavailable)
	}
	return result, nil
}

// retry applies doubling backoff to transient failures. Terminal failures
// (rejections) surface immediately; an exhausted budget surfaces the last
// transient error and the current tick is abandoned.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == e.maxRetries-1 {
			return fmt.Errorf("retry budget exhausted: %w", err)
		}
		select {
		case <-ctx.Done():
			// A tick deadline expiring mid-backoff is not a rejection; the
			// next tick retries the same key.
			return fmt.Errorf("%v: %w", ctx.Err(), ErrUnavailable)
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
