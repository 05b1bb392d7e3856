package market

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"bybit-hedge-bot/internal/bybit/ws"

	"go.uber.org/zap"
)

// RestPriceSource is the on-demand price fetch; the Bybit REST client
// implements it.
type RestPriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

type pricePoint struct {
	price float64
	at    time.Time
}

// Data serves mark prices to the control loop. When the ticker stream is
// running and fresh it answers from the cache; otherwise it falls through
// to REST. The loop itself never talks to the stream.
type Data struct {
	rest       RestPriceSource
	ws         *ws.Client
	log        *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	prices map[string]pricePoint
}

func New(rest RestPriceSource, wsClient *ws.Client, staleAfter time.Duration, log *zap.Logger) *Data {
	return &Data{
		rest:       rest,
		ws:         wsClient,
		log:        log,
		staleAfter: staleAfter,
		now:        time.Now,
		prices:     make(map[string]pricePoint),
	}
}

// Start connects the stream and subscribes the tracked symbols. A nil ws
// client means REST-only operation.
func (d *Data) Start(ctx context.Context, symbols []string) error {
	if d.ws == nil {
		return nil
	}
	if err := d.ws.Connect(ctx); err != nil {
		return err
	}
	for _, symbol := range symbols {
		if err := d.ws.SubscribeTicker(ctx, symbol); err != nil {
			return err
		}
	}
	go func() {
		if err := d.ws.Run(ctx, d.handleMessage); err != nil && ctx.Err() == nil {
			d.log.Warn("ticker stream stopped", zap.Error(err))
		}
	}()
	return nil
}

// handleMessage folds a tickers.<symbol> delta into the cache. Bybit
// sends partial updates, so absent price fields are ignored, not zeroed.
func (d *Data) handleMessage(raw json.RawMessage) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			MarkPrice string `json:"markPrice"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}
	symbol := msg.Data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}
	rawPrice := msg.Data.MarkPrice
	if rawPrice == "" {
		rawPrice = msg.Data.LastPrice
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	d.mu.Lock()
	d.prices[symbol] = pricePoint{price: price, at: d.now()}
	d.mu.Unlock()
}

func (d *Data) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	d.mu.RLock()
	point, ok := d.prices[symbol]
	d.mu.RUnlock()
	if ok && d.staleAfter > 0 && d.now().Sub(point.at) <= d.staleAfter {
		return point.price, nil
	}
	price, err := d.rest.MarkPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.prices[symbol] = pricePoint{price: price, at: d.now()}
	d.mu.Unlock()
	return price, nil
}
