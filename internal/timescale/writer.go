package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bybit-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickSnapshot records one side's view at one tick of the control loop.
type TickSnapshot struct {
	Time        time.Time
	Side        string
	Symbol      string
	Price       float64
	AnchorPrice float64
	DrawdownPct float64
	State       string
	LegsFilled  int
	NotionalUSD float64
	AvgEntry    float64
}

// Fill records one confirmed order execution.
type Fill struct {
	Time           time.Time
	Side           string
	Symbol         string
	LegIndex       int
	IdempotencyKey string
	OrderID        string
	NotionalUSD    float64
	AvgPrice       float64
}

type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	ticks    chan TickSnapshot
	fills    chan Fill
	started  atomic.Bool
	dropTick atomic.Uint64
	dropFill atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan TickSnapshot, queueSize),
		fills:  make(chan Fill, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(snapshot TickSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- snapshot:
		return
	default:
		if w.dropTick.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueFill(fill Fill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
		return
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.ticks:
			w.writeTick(ctx, snap)
		case fill := <-w.fills:
			w.writeFill(ctx, fill)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		side TEXT NOT NULL,
		symbol TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		anchor_price DOUBLE PRECISION NOT NULL,
		drawdown_pct DOUBLE PRECISION NOT NULL,
		state TEXT NOT NULL,
		legs_filled INTEGER NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		avg_entry DOUBLE PRECISION NOT NULL
	)`, w.table("tick_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		side TEXT NOT NULL,
		symbol TEXT NOT NULL,
		leg_index INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		order_id TEXT NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		avg_price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (idempotency_key, order_id)
	)`, w.table("order_fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("tick_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale tick_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, snap TickSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, side, symbol, price, anchor_price, drawdown_pct, state, legs_filled, notional_usd, avg_entry
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("tick_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Side,
		snap.Symbol,
		snap.Price,
		snap.AnchorPrice,
		snap.DrawdownPct,
		snap.State,
		snap.LegsFilled,
		snap.NotionalUSD,
		snap.AvgEntry,
	); err != nil && w.log != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, fill Fill) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, side, symbol, leg_index, idempotency_key, order_id, notional_usd, avg_price
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (idempotency_key, order_id) DO NOTHING`, w.table("order_fills"))
	if _, err := w.db.ExecContext(ctx, query,
		fill.Time,
		fill.Side,
		fill.Symbol,
		fill.LegIndex,
		fill.IdempotencyKey,
		fill.OrderID,
		fill.NotionalUSD,
		fill.AvgPrice,
	); err != nil && w.log != nil {
		w.log.Warn("timescale fill insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
