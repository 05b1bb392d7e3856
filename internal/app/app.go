package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bybit-hedge-bot/internal/alerts"
	"bybit-hedge-bot/internal/bybit/rest"
	"bybit-hedge-bot/internal/bybit/ws"
	"bybit-hedge-bot/internal/config"
	"bybit-hedge-bot/internal/exec"
	"bybit-hedge-bot/internal/market"
	"bybit-hedge-bot/internal/metrics"
	"bybit-hedge-bot/internal/state"
	"bybit-hedge-bot/internal/state/sqlite"
	"bybit-hedge-bot/internal/strategy"
	"bybit-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

// Notional tolerance when comparing the recorded position against the
// exchange-reported one after a restart.
const reconcileToleranceUSD = 1.0

type priceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

type positionSource interface {
	Position(ctx context.Context, symbol string) (rest.PositionInfo, error)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, req exec.OrderRequest) (exec.OrderResult, error)
}

type alerter interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]alerts.Update, error)
}

// pendingOrder is an order whose outcome is not yet known. It survives
// across ticks so a transient failure retries the exact same idempotency
// key instead of minting a new order.
type pendingOrder struct {
	key         string
	legIndex    int
	notionalUSD float64
}

// side is the loop's mutable view of one half of the hedge. It is only
// touched from the tick goroutine; operator commands reach it through
// atomics on App.
type side struct {
	dir       strategy.Side
	symbol    string
	orderSide string

	machine  *strategy.StateMachine
	position strategy.Position
	pending  *pendingOrder

	closing    bool
	halted     bool
	haltReason string
	capLogged  bool

	lastPrice float64
	lastPct   float64
}

// App owns the hedge control loop: it polls prices, tracks per-symbol
// drawdown, and opens, scales, and closes the two sides independently.
// A failure on one side never stalls the other.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	prices    priceSource
	positions positionSource
	executor  orderPlacer
	metrics   *metrics.Metrics
	alerts    alerter
	tsWriter  *timescale.Writer
	tracker   *strategy.Tracker
	sides     []*side
	now       func() time.Time

	promHandler http.Handler

	paused   atomic.Bool
	closeAll atomic.Bool

	statusMu sync.RWMutex
	status   string
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	apiKey := strings.TrimSpace(os.Getenv("BYBIT_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BYBIT_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("BYBIT_API_KEY and BYBIT_API_SECRET must be set")
	}
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	qtyDecimals := map[string]int{
		cfg.Hedge.SymbolLong:  *cfg.Hedge.QtyDecimalsLong,
		cfg.Hedge.SymbolShort: *cfg.Hedge.QtyDecimalsShort,
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, apiKey, apiSecret, cfg.REST.RecvWindowMS, qtyDecimals, log)
	var wsClient *ws.Client
	if cfg.WS.Enabled {
		wsClient = ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	}
	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	m := metrics.NewNoop()
	var promHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		promHandler = prom.Handler()
	}
	return &App{
		cfg:         cfg,
		log:         log,
		store:       store,
		prices:      market.New(restClient, wsClient, cfg.WS.StaleAfter, log),
		positions:   restClient,
		executor:    exec.New(restClient, store, log, cfg.REST.MaxRetries, cfg.REST.RetryBackoff),
		metrics:     m,
		alerts:      alerts.NewTelegram(cfg.Telegram, log),
		tsWriter:    tsWriter,
		tracker:     strategy.NewTracker(),
		sides:       newSides(cfg.Hedge),
		now:         time.Now,
		promHandler: promHandler,
	}, nil
}

func newSides(cfg config.HedgeConfig) []*side {
	return []*side{
		{dir: strategy.SideLong, symbol: cfg.SymbolLong, orderSide: "Buy", machine: strategy.NewStateMachine(),
			position: strategy.Position{Side: strategy.SideLong, Symbol: cfg.SymbolLong}},
		{dir: strategy.SideShort, symbol: cfg.SymbolShort, orderSide: "Sell", machine: strategy.NewStateMachine(),
			position: strategy.Position{Side: strategy.SideShort, Symbol: cfg.SymbolShort}},
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if err := a.reconcile(ctx); err != nil {
		return err
	}
	if data, ok := a.prices.(*market.Data); ok {
		if err := data.Start(ctx, a.symbols()); err != nil {
			a.log.Warn("ticker stream unavailable, falling back to rest", zap.Error(err))
		}
	}
	a.tsWriter.Start(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)
	a.warmup(ctx)
	a.logBanner()

	ticker := time.NewTicker(a.cfg.Hedge.PollInterval)
	defer ticker.Stop()
	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *App) close() {
	if a.tsWriter != nil {
		_ = a.tsWriter.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *App) symbols() []string {
	out := make([]string, 0, len(a.sides))
	for _, s := range a.sides {
		out = append(out, s.symbol)
	}
	return out
}

// tick evaluates both sides once. The tick runs on a context detached
// from shutdown so an in-flight venue call completes instead of being
// torn down mid-order; tick_timeout bounds it independently of the
// poll interval, which retry backoff can outlast.
func (a *App) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Hedge.TickTimeout)
	defer cancel()
	if a.closeAll.CompareAndSwap(true, false) {
		for _, s := range a.sides {
			s.closing = true
		}
	}
	if a.paused.Load() {
		a.updateStatus()
		return
	}
	for _, s := range a.sides {
		if err := a.tickSide(tickCtx, s); err != nil {
			a.metrics.TickErrors.Inc()
			a.log.Warn("tick abandoned", zap.String("symbol", s.symbol), zap.Error(err))
		}
	}
	if err := a.saveSnapshot(tickCtx); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
	a.updateStatus()
}

func (a *App) tickSide(ctx context.Context, s *side) error {
	if s.halted {
		return nil
	}
	price, err := a.fetchPrice(ctx, s.symbol)
	if err != nil {
		return err
	}
	reading := a.tracker.Observe(s.symbol, price, a.now())
	s.lastPrice = price
	s.lastPct = reading.Pct
	defer a.recordTick(s, price, reading)

	if s.closing || s.machine.Current() == strategy.StateClosing {
		return a.resolveClose(ctx, s, price, reading.Epoch)
	}
	if s.pending != nil {
		// Resolving a carried-over order consumes the tick; the next
		// leg, if due, waits for the next poll.
		return a.resolvePending(ctx, s, price)
	}
	if s.machine.Current() == strategy.StateCapped {
		return nil
	}
	action := strategy.NextAction(s.position, reading.Pct, a.cfg.Hedge)
	switch action.Kind {
	case strategy.ActionCapReached:
		a.reachCap(ctx, s)
	case strategy.ActionOpenInitial, strategy.ActionScaleIn:
		if action.NotionalUSD < a.cfg.Hedge.MinOrderNotionalUSD {
			a.log.Warn("remaining headroom below minimum order notional",
				zap.String("symbol", s.symbol),
				zap.Float64("notional_usd", action.NotionalUSD))
			a.reachCap(ctx, s)
			return nil
		}
		if action.Kind == strategy.ActionOpenInitial {
			s.machine.Apply(strategy.EventEnter)
		} else {
			s.machine.Apply(strategy.EventScale)
		}
		s.pending = &pendingOrder{
			key:         legOrderKey(s.symbol, action.LegIndex, reading.Epoch),
			legIndex:    action.LegIndex,
			notionalUSD: action.NotionalUSD,
		}
		a.log.Info("drawdown trigger",
			zap.String("symbol", s.symbol),
			zap.Float64("drawdown_pct", reading.Pct),
			zap.Int("leg", action.LegIndex),
			zap.Float64("notional_usd", action.NotionalUSD))
		return a.resolvePending(ctx, s, price)
	}
	return nil
}

// resolvePending issues (or re-issues) the side's outstanding order. The
// idempotency key is stable across ticks, so retries after a transient
// failure can never double-execute.
func (a *App) resolvePending(ctx context.Context, s *side, price float64) error {
	p := s.pending
	result, err := a.executor.PlaceOrder(ctx, exec.OrderRequest{
		IdempotencyKey: p.key,
		Symbol:         s.symbol,
		Side:           s.orderSide,
		NotionalUSD:    p.notionalUSD,
		Price:          price,
	})
	if err != nil {
		if exec.IsRejected(err) {
			a.metrics.OrdersFailed.Inc()
			a.haltSide(ctx, s, err)
			return err
		}
		// Anything short of a venue rejection leaves the outcome unknown:
		// keep the order pending and retry the same key next poll.
		a.log.Warn("leg order unresolved, will retry",
			zap.String("idempotency_key", p.key), zap.Error(err))
		return err
	}
	s.pending = nil
	s.position.ApplyFill(result.FilledNotionalUSD, result.AvgPrice)
	if s.machine.Current() == strategy.StateEntering {
		s.machine.Apply(strategy.EventFilled)
	}
	a.tracker.Freeze(s.symbol)
	a.metrics.OrdersPlaced.Inc()
	a.metrics.LegsFilled.Inc()
	a.log.Info("leg filled",
		zap.String("symbol", s.symbol),
		zap.Int("leg", p.legIndex),
		zap.String("order_id", result.OrderID),
		zap.Float64("filled_usd", result.FilledNotionalUSD),
		zap.Float64("avg_price", result.AvgPrice),
		zap.Float64("total_usd", s.position.TotalNotionalUSD))
	a.tsWriter.EnqueueFill(timescale.Fill{
		Time:           a.now(),
		Side:           string(s.dir),
		Symbol:         s.symbol,
		LegIndex:       p.legIndex,
		IdempotencyKey: p.key,
		OrderID:        result.OrderID,
		NotionalUSD:    result.FilledNotionalUSD,
		AvgPrice:       result.AvgPrice,
	})
	a.notify(ctx, fmt.Sprintf("%s %s leg %d filled: $%.2f @ %.6f (total $%.2f)",
		s.dir, s.symbol, p.legIndex+1, result.FilledNotionalUSD, result.AvgPrice, s.position.TotalNotionalUSD))
	return nil
}

// resolveClose flattens the side with a reduce-only order keyed by the
// current anchor epoch, so a retried close is as idempotent as a leg.
func (a *App) resolveClose(ctx context.Context, s *side, price float64, epoch int64) error {
	if s.pending != nil {
		// An unresolved entry order may already sit filled on the venue.
		// Re-issuing under its key recovers the fill (the duplicate link
		// id path), so the close covers it instead of stranding it.
		if err := a.resolvePending(ctx, s, price); err != nil {
			return err
		}
	}
	if s.position.Flat() {
		s.closing = false
		s.machine.SetState(strategy.StateFlat)
		return nil
	}
	if s.machine.Current() != strategy.StateClosing {
		s.machine.Apply(strategy.EventClose)
	}
	result, err := a.executor.PlaceOrder(ctx, exec.OrderRequest{
		IdempotencyKey: closeOrderKey(s.symbol, epoch),
		Symbol:         s.symbol,
		Side:           oppositeOrderSide(s.orderSide),
		NotionalUSD:    s.position.TotalNotionalUSD,
		Price:          price,
		ReduceOnly:     true,
	})
	if err != nil {
		if exec.IsRejected(err) {
			a.metrics.OrdersFailed.Inc()
			a.haltSide(ctx, s, err)
			return err
		}
		a.log.Warn("close order unresolved, will retry",
			zap.String("symbol", s.symbol), zap.Error(err))
		return err
	}
	closed := s.position.TotalNotionalUSD
	s.machine.Apply(strategy.EventFilled)
	s.position.Clear()
	s.closing = false
	s.capLogged = false
	a.tracker.Reset(s.symbol)
	a.metrics.OrdersPlaced.Inc()
	a.metrics.ExternalCloses.Inc()
	a.log.Info("position closed",
		zap.String("symbol", s.symbol),
		zap.String("order_id", result.OrderID),
		zap.Float64("closed_usd", closed))
	a.notify(ctx, fmt.Sprintf("%s %s closed: $%.2f", s.dir, s.symbol, closed))
	return nil
}

func (a *App) reachCap(ctx context.Context, s *side) {
	if s.machine.Current() != strategy.StateCapped {
		s.machine.Apply(strategy.EventCap)
	}
	if s.capLogged {
		return
	}
	s.capLogged = true
	a.metrics.CapHits.Inc()
	a.log.Info("exposure cap reached",
		zap.String("symbol", s.symbol),
		zap.Float64("notional_usd", s.position.TotalNotionalUSD),
		zap.Int("legs", s.position.LegsFilled))
	a.notify(ctx, fmt.Sprintf("%s %s capped at $%.2f (%d legs)",
		s.dir, s.symbol, s.position.TotalNotionalUSD, s.position.LegsFilled))
}

// haltSide stops trading one side after a terminal order rejection. The
// other side keeps running; the operator is told about any exposure now
// sitting unhedged.
func (a *App) haltSide(ctx context.Context, s *side, err error) {
	s.halted = true
	s.haltReason = err.Error()
	a.metrics.SidesHalted.Inc()
	a.log.Error("side halted on terminal order failure",
		zap.String("symbol", s.symbol), zap.Error(err))
	msg := fmt.Sprintf("HALT %s %s: %v", s.dir, s.symbol, err)
	if other := a.otherSide(s); other != nil && !other.position.Flat() {
		msg += fmt.Sprintf("; %s holds $%.2f unhedged", other.symbol, other.position.TotalNotionalUSD)
	}
	a.notify(ctx, msg)
}

func (a *App) otherSide(s *side) *side {
	for _, candidate := range a.sides {
		if candidate != s {
			return candidate
		}
	}
	return nil
}

// fetchPrice retries transient price failures with doubling backoff
// within the tick; a terminal error or an exhausted budget abandons the
// side's tick until the next poll.
func (a *App) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	backoff := a.cfg.REST.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < a.cfg.REST.MaxRetries; attempt++ {
		price, err := a.prices.MarkPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if !exec.IsTransient(err) {
			return 0, err
		}
		lastErr = err
		if attempt == a.cfg.REST.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%v: %w", ctx.Err(), exec.ErrUnavailable)
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return 0, fmt.Errorf("price for %s: %w", symbol, lastErr)
}

func (a *App) fetchPosition(ctx context.Context, symbol string) (rest.PositionInfo, error) {
	backoff := a.cfg.REST.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < a.cfg.REST.MaxRetries; attempt++ {
		info, err := a.positions.Position(ctx, symbol)
		if err == nil {
			return info, nil
		}
		if !exec.IsTransient(err) {
			return rest.PositionInfo{}, err
		}
		lastErr = err
		if attempt == a.cfg.REST.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return rest.PositionInfo{}, fmt.Errorf("%v: %w", ctx.Err(), exec.ErrUnavailable)
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return rest.PositionInfo{}, fmt.Errorf("position for %s: %w", symbol, lastErr)
}

// reconcile compares the persisted snapshot against the exchange on
// startup. The exchange is authoritative: recorded state is kept only
// where it agrees with the live position, otherwise it is rebuilt from
// what the venue reports and the mismatch is surfaced.
func (a *App) reconcile(ctx context.Context) error {
	snapshot, hadSnapshot, err := state.LoadHedgeSnapshot(ctx, a.store)
	if err != nil {
		a.log.Warn("snapshot load failed, trusting exchange only", zap.Error(err))
		hadSnapshot = false
	}
	for _, s := range a.sides {
		info, err := a.fetchPosition(ctx, s.symbol)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", s.symbol, err)
		}
		recorded := snapshot.Long
		if s.dir == strategy.SideShort {
			recorded = snapshot.Short
		}
		a.reconcileSide(s, info, recorded, hadSnapshot)
	}
	return a.saveSnapshot(ctx)
}

func (a *App) reconcileSide(s *side, info rest.PositionInfo, recorded state.SideSnapshot, hadSnapshot bool) {
	live := info.NotionalUSD
	if live <= 0 {
		if hadSnapshot && recorded.TotalNotionalUSD > 0 {
			a.metrics.ReconcileMismatch.Inc()
			a.metrics.ExternalCloses.Inc()
			a.log.Warn("recorded position missing on exchange, starting flat",
				zap.String("symbol", s.symbol),
				zap.Float64("recorded_usd", recorded.TotalNotionalUSD))
			// Advance the epoch so retried keys from the vanished cycle
			// cannot collide with the next one.
			a.tracker.Restore(s.symbol, 0, recorded.AnchorEpoch+1, false)
		} else if hadSnapshot && recorded.AnchorPrice > 0 {
			a.tracker.Restore(s.symbol, recorded.AnchorPrice, recorded.AnchorEpoch, false)
		}
		s.position.Clear()
		s.machine.SetState(strategy.StateFlat)
		return
	}

	s.position.TotalNotionalUSD = live
	s.position.AvgEntryPrice = info.AvgPrice
	matches := hadSnapshot && math.Abs(live-recorded.TotalNotionalUSD) <= reconcileToleranceUSD
	if matches {
		legs := recorded.LegsFilled
		if legs < 1 {
			legs = 1
		}
		s.position.LegsFilled = legs
		restored := restoredState(recorded.State)
		s.machine.SetState(restored)
		if restored == strategy.StateClosing {
			s.closing = true
		}
		if restored == strategy.StateCapped {
			s.capLogged = true
		}
		anchor := recorded.AnchorPrice
		if anchor > 0 {
			a.tracker.Restore(s.symbol, anchor, recorded.AnchorEpoch, true)
		} else {
			a.tracker.Restore(s.symbol, 0, recorded.AnchorEpoch, true)
		}
		a.log.Info("position restored",
			zap.String("symbol", s.symbol),
			zap.Float64("notional_usd", live),
			zap.Int("legs", legs),
			zap.String("state", string(restored)))
		return
	}

	a.metrics.ReconcileMismatch.Inc()
	a.log.Warn("exchange position differs from recorded state, adopting exchange view",
		zap.String("symbol", s.symbol),
		zap.Float64("exchange_usd", live),
		zap.Float64("recorded_usd", recorded.TotalNotionalUSD))
	legs := estimateLegs(live, a.cfg.Hedge)
	s.position.LegsFilled = legs
	if legs > 1 {
		s.machine.SetState(strategy.StateScaling)
	} else {
		s.machine.SetState(strategy.StateEntered)
	}
	// Freeze whatever anchor we have; with none, the next observation
	// seeds it without re-triggering immediately.
	a.tracker.Restore(s.symbol, recorded.AnchorPrice, recorded.AnchorEpoch, true)
}

// restoredState maps a persisted state back into the machine. A crash
// mid-entry restarts as entered (the fill is on the exchange, that is
// why we are here); a crash mid-close resumes closing.
func restoredState(raw string) strategy.State {
	switch strategy.State(raw) {
	case strategy.StateEntering, strategy.StateEntered:
		return strategy.StateEntered
	case strategy.StateScaling:
		return strategy.StateScaling
	case strategy.StateCapped:
		return strategy.StateCapped
	case strategy.StateClosing:
		return strategy.StateClosing
	default:
		return strategy.StateEntered
	}
}

func estimateLegs(notionalUSD float64, cfg config.HedgeConfig) int {
	if cfg.USDPositionSize <= 0 {
		return 1
	}
	legs := int(math.Ceil(notionalUSD / cfg.USDPositionSize))
	if legs < 1 {
		legs = 1
	}
	if cfg.EnableScaleIn && legs > cfg.ScaleInLegs {
		legs = cfg.ScaleInLegs
	}
	if !cfg.EnableScaleIn {
		legs = 1
	}
	return legs
}

func (a *App) saveSnapshot(ctx context.Context) error {
	snapshot := state.HedgeSnapshot{UpdatedAtMS: a.now().UnixMilli()}
	for _, s := range a.sides {
		anchor, epoch, frozen, _ := a.tracker.Snapshot(s.symbol)
		entry := state.SideSnapshot{
			Side:             string(s.dir),
			Symbol:           s.symbol,
			TotalNotionalUSD: s.position.TotalNotionalUSD,
			LegsFilled:       s.position.LegsFilled,
			AvgEntryPrice:    s.position.AvgEntryPrice,
			State:            string(s.machine.Current()),
			AnchorPrice:      anchor,
			AnchorEpoch:      epoch,
			AnchorFrozen:     frozen,
		}
		if s.dir == strategy.SideLong {
			snapshot.Long = entry
		} else {
			snapshot.Short = entry
		}
	}
	return state.SaveHedgeSnapshot(ctx, a.store, snapshot)
}

func (a *App) recordTick(s *side, price float64, reading strategy.Reading) {
	a.tsWriter.EnqueueTick(timescale.TickSnapshot{
		Time:        a.now(),
		Side:        string(s.dir),
		Symbol:      s.symbol,
		Price:       price,
		AnchorPrice: reading.Anchor,
		DrawdownPct: reading.Pct,
		State:       string(s.machine.Current()),
		LegsFilled:  s.position.LegsFilled,
		NotionalUSD: s.position.TotalNotionalUSD,
		AvgEntry:    s.position.AvgEntryPrice,
	})
}

// warmup pre-fetches both prices so the first real tick starts from a
// seeded anchor. Failures are logged and left to the loop's own retry.
func (a *App) warmup(ctx context.Context) {
	for _, s := range a.sides {
		price, err := a.fetchPrice(ctx, s.symbol)
		if err != nil {
			a.log.Warn("initial price fetch failed", zap.String("symbol", s.symbol), zap.Error(err))
			continue
		}
		reading := a.tracker.Observe(s.symbol, price, a.now())
		s.lastPrice = price
		s.lastPct = reading.Pct
		a.log.Info("initial price",
			zap.String("symbol", s.symbol),
			zap.Float64("price", price),
			zap.Float64("anchor", reading.Anchor))
	}
}

func (a *App) logBanner() {
	h := a.cfg.Hedge
	a.log.Info("hedge loop starting",
		zap.String("symbol_long", h.SymbolLong),
		zap.String("symbol_short", h.SymbolShort),
		zap.Float64("leg_usd", h.USDPositionSize),
		zap.Float64("max_usd", h.MaxUSDPosition),
		zap.Bool("scale_in", h.EnableScaleIn),
		zap.String("leg_triggers_pct", formatLegTriggers(h)),
		zap.Duration("poll_interval", h.PollInterval))
}

// formatLegTriggers renders the drawdown each leg fires at, e.g.
// "8.0, 10.0, 12.0" for trigger 8 with step 2 and 3 legs.
func formatLegTriggers(h config.HedgeConfig) string {
	legs := 1
	if h.EnableScaleIn {
		legs = h.ScaleInLegs
	}
	parts := make([]string, 0, legs)
	for k := 0; k < legs; k++ {
		parts = append(parts, fmt.Sprintf("%.1f", h.TriggerDropPct+float64(k)*h.ScaleInDropStep))
	}
	return strings.Join(parts, ", ")
}

func (a *App) startMetricsServer(ctx context.Context) {
	if !a.cfg.Metrics.Enabled || a.promHandler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.promHandler)
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) updateStatus() {
	var b strings.Builder
	fmt.Fprintf(&b, "paused=%v\n", a.paused.Load())
	for _, s := range a.sides {
		fmt.Fprintf(&b, "%s %s %s price=%.6f dd=%.2f%% legs=%d notional=$%.2f",
			s.dir, s.symbol, s.machine.Current(), s.lastPrice, s.lastPct,
			s.position.LegsFilled, s.position.TotalNotionalUSD)
		if s.halted {
			fmt.Fprintf(&b, " HALTED (%s)", s.haltReason)
		}
		b.WriteString("\n")
	}
	a.statusMu.Lock()
	a.status = strings.TrimRight(b.String(), "\n")
	a.statusMu.Unlock()
}

func (a *App) statusText() string {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	if a.status == "" {
		return "no tick recorded yet"
	}
	return a.status
}

// legOrderKey identifies one logical leg. The anchor epoch ties the key
// to one open/close cycle: a new cycle on the same symbol and leg index
// gets a fresh key, while retries within a cycle reuse the old one.
func legOrderKey(symbol string, legIndex int, epoch int64) string {
	return fmt.Sprintf("%s-leg%d-e%d", symbol, legIndex, epoch)
}

func closeOrderKey(symbol string, epoch int64) string {
	return fmt.Sprintf("%s-close-e%d", symbol, epoch)
}

func oppositeOrderSide(orderSide string) string {
	if orderSide == "Buy" {
		return "Sell"
	}
	return "Buy"
}
