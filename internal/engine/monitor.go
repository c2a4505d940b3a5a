package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"trailguard/internal/broker"
	"trailguard/internal/executor"
	"trailguard/internal/exitplan"
	"trailguard/internal/instruments"
	"trailguard/internal/logger"
	"trailguard/internal/position"
	"trailguard/internal/trailing"
	"trailguard/internal/volatility"
)

// OrderQueue 是 executor 暴露给引擎的入队面。
type OrderQueue interface {
	Enqueue(req executor.Request) error
	Depth() int
}

// PositionStore 持仓快照持久化（崩溃恢复触发状态用）。
type PositionStore interface {
	SavePosition(ctx context.Context, p *position.Position) error
	DeletePosition(ctx context.Context, ticker string) error
	LoadTranches(ctx context.Context, ticker string) ([]position.Tranche, error)
}

// Config 引擎参数。
type Config struct {
	// StopLimitOffsetPct 止损限价穿透比例，默认 0.5%。
	StopLimitOffsetPct float64
	// ReconcileGrace 对账宽限期：近期有成交或订单在途时不摘除持仓。
	ReconcileGrace time.Duration
	// CandleDays 计算 ATR 拉取的日线数量。
	CandleDays int
}

func (c Config) withDefaults() Config {
	if c.StopLimitOffsetPct <= 0 {
		c.StopLimitOffsetPct = defaultStopLimitOffsetPct
	}
	if c.ReconcileGrace <= 0 {
		c.ReconcileGrace = 2 * time.Minute
	}
	if c.CandleDays <= 0 {
		c.CandleDays = volatility.ATRPeriod * 2
	}
	return c
}

// Monitor is the single-goroutine actor that owns the position ledger.
// Producers (price feed, control loop, executor) hand it immutable messages;
// all ledger mutation happens inside Run. Slow broker calls (candles,
// holdings) are dispatched to goroutines that post results back as messages.
type Monitor struct {
	cfg     Config
	book    *position.Book
	vol     *volatility.Engine
	tracker *trailing.Tracker
	presets *exitplan.Registry
	queue   OrderQueue
	broker  broker.Broker
	catalog *instruments.Catalog
	store   PositionStore

	msgCh    chan Message
	outcomes chan executor.Outcome

	fetchingCandles  map[string]bool
	fetchingHoldings bool

	snapshot atomic.Value // map[string]*position.Position
}

func NewMonitor(cfg Config, book *position.Book, vol *volatility.Engine, tracker *trailing.Tracker,
	presets *exitplan.Registry, queue OrderQueue, b broker.Broker, catalog *instruments.Catalog,
	store PositionStore) *Monitor {
	m := &Monitor{
		cfg:             cfg.withDefaults(),
		book:            book,
		vol:             vol,
		tracker:         tracker,
		presets:         presets,
		queue:           queue,
		broker:          b,
		catalog:         catalog,
		store:           store,
		msgCh:           make(chan Message, 256),
		outcomes:        make(chan executor.Outcome, 64),
		fetchingCandles: make(map[string]bool),
	}
	m.refreshSnapshot()
	return m
}

// SetQueue 注入订单队列。executor 依赖 Outcomes() 通道，构造顺序上
// 只能在 Monitor 之后创建，故允许 Run 之前回填。
func (m *Monitor) SetQueue(q OrderQueue) { m.queue = q }

// Outcomes 供 executor 回送终态的通道。
func (m *Monitor) Outcomes() chan<- executor.Outcome { return m.outcomes }

// Submit 投递事件。队列满时丢弃价格批次（下一轮会再来），其余事件阻塞等待。
func (m *Monitor) Submit(msg Message) {
	if _, isPrice := msg.(PriceBatch); isPrice {
		select {
		case m.msgCh <- msg:
		default:
			logger.Warnf("monitor: event queue full, dropping price batch")
		}
		return
	}
	m.msgCh <- msg
}

// Bootstrap restores watermarks and seeds the ledger from broker holdings.
// Broker auth failures and an empty ledger are fatal startup errors.
func (m *Monitor) Bootstrap(ctx context.Context) error {
	if err := m.tracker.Restore(ctx); err != nil {
		return fmt.Errorf("restore stop watermarks: %w", err)
	}
	holdings, err := m.broker.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("fetch holdings: %w", err)
	}
	m.applyHoldings(ctx, holdings)
	if m.book.Len() == 0 {
		return fmt.Errorf("no positions to track (holdings=%d, watchlist=%d)", len(holdings), len(m.catalog.Tickers()))
	}
	logger.Infof("monitor: tracking %d positions: %v", m.book.Len(), m.book.Tickers())
	return nil
}

// Tickers 返回当前监控标的（价格轮询用，读快照，无锁争用）。
func (m *Monitor) Tickers() []string {
	snap := m.Snapshot()
	out := make([]string, 0, len(snap))
	for ticker := range snap {
		out = append(out, ticker)
	}
	return out
}

// Snapshot 账本只读快照（状态页用）。
func (m *Monitor) Snapshot() map[string]*position.Position {
	val := m.snapshot.Load()
	if val == nil {
		return map[string]*position.Position{}
	}
	return val.(map[string]*position.Position)
}

func (m *Monitor) refreshSnapshot() {
	m.snapshot.Store(m.book.Snapshot())
}

// Run 事件循环。直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) error {
	logger.Infof("monitor: actor started")
	for {
		select {
		case msg := <-m.msgCh:
			m.handle(ctx, msg)
		case out := <-m.outcomes:
			m.handle(ctx, out)
		case <-ctx.Done():
			logger.Infof("monitor: actor stopping")
			return ctx.Err()
		}
	}
}

func (m *Monitor) handle(ctx context.Context, msg any) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("monitor: panic handling %T: %v", msg, r)
			debug.PrintStack()
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("monitor: slow event %T took %v", msg, dur)
		}
	}()

	switch ev := msg.(type) {
	case PriceBatch:
		for _, q := range ev.Quotes {
			m.handleQuote(ctx, q)
		}
	case ReconcileTick:
		m.dispatchHoldingsFetch(ctx)
	case candleResult:
		m.handleCandles(ev)
	case holdingsResult:
		m.handleHoldingsResult(ctx, ev)
	case executor.Outcome:
		m.handleOutcome(ctx, ev)
	default:
		logger.Warnf("monitor: unknown event %T", msg)
	}
}

// handleQuote 单标的一次报价：更新追踪止损并评估档位。
// read-decide-write 全程在 actor 内完成，对同一标的天然原子。
func (m *Monitor) handleQuote(ctx context.Context, q broker.Quote) {
	pos, ok := m.book.Get(q.Ticker)
	if !ok || q.Price <= 0 {
		return
	}
	if m.catalog.Excluded(q.Ticker) {
		return
	}

	if m.vol.NeedsRefresh(q.Ticker, time.Now()) {
		m.dispatchCandleFetch(ctx, q.Ticker)
	}
	info, ok := m.vol.Info(q.Ticker)
	if !ok {
		return // 首次波动率尚未就绪，等 candleResult
	}
	pos.Volatility = &info

	if len(pos.Tranches) == 0 {
		if !m.assignPreset(ctx, pos, info.Category) {
			return
		}
	}

	stop, moved := m.tracker.Observe(ctx, q.Ticker, pos.Side, q.Price, info.ATR, info.StopMultiplier)
	if stop > 0 && stop != pos.StopPrice {
		pos.StopPrice = stop
	}
	if moved {
		logger.Infof("monitor: %s stop moved to %.2f (price=%.2f atr=%.2f x%.1f)",
			q.Ticker, stop, q.Price, info.ATR, info.StopMultiplier)
		m.persist(ctx, pos)
	}

	// 互斥闸：订单在途时不再评估
	if pos.HasPendingOrder {
		return
	}
	req := buildExitRequest(pos, q.Price, info, m.cfg.StopLimitOffsetPct)
	if req == nil {
		return
	}
	if err := m.queue.Enqueue(*req); err != nil {
		logger.Warnf("monitor: enqueue %s tranche=%s failed: %v", req.Ticker, req.TrancheID, err)
		return
	}
	pos.HasPendingOrder = true
	pos.PendingSince = time.Now()
	logger.Infof("monitor: %s fired tranche=%s qty=%d reason=%s price=%.2f stop=%.2f",
		req.Ticker, req.TrancheID, req.Quantity, req.Reason, q.Price, pos.StopPrice)
	m.persist(ctx, pos)
}

// assignPreset 首次评估时按波动率档位固定分批模板。
func (m *Monitor) assignPreset(ctx context.Context, pos *position.Position, cat volatility.Category) bool {
	// 崩溃恢复：快照里有已分配（含触发状态）的档位则原样接回
	if m.store != nil {
		if saved, err := m.store.LoadTranches(ctx, pos.Ticker); err != nil {
			logger.Warnf("monitor: load saved tranches %s failed: %v", pos.Ticker, err)
		} else if len(saved) > 0 {
			if err := pos.AssignTranches(saved); err == nil {
				for _, tr := range saved {
					if tr.Triggered {
						pos.Tranches[tr.ID].Triggered = true
					}
				}
				logger.Infof("monitor: %s restored %d tranches from snapshot", pos.Ticker, len(saved))
				return true
			}
		}
	}
	preset, ok := m.presets.PresetFor(cat)
	if !ok {
		logger.Errorf("monitor: no preset for category %s", cat)
		return false
	}
	if err := pos.AssignTranches(preset.Tranches); err != nil {
		logger.Errorf("monitor: assign tranches %s failed: %v", pos.Ticker, err)
		return false
	}
	logger.Infof("monitor: %s assigned %s preset (%d tranches)", pos.Ticker, cat, len(pos.Tranches))
	m.persist(ctx, pos)
	return true
}

func (m *Monitor) dispatchCandleFetch(ctx context.Context, ticker string) {
	if m.fetchingCandles[ticker] {
		return
	}
	m.fetchingCandles[ticker] = true
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		bars, err := m.broker.DailyCandles(fetchCtx, ticker, m.cfg.CandleDays)
		m.Submit(candleResult{Ticker: ticker, Bars: bars, Err: err})
	}()
}

func (m *Monitor) handleCandles(res candleResult) {
	delete(m.fetchingCandles, res.Ticker)
	if res.Err != nil {
		logger.Warnf("monitor: candle fetch %s failed: %v", res.Ticker, res.Err)
		return
	}
	info, err := m.vol.Update(res.Ticker, res.Bars)
	if err != nil {
		// 数据不足：保留旧值，下个窗口重试
		logger.Warnf("monitor: volatility update %s skipped: %v", res.Ticker, err)
		return
	}
	logger.Infof("monitor: %s volatility %s atr=%.2f (%.2f%%) multiplier=%.1f",
		res.Ticker, info.Category, info.ATR, info.ATRPercent, info.StopMultiplier)
}

// handleOutcome 订单终态：成交/重复单推进账本，失败仅清互斥闸。
func (m *Monitor) handleOutcome(ctx context.Context, out executor.Outcome) {
	pos, ok := m.book.Get(out.Request.Ticker)
	if !ok {
		logger.Warnf("monitor: outcome for untracked ticker %s", out.Request.Ticker)
		return
	}
	if !out.Terminal() {
		// 重试耗尽：解除闸门让下个周期重新决策，数量不动
		pos.HasPendingOrder = false
		pos.PendingSince = time.Time{}
		logger.Warnf("monitor: %s tranche=%s failed (attempts=%d), re-eligible next cycle: %s",
			out.Request.Ticker, out.Request.TrancheID, out.Attempts, out.Err)
		m.persist(ctx, pos)
		return
	}

	remaining := pos.ApplyFill(out.Request.TrancheID, out.FilledQty, time.Now())
	logger.Infof("monitor: %s tranche=%s %s filled=%d remaining=%d order=%s",
		out.Request.Ticker, out.Request.TrancheID, out.Status, out.FilledQty, remaining, out.BrokerOrderID)
	if remaining <= 0 {
		m.removePosition(ctx, pos.Ticker)
		return
	}
	m.persist(ctx, pos)
}

func (m *Monitor) dispatchHoldingsFetch(ctx context.Context) {
	if m.fetchingHoldings {
		return
	}
	m.fetchingHoldings = true
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		holdings, err := m.broker.Holdings(fetchCtx)
		m.Submit(holdingsResult{Holdings: holdings, Err: err})
	}()
}

func (m *Monitor) handleHoldingsResult(ctx context.Context, res holdingsResult) {
	m.fetchingHoldings = false
	if res.Err != nil {
		logger.Warnf("monitor: reconcile holdings fetch failed: %v", res.Err)
		return
	}
	m.applyHoldings(ctx, res.Holdings)
}

// applyHoldings 对账：补上券商有而本地没有的持仓；摘除券商没有的持仓，
// 但订单在途或宽限期内有成交的除外（等券商结算）。
func (m *Monitor) applyHoldings(ctx context.Context, holdings []broker.Holding) {
	atBroker := make(map[string]broker.Holding, len(holdings))
	for _, h := range holdings {
		if h.Quantity == 0 {
			continue
		}
		atBroker[h.Ticker] = h
	}

	for ticker, h := range atBroker {
		if m.catalog.Excluded(ticker) {
			continue
		}
		if _, ok := m.catalog.Lookup(ticker); !ok {
			continue // 不在监控清单内
		}
		if _, tracked := m.book.Get(ticker); tracked {
			continue
		}
		side := position.SideLong
		qty := h.Quantity
		if qty < 0 {
			side = position.SideShort
			qty = -qty
		}
		inst, _ := m.catalog.Lookup(ticker)
		pos, err := position.New(ticker, h.Exchange, side, qty, h.AveragePrice, h.Product, inst.TickSize)
		if err != nil {
			logger.Warnf("monitor: reconcile skip %s: %v", ticker, err)
			continue
		}
		if stop, ok := m.tracker.Stop(ticker); ok {
			pos.StopPrice = stop
		}
		m.book.Set(pos)
		logger.Infof("monitor: reconcile added %s %s qty=%d entry=%.2f", ticker, side, qty, h.AveragePrice)
		m.persist(ctx, pos)
	}

	for _, ticker := range m.book.Tickers() {
		if _, present := atBroker[ticker]; present {
			continue
		}
		pos, _ := m.book.Get(ticker)
		if pos.HasPendingOrder {
			logger.Infof("monitor: reconcile keeping %s (order in flight)", ticker)
			continue
		}
		if !pos.LastFillAt.IsZero() && time.Since(pos.LastFillAt) < m.cfg.ReconcileGrace {
			logger.Infof("monitor: reconcile keeping %s (fill settling, grace %s)", ticker, m.cfg.ReconcileGrace)
			continue
		}
		logger.Infof("monitor: reconcile removing %s (absent at broker)", ticker)
		m.removePosition(ctx, ticker)
	}
	m.refreshSnapshot()
}

func (m *Monitor) removePosition(ctx context.Context, ticker string) {
	m.book.Remove(ticker)
	m.tracker.Forget(ctx, ticker)
	m.vol.Forget(ticker)
	if m.store != nil {
		if err := m.store.DeletePosition(ctx, ticker); err != nil {
			logger.Warnf("monitor: delete snapshot %s failed: %v", ticker, err)
		}
	}
	logger.Infof("monitor: %s fully exited, removed from ledger", ticker)
	m.refreshSnapshot()
}

func (m *Monitor) persist(ctx context.Context, pos *position.Position) {
	if m.store != nil {
		if err := m.store.SavePosition(ctx, pos); err != nil {
			logger.Warnf("monitor: persist %s failed: %v", pos.Ticker, err)
		}
	}
	m.refreshSnapshot()
}
