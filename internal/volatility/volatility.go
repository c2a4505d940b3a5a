package volatility

import (
	"math"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
)

// ATRPeriod 是真实波幅的平滑窗口；分类需要 period+1 根日线。
const ATRPeriod = 20

// Category 波动率档位，决定止损距离倍数与分批预设。
type Category string

const (
	CategoryLow    Category = "LOW"
	CategoryMedium Category = "MEDIUM"
	CategoryHigh   Category = "HIGH"
)

// Info 单标的一次波动率计算的结果。
type Info struct {
	ATR            float64
	ATRPercent     float64
	Category       Category
	StopMultiplier float64
	LatestClose    float64
	ComputedAt     time.Time
}

// Classify buckets atrPercent: <2% low, 2–4% inclusive medium, >4% high.
func Classify(atrPercent float64) (Category, float64) {
	switch {
	case atrPercent < 2:
		return CategoryLow, 1.0
	case atrPercent <= 4:
		return CategoryMedium, 1.5
	default:
		return CategoryHigh, 2.0
	}
}

// Compute derives ATR(20) from a daily series: true range per bar, then a
// simple moving average over the last 20 bars. Needs at least 21 bars so every
// TR has a previous close.
func Compute(ticker string, bars []broker.Candle) (Info, error) {
	if len(bars) < ATRPeriod+1 {
		return Info{}, &exiterr.InsufficientDataError{Ticker: ticker, Have: len(bars), Need: ATRPeriod + 1}
	}
	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - prevClose)
		lc := math.Abs(bars[i].Low - prevClose)
		tr = append(tr, math.Max(hl, math.Max(hc, lc)))
	}
	sma := talib.Sma(tr, ATRPeriod)
	atr := sma[len(sma)-1]
	latest := bars[len(bars)-1].Close
	if latest <= 0 || atr <= 0 {
		return Info{}, &exiterr.InsufficientDataError{Ticker: ticker, Have: len(bars), Need: ATRPeriod + 1}
	}
	pct := atr / latest * 100
	cat, mult := Classify(pct)
	return Info{
		ATR:            atr,
		ATRPercent:     pct,
		Category:       cat,
		StopMultiplier: mult,
		LatestClose:    latest,
		ComputedAt:     time.Now(),
	}, nil
}

// Engine caches per-ticker Info with a recompute window (default 24h). A
// failed refresh keeps the stale entry so the tracker never loses its
// multiplier mid-session.
type Engine struct {
	mu     sync.RWMutex
	ttl    time.Duration
	byTick map[string]Info
}

func NewEngine(ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Engine{ttl: ttl, byTick: make(map[string]Info)}
}

// Info 返回缓存的计算结果。
func (e *Engine) Info(ticker string) (Info, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.byTick[ticker]
	return info, ok
}

// NeedsRefresh 为真表示该标的从未计算过，或已超出重算窗口。
func (e *Engine) NeedsRefresh(ticker string, now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.byTick[ticker]
	if !ok {
		return true
	}
	return now.Sub(info.ComputedAt) >= e.ttl
}

// Update recomputes from fresh candles. On InsufficientData the previous Info
// is retained and returned alongside the error.
func (e *Engine) Update(ticker string, bars []broker.Candle) (Info, error) {
	info, err := Compute(ticker, bars)
	if err != nil {
		prev, ok := e.Info(ticker)
		if ok {
			return prev, err
		}
		return Info{}, err
	}
	e.mu.Lock()
	e.byTick[ticker] = info
	e.mu.Unlock()
	return info, nil
}

// Forget 移除标的（仓位已清空时调用）。
func (e *Engine) Forget(ticker string) {
	e.mu.Lock()
	delete(e.byTick, ticker)
	e.mu.Unlock()
}
