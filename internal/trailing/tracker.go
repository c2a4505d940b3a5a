package trailing

import (
	"context"

	"trailguard/internal/logger"
	"trailguard/internal/pkg/ticks"
	"trailguard/internal/position"
)

// WatermarkStore persists the highest-ever favorable stop per ticker so a
// restart can never relax a stop that was already live.
type WatermarkStore interface {
	LoadWatermarks(ctx context.Context) (map[string]float64, error)
	SaveWatermark(ctx context.Context, ticker string, side position.Side, stop float64) error
	DeleteWatermark(ctx context.Context, ticker string) error
}

type state struct {
	extreme float64 // 多头为最高价，空头为最低价
	stop    float64
}

// Tracker 维护每个标的的有利极值与当前止损。止损只朝有利方向移动。
// 仅由监控 actor 调用，无需加锁。
type Tracker struct {
	store  WatermarkStore
	states map[string]*state
}

func NewTracker(store WatermarkStore) *Tracker {
	return &Tracker{store: store, states: make(map[string]*state)}
}

// Restore 启动时用持久化水位播种，保证重启后止损不回退。
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	marks, err := t.store.LoadWatermarks(ctx)
	if err != nil {
		return err
	}
	for ticker, stop := range marks {
		if stop <= 0 {
			continue
		}
		t.states[ticker] = &state{stop: stop}
	}
	if len(marks) > 0 {
		logger.Infof("trailing: restored %d stop watermarks", len(marks))
	}
	return nil
}

// Observe feeds one price: extends the favorable extreme if needed, recomputes
// candidateStop = extreme ∓ atr*multiplier, and ratchets the stored stop
// (max for LONG, min for SHORT). Returns the current stop and whether it moved.
func (t *Tracker) Observe(ctx context.Context, ticker string, side position.Side, price, atr, multiplier float64) (float64, bool) {
	if price <= 0 || atr <= 0 || multiplier <= 0 {
		if st, ok := t.states[ticker]; ok {
			return st.stop, false
		}
		return 0, false
	}
	st, ok := t.states[ticker]
	if !ok {
		st = &state{}
		t.states[ticker] = st
	}
	switch side {
	case position.SideShort:
		if st.extreme <= 0 || ticks.LT(price, st.extreme) {
			st.extreme = price
		}
	default:
		if ticks.GT(price, st.extreme) {
			st.extreme = price
		}
	}

	distance := atr * multiplier
	candidate := st.extreme - distance
	if side == position.SideShort {
		candidate = st.extreme + distance
	}
	if !ticks.ImprovesStop(string(side), candidate, st.stop) {
		return st.stop, false
	}
	st.stop = candidate
	if t.store != nil {
		if err := t.store.SaveWatermark(ctx, ticker, side, st.stop); err != nil {
			logger.Warnf("trailing: persist watermark %s failed: %v", ticker, err)
		}
	}
	return st.stop, true
}

// Stop 返回当前止损（可能来自重启恢复的水位）。
func (t *Tracker) Stop(ticker string) (float64, bool) {
	st, ok := t.states[ticker]
	if !ok || st.stop <= 0 {
		return 0, false
	}
	return st.stop, true
}

// Extreme 返回当前有利极值。
func (t *Tracker) Extreme(ticker string) (float64, bool) {
	st, ok := t.states[ticker]
	if !ok || st.extreme <= 0 {
		return 0, false
	}
	return st.extreme, true
}

// Forget 仓位清零后移除状态与持久化水位。
func (t *Tracker) Forget(ctx context.Context, ticker string) {
	delete(t.states, ticker)
	if t.store != nil {
		if err := t.store.DeleteWatermark(ctx, ticker); err != nil {
			logger.Warnf("trailing: delete watermark %s failed: %v", ticker, err)
		}
	}
}
