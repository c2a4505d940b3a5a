package engine

import (
	"fmt"

	"trailguard/internal/broker"
	"trailguard/internal/executor"
	"trailguard/internal/pkg/ticks"
	"trailguard/internal/position"
	"trailguard/internal/volatility"
)

// stopLimitOffsetPct: 止损限价穿透止损价约 0.5%，偏向成交又避免纯市价滑点。
const defaultStopLimitOffsetPct = 0.005

// stopBreached 价格不利穿越止损。
func stopBreached(side position.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == position.SideShort {
		return ticks.GTE(price, stop)
	}
	return ticks.LTE(price, stop)
}

// profitDistanceATR 盈利距离（ATR 倍数）。空头取反。
func profitDistanceATR(side position.Side, price, entry, atr float64) float64 {
	if atr <= 0 {
		return 0
	}
	dist := (price - entry) / atr
	if side == position.SideShort {
		dist = -dist
	}
	return dist
}

// stopLimitPrice 止损限价：穿过止损价 offset 比例，再对齐 tick。
// 多头卖出向下取整，空头买入向上取整。
func stopLimitPrice(side position.Side, stop, tickSize, offsetPct float64) float64 {
	if offsetPct <= 0 {
		offsetPct = defaultStopLimitOffsetPct
	}
	if side == position.SideShort {
		return ticks.RoundUp(ticks.OffsetPct(stop, offsetPct, false), tickSize)
	}
	return ticks.RoundDown(ticks.OffsetPct(stop, offsetPct, true), tickSize)
}

// buildExitRequest evaluates one tick for one position and returns the order
// to fire, or nil. Priority is fixed: stop-loss first, then profit tranches
// from the highest ATR multiple downward, at most one tranche per tick.
// Callers must have already checked the hasPendingOrder gate.
func buildExitRequest(pos *position.Position, price float64, info volatility.Info, offsetPct float64) *executor.Request {
	if pos == nil || pos.Quantity <= 0 || price <= 0 {
		return nil
	}
	exitSide := broker.OrderSide(pos.Side.ExitSide())

	if stop := pos.StopLossTranche(); stop != nil && !stop.Triggered && stopBreached(pos.Side, price, pos.StopPrice) {
		qty := pos.TrancheQuantity(stop)
		if qty <= 0 {
			return nil
		}
		limit := stopLimitPrice(pos.Side, pos.StopPrice, pos.TickSize, offsetPct)
		req := executor.NewRequest(pos.Ticker, stop.ID, exitSide, qty, limit, "stop_loss", pos.Quantity-qty)
		req.Product = pos.Product
		return &req
	}

	dist := profitDistanceATR(pos.Side, price, pos.EntryPrice, info.ATR)
	for _, tr := range pos.UntriggeredProfitTranches() {
		if !ticks.GTE(dist, tr.ATRMultiple) {
			continue
		}
		qty := pos.TrancheQuantity(tr)
		if qty <= 0 {
			return nil
		}
		reason := fmt.Sprintf("profit_target_%gx", tr.ATRMultiple)
		req := executor.NewRequest(pos.Ticker, tr.ID, exitSide, qty, 0, reason, pos.Quantity-qty)
		req.Product = pos.Product
		return &req
	}
	return nil
}
