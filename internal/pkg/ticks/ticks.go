package ticks

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decimalEps = decimal.NewFromFloat(1e-8)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// RoundDown 将价格向下对齐到 tick 的整数倍。tick<=0 时原样返回。
func RoundDown(price, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	p := decFromFloat(price)
	t := decFromFloat(tick)
	steps := p.Div(t).Floor()
	return decToFloat(steps.Mul(t))
}

// RoundUp 将价格向上对齐到 tick 的整数倍。
func RoundUp(price, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	p := decFromFloat(price)
	t := decFromFloat(tick)
	steps := p.Div(t).Ceil()
	return decToFloat(steps.Mul(t))
}

// OffsetPct applies a relative offset and keeps decimal precision:
// pct=0.005 moves the price 0.5% up (or down when down=true).
func OffsetPct(price, pct float64, down bool) float64 {
	if price <= 0 {
		return price
	}
	p := decFromFloat(price)
	factor := decOne.Add(decFromFloat(pct))
	if down {
		factor = decOne.Sub(decFromFloat(pct))
	}
	return decToFloat(p.Mul(factor))
}

func compare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

// GTE/LTE 用 decimal 比较，规避二进制浮点的边界误差。
func GTE(a, b float64) bool { return compare(a, b) >= 0 }
func LTE(a, b float64) bool { return compare(a, b) <= 0 }
func GT(a, b float64) bool  { return compare(a, b) > 0 }
func LT(a, b float64) bool  { return compare(a, b) < 0 }

// ImprovesStop reports whether candidate is strictly better than current for
// the given direction ("long" stops only move up, "short" stops only move
// down). An epsilon guards against float noise flapping the stored stop.
func ImprovesStop(side string, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	switch side {
	case "short", "SHORT":
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	default:
		return cand.Cmp(curr.Add(decimalEps)) > 0
	}
}
