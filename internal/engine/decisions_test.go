package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/internal/broker"
	"trailguard/internal/position"
	"trailguard/internal/volatility"
)

func mediumTranches() []position.Tranche {
	return []position.Tranche{
		{ID: "stop", Percent: 40},
		{ID: "tp2.5x", Percent: 30, ATRMultiple: 2.5},
		{ID: "tp4x", Percent: 30, ATRMultiple: 4},
	}
}

func longPosition(t *testing.T, qty int64) *position.Position {
	t.Helper()
	pos, err := position.New("RELIANCE", "NSE", position.SideLong, qty, 100, "CNC", 0.05)
	require.NoError(t, err)
	require.NoError(t, pos.AssignTranches(mediumTranches()))
	return pos
}

func mediumInfo() volatility.Info {
	return volatility.Info{ATR: 10, ATRPercent: 2.5, Category: volatility.CategoryMedium, StopMultiplier: 1.5}
}

func TestStopLossFiresWithLimitPrice(t *testing.T) {
	pos := longPosition(t, 10)
	pos.StopPrice = 95

	// 价格未破止损：不出单
	assert.Nil(t, buildExitRequest(pos, 96, mediumInfo(), 0))

	req := buildExitRequest(pos, 94, mediumInfo(), 0)
	require.NotNil(t, req)
	assert.Equal(t, "stop", req.TrancheID)
	assert.Equal(t, broker.SideSell, req.Side)
	assert.Equal(t, int64(4), req.Quantity, "40% of original 10")
	// 95 × (1-0.005) = 94.525，向下对齐 0.05 → 94.50
	assert.InDelta(t, 94.50, req.LimitPrice, 1e-9)
	assert.Equal(t, "stop_loss", req.Reason)
	assert.Equal(t, int64(6), req.RemainingAfter)
}

func TestStopLossShortSide(t *testing.T) {
	pos, err := position.New("INFY", "NSE", position.SideShort, 10, 100, "MIS", 0.05)
	require.NoError(t, err)
	require.NoError(t, pos.AssignTranches(mediumTranches()))
	pos.StopPrice = 106

	req := buildExitRequest(pos, 107, mediumInfo(), 0)
	require.NotNil(t, req)
	assert.Equal(t, broker.SideBuy, req.Side)
	// 106 × 1.005 = 106.53，向上对齐 0.05 → 106.55
	assert.InDelta(t, 106.55, req.LimitPrice, 1e-9)
}

func TestProfitTargetsHighestMultipleFirst(t *testing.T) {
	pos := longPosition(t, 10)
	pos.StopPrice = 85

	// ATR=10，entry=100：价格 125 → 2.5×，只触发 tp2.5x
	req := buildExitRequest(pos, 125, mediumInfo(), 0)
	require.NotNil(t, req)
	assert.Equal(t, "tp2.5x", req.TrancheID)
	assert.Zero(t, req.LimitPrice, "盈利档按市价退出")
	assert.Equal(t, int64(3), req.Quantity)
	assert.Equal(t, "profit_target_2.5x", req.Reason)

	// 价格 145 → 4.5×：两档都满足，但高倍数档优先且一次只触发一档
	req = buildExitRequest(pos, 145, mediumInfo(), 0)
	require.NotNil(t, req)
	assert.Equal(t, "tp4x", req.TrancheID)
}

func TestTriggeredTranchesDoNotRefire(t *testing.T) {
	pos := longPosition(t, 10)
	pos.StopPrice = 85
	pos.Tranches["tp4x"].Triggered = true
	pos.Tranches["tp2.5x"].Triggered = true
	assert.Nil(t, buildExitRequest(pos, 145, mediumInfo(), 0))

	pos.Tranches["stop"].Triggered = true
	pos.StopPrice = 95
	assert.Nil(t, buildExitRequest(pos, 90, mediumInfo(), 0), "止损档一次性")
}

func TestStopTakesPriorityOverProfit(t *testing.T) {
	pos := longPosition(t, 10)
	// 止损水位已被推高到入场价上方（大幅盈利后回落的场景）
	pos.StopPrice = 126
	req := buildExitRequest(pos, 125, mediumInfo(), 0)
	require.NotNil(t, req)
	assert.Equal(t, "stop", req.TrancheID)
}

func TestMinimumOneShare(t *testing.T) {
	pos, err := position.New("SUZLON", "NSE", position.SideLong, 2, 50, "CNC", 0.05)
	require.NoError(t, err)
	require.NoError(t, pos.AssignTranches(mediumTranches()))
	pos.StopPrice = 48
	req := buildExitRequest(pos, 47, mediumInfo(), 0)
	require.NotNil(t, req)
	// 40% of 2 = 0.8 → 最少 1 股
	assert.Equal(t, int64(1), req.Quantity)
}

func TestProfitDistanceATR(t *testing.T) {
	assert.InDelta(t, 2.5, profitDistanceATR(position.SideLong, 125, 100, 10), 1e-9)
	assert.InDelta(t, 2.5, profitDistanceATR(position.SideShort, 75, 100, 10), 1e-9)
	assert.InDelta(t, -1.0, profitDistanceATR(position.SideLong, 90, 100, 10), 1e-9)
	assert.Zero(t, profitDistanceATR(position.SideLong, 125, 100, 0))
}
