package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPosition(t *testing.T, qty int64) *Position {
	t.Helper()
	p, err := New("RELIANCE", "NSE", SideLong, qty, 100, "CNC", 0.05)
	require.NoError(t, err)
	return p
}

func defaultTranches() []Tranche {
	return []Tranche{
		{ID: "stop", Percent: 50},
		{ID: "tp2x", Percent: 30, ATRMultiple: 2},
		{ID: "tp3x", Percent: 20, ATRMultiple: 3},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "NSE", SideLong, 10, 100, "CNC", 0.05)
	assert.Error(t, err)
	_, err = New("X", "NSE", Side("SIDEWAYS"), 10, 100, "CNC", 0.05)
	assert.Error(t, err)
	_, err = New("X", "NSE", SideLong, 0, 100, "CNC", 0.05)
	assert.Error(t, err)
	_, err = New("X", "NSE", SideLong, 10, 0, "CNC", 0.05)
	assert.Error(t, err)

	p, err := New("reliance", "NSE", SideLong, 10, 100, "CNC", 0.05)
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", p.Ticker)
	assert.Equal(t, int64(10), p.OriginalQuantity)
	assert.InDelta(t, 1000.0, p.Investment, 1e-9)
}

func TestValidateTranches(t *testing.T) {
	assert.NoError(t, ValidateTranches(defaultTranches()))
	assert.Error(t, ValidateTranches(nil))
	assert.Error(t, ValidateTranches([]Tranche{{ID: "a", Percent: 60}, {ID: "b", Percent: 30}}))
	assert.Error(t, ValidateTranches([]Tranche{{ID: "a", Percent: 50}, {ID: "a", Percent: 50}}))
	assert.Error(t, ValidateTranches([]Tranche{{ID: "a", Percent: 0}, {ID: "b", Percent: 100}}))
}

func TestAssignTranchesOnce(t *testing.T) {
	p := mustPosition(t, 10)
	require.NoError(t, p.AssignTranches(defaultTranches()))
	assert.Error(t, p.AssignTranches(defaultTranches()), "二次分配应被拒绝")
	// 百分比之和恒为 100，与触发状态无关
	sum := 0.0
	for _, tr := range p.Tranches {
		sum += tr.Percent
	}
	assert.InDelta(t, 100.0, sum, 1e-9)
}

func TestTrancheQuantitySizing(t *testing.T) {
	p := mustPosition(t, 10)
	require.NoError(t, p.AssignTranches(defaultTranches()))

	stop := p.StopLossTranche()
	require.NotNil(t, stop)
	assert.Equal(t, int64(5), p.TrancheQuantity(stop))

	t.Run("minimum one share", func(t *testing.T) {
		small := mustPosition(t, 1)
		require.NoError(t, small.AssignTranches(defaultTranches()))
		assert.Equal(t, int64(1), small.TrancheQuantity(small.StopLossTranche()))
	})

	t.Run("capped at remaining", func(t *testing.T) {
		p := mustPosition(t, 10)
		require.NoError(t, p.AssignTranches(defaultTranches()))
		p.Quantity = 3
		assert.Equal(t, int64(3), p.TrancheQuantity(p.StopLossTranche()))
	})
}

func TestApplyFill(t *testing.T) {
	p := mustPosition(t, 10)
	require.NoError(t, p.AssignTranches(defaultTranches()))
	p.HasPendingOrder = true

	now := time.Now()
	remaining := p.ApplyFill("stop", 5, now)
	assert.Equal(t, int64(5), remaining)
	assert.True(t, p.Tranches["stop"].Triggered)
	assert.False(t, p.HasPendingOrder)
	assert.Equal(t, now, p.LastFillAt)

	// 已触发档不会回退
	p.ApplyFill("stop", 0, now)
	assert.True(t, p.Tranches["stop"].Triggered)

	// 超量成交不会出现负数量
	remaining = p.ApplyFill("tp2x", 99, now)
	assert.Equal(t, int64(0), remaining)
}

func TestUntriggeredProfitTranchesOrder(t *testing.T) {
	p := mustPosition(t, 10)
	require.NoError(t, p.AssignTranches(defaultTranches()))
	profit := p.UntriggeredProfitTranches()
	require.Len(t, profit, 2)
	assert.Equal(t, "tp3x", profit[0].ID, "倍数高的档优先评估")
	assert.Equal(t, "tp2x", profit[1].ID)

	p.Tranches["tp3x"].Triggered = true
	profit = p.UntriggeredProfitTranches()
	require.Len(t, profit, 1)
	assert.Equal(t, "tp2x", profit[0].ID)
}

func TestBook(t *testing.T) {
	b := NewBook()
	p := mustPosition(t, 10)
	b.Set(p)
	got, ok := b.Get("RELIANCE")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, []string{"RELIANCE"}, b.Tickers())

	snap := b.Snapshot()
	snap["RELIANCE"].Quantity = 1
	assert.Equal(t, int64(10), p.Quantity, "快照修改不应影响账本")

	b.Remove("RELIANCE")
	assert.Equal(t, 0, b.Len())
}
