package volatility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
)

// flatBars 产生 TR 恒定的日线序列，便于直接验证 ATR。
func flatBars(n int, rangeWidth float64) []broker.Candle {
	bars := make([]broker.Candle, 0, n)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars = append(bars, broker.Candle{
			Time:  day.AddDate(0, 0, i),
			Open:  100,
			High:  100 + rangeWidth/2,
			Low:   100 - rangeWidth/2,
			Close: 100,
		})
	}
	return bars
}

func TestComputeConstantRange(t *testing.T) {
	info, err := Compute("RELIANCE", flatBars(21, 2))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, info.ATR, 1e-9)
	assert.InDelta(t, 2.0, info.ATRPercent, 1e-9)
	assert.Equal(t, CategoryMedium, info.Category)
	assert.InDelta(t, 1.5, info.StopMultiplier, 1e-9)
	assert.InDelta(t, 100.0, info.LatestClose, 1e-9)
}

func TestComputeUsesGapsInTrueRange(t *testing.T) {
	bars := flatBars(21, 2)
	// 最后一根跳空：TR 应取 |high-prevClose|
	bars[20].High = 110
	bars[20].Low = 108
	bars[20].Close = 109
	info, err := Compute("TATASTEEL", bars)
	require.NoError(t, err)
	// 19 根 TR=2，最后一根 TR=max(2, |110-100|, |108-100|)=10
	assert.InDelta(t, (19*2.0+10.0)/20.0, info.ATR, 1e-9)
}

func TestClassifyBuckets(t *testing.T) {
	cases := []struct {
		pct  float64
		cat  Category
		mult float64
	}{
		{1.99, CategoryLow, 1.0},
		{2.0, CategoryMedium, 1.5},
		{4.0, CategoryMedium, 1.5},
		{4.01, CategoryHigh, 2.0},
	}
	for _, tc := range cases {
		cat, mult := Classify(tc.pct)
		assert.Equal(t, tc.cat, cat, "pct=%v", tc.pct)
		assert.InDelta(t, tc.mult, mult, 1e-9, "pct=%v", tc.pct)
	}
}

func TestComputeInsufficientBars(t *testing.T) {
	_, err := Compute("INFY", flatBars(20, 2))
	require.Error(t, err)
	var insuff *exiterr.InsufficientDataError
	require.ErrorAs(t, err, &insuff)
	assert.Equal(t, 20, insuff.Have)
	assert.Equal(t, 21, insuff.Need)
}

func TestEngineKeepsStaleInfoOnFailure(t *testing.T) {
	eng := NewEngine(24 * time.Hour)
	first, err := eng.Update("INFY", flatBars(21, 6))
	require.NoError(t, err)
	assert.Equal(t, CategoryHigh, first.Category)

	// 数据变差时保留旧结果
	stale, err := eng.Update("INFY", flatBars(5, 6))
	require.Error(t, err)
	assert.Equal(t, first.ATR, stale.ATR)

	cached, ok := eng.Info("INFY")
	require.True(t, ok)
	assert.Equal(t, first.Category, cached.Category)
}

func TestEngineRefreshWindow(t *testing.T) {
	eng := NewEngine(24 * time.Hour)
	now := time.Now()
	assert.True(t, eng.NeedsRefresh("SBIN", now))
	_, err := eng.Update("SBIN", flatBars(21, 2))
	require.NoError(t, err)
	assert.False(t, eng.NeedsRefresh("SBIN", now))
	assert.True(t, eng.NeedsRefresh("SBIN", now.Add(25*time.Hour)))
}
