package marketclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionWindow(t *testing.T) {
	c, err := New("Asia/Kolkata", "09:15", "15:30")
	require.NoError(t, err)

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 2026-08-24 是周一
	assert.True(t, c.IsOpen(time.Date(2026, 8, 24, 10, 0, 0, 0, ist)))
	assert.True(t, c.IsOpen(time.Date(2026, 8, 24, 9, 15, 0, 0, ist)))
	assert.False(t, c.IsOpen(time.Date(2026, 8, 24, 9, 14, 0, 0, ist)))
	assert.False(t, c.IsOpen(time.Date(2026, 8, 24, 15, 30, 0, 0, ist)), "收盘时刻本身视为已收盘")
	assert.False(t, c.IsOpen(time.Date(2026, 8, 22, 10, 0, 0, 0, ist)), "周六休市")
}

func TestNextCloseAndOpen(t *testing.T) {
	c, err := New("Asia/Kolkata", "09:15", "15:30")
	require.NoError(t, err)
	ist, _ := time.LoadLocation("Asia/Kolkata")

	// 周一盘中：当日收盘
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 8, 24, 15, 30, 0, 0, ist), c.NextClose(at))

	// 周五盘后：下一开盘跳过周末
	friEvening := time.Date(2026, 8, 21, 18, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 15, 0, 0, ist), c.NextOpen(friEvening))
	assert.Equal(t, time.Date(2026, 8, 24, 15, 30, 0, 0, ist), c.NextClose(friEvening))
}

func TestAlwaysOpen(t *testing.T) {
	c, err := New("", "", "")
	require.NoError(t, err)
	assert.True(t, c.IsOpen(time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)), "周日也交易")
	assert.True(t, c.NextClose(time.Now()).IsZero())
}

func TestInvalidWindows(t *testing.T) {
	_, err := New("Asia/Kolkata", "15:30", "09:15")
	assert.Error(t, err)
	_, err = New("Asia/Kolkata", "25:00", "26:00")
	assert.Error(t, err)
	_, err = New("Not/AZone", "09:15", "15:30")
	assert.Error(t, err)
}
