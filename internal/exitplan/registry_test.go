package exitplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/internal/position"
	"trailguard/internal/volatility"
)

func TestDefaultPresetsSumTo100(t *testing.T) {
	for cat, preset := range DefaultPresets() {
		assert.NoError(t, position.ValidateTranches(preset.Tranches), "category=%s", cat)
	}
}

func TestDefaultPresetShares(t *testing.T) {
	presets := DefaultPresets()

	low := presets[volatility.CategoryLow]
	require.Len(t, low.Tranches, 3)
	assert.InDelta(t, 50.0, low.Tranches[0].Percent, 1e-9)
	assert.InDelta(t, 2.0, low.Tranches[1].ATRMultiple, 1e-9)
	assert.InDelta(t, 3.0, low.Tranches[2].ATRMultiple, 1e-9)

	high := presets[volatility.CategoryHigh]
	assert.InDelta(t, 30.0, high.Tranches[0].Percent, 1e-9)
	assert.InDelta(t, 5.0, high.Tranches[2].ATRMultiple, 1e-9)
}

func TestRegistryWithoutFileUsesDefaults(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	p, ok := r.PresetFor(volatility.CategoryMedium)
	require.True(t, ok)
	assert.Len(t, p.Tranches, 3)
	assert.InDelta(t, 40.0, p.Tranches[0].Percent, 1e-9)
}

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryFileOverride(t *testing.T) {
	path := writePresetFile(t, `
presets:
  high:
    description: aggressive runner
    tranches:
      - id: stop
        percent: 20
      - id: tp3x
        percent: 30
        atr_multiple: 3
      - id: tp6x
        percent: 50
        atr_multiple: 6
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	high, ok := r.PresetFor(volatility.CategoryHigh)
	require.True(t, ok)
	assert.InDelta(t, 20.0, high.Tranches[0].Percent, 1e-9)
	assert.InDelta(t, 6.0, high.Tranches[2].ATRMultiple, 1e-9)

	// 未覆盖的档位保留内置模板
	low, ok := r.PresetFor(volatility.CategoryLow)
	require.True(t, ok)
	assert.InDelta(t, 50.0, low.Tranches[0].Percent, 1e-9)
}

func TestRegistryRejectsBadPercentSum(t *testing.T) {
	path := writePresetFile(t, `
presets:
  low:
    tranches:
      - id: stop
        percent: 50
      - id: tp2x
        percent: 30
        atr_multiple: 2
`)
	_, err := NewRegistry(path)
	assert.Error(t, err)
}

func TestRegistryRejectsUnknownCategory(t *testing.T) {
	path := writePresetFile(t, `
presets:
  extreme:
    tranches:
      - id: stop
        percent: 100
`)
	_, err := NewRegistry(path)
	assert.Error(t, err)
}

func TestRegistryRejectsSchemaViolations(t *testing.T) {
	path := writePresetFile(t, `
presets:
  low:
    tranches:
      - percent: 100
`)
	_, err := NewRegistry(path)
	assert.Error(t, err, "缺 id 应被 schema 拒绝")
}
