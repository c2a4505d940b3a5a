package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/internal/broker"
	tgcfg "trailguard/internal/config"
)

type stubBroker struct{}

func (stubBroker) LTP(context.Context, []string) (map[string]broker.Quote, error) {
	return map[string]broker.Quote{}, nil
}
func (stubBroker) DailyCandles(context.Context, string, int) ([]broker.Candle, error) {
	return nil, nil
}
func (stubBroker) Holdings(context.Context) ([]broker.Holding, error) { return nil, nil }
func (stubBroker) PlaceOrder(context.Context, broker.OrderParams) (string, error) {
	return "ord-1", nil
}
func (stubBroker) CancelConditionalOrders(context.Context, string) error { return nil }
func (stubBroker) BatchLimit() int                                       { return 500 }

func testConfig(t *testing.T) *tgcfg.Config {
	t.Helper()
	dir := t.TempDir()

	watchlist := filepath.Join(dir, "watchlist.yaml")
	require.NoError(t, os.WriteFile(watchlist, []byte(`
tickers:
  - ticker: RELIANCE
    exchange: NSE
    token: 738561
    tick_size: 0.05
`), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
app:
  log_path: ""
broker:
  kite:
    api_key: k
    access_token: t
feed:
  watchlist_path: `+watchlist+`
risk:
  presets_path: ""
  state_db: `+filepath.Join(dir, "state.db")+`
  audit_db: `+filepath.Join(dir, "audit.db")+`
`), 0o644))

	cfg, err := tgcfg.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func TestBuildWiresEverything(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg, WithBroker(stubBroker{}))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.Monitor())
	assert.NotNil(t, a.exec)
	assert.NotNil(t, a.poller)
	assert.NotNil(t, a.status)
	assert.NotNil(t, a.clock)
}

func TestBuildRejectsUnknownBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.Name = "robinhood"
	_, err := NewAppBuilder(cfg).Build(context.Background())
	assert.Error(t, err)
}

func TestRunFailsWithoutPositions(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAppBuilder(cfg, WithBroker(stubBroker{})).Build(context.Background())
	require.NoError(t, err)

	// 空持仓启动是致命错误：没有可监控的仓位
	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no positions")
}
