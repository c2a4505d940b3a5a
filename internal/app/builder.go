package app

import (
	"context"
	"fmt"
	"time"

	"trailguard/internal/broker"
	"trailguard/internal/broker/binance"
	"trailguard/internal/broker/kite"
	tgcfg "trailguard/internal/config"
	"trailguard/internal/engine"
	"trailguard/internal/executor"
	"trailguard/internal/exitplan"
	"trailguard/internal/instruments"
	"trailguard/internal/logger"
	"trailguard/internal/marketclock"
	"trailguard/internal/pkg/retry"
	"trailguard/internal/position"
	"trailguard/internal/pricefeed"
	"trailguard/internal/store/auditlog"
	"trailguard/internal/store/gormstore"
	"trailguard/internal/trailing"
	statushttp "trailguard/internal/transport/http/status"
	"trailguard/internal/volatility"
)

// volatilityTTL 波动率档位按日线计算，缓存一个交易日内不重算。
const volatilityTTL = 24 * time.Hour

type AppBuilder struct {
	cfg *tgcfg.Config

	catalogFn func(tgcfg.Config) (*instruments.Catalog, error)
	brokerFn  func(tgcfg.Config, *instruments.Catalog) (broker.Broker, error)
	storeFn   func(tgcfg.Config) (*gormstore.GormStore, error)
	auditFn   func(tgcfg.Config) (*auditlog.Log, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *tgcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		catalogFn: buildCatalog,
		brokerFn:  buildBroker,
		storeFn:   buildStore,
		auditFn:   buildAuditLog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithBroker 替换券商通道（测试/回放用）。
func WithBroker(b broker.Broker) AppBuilderOption {
	return func(ab *AppBuilder) {
		ab.brokerFn = func(tgcfg.Config, *instruments.Catalog) (broker.Broker, error) { return b, nil }
	}
}

func buildCatalog(cfg tgcfg.Config) (*instruments.Catalog, error) {
	catalog, err := instruments.LoadWatchlist(cfg.Feed.WatchlistPath)
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	return catalog.WithExclusions(cfg.Market.Exclusions), nil
}

func buildBroker(cfg tgcfg.Config, catalog *instruments.Catalog) (broker.Broker, error) {
	switch cfg.Broker.BrokerName() {
	case "kite":
		return kite.NewClient(kite.Config{
			BaseURL:     cfg.Broker.Kite.BaseURL,
			APIKey:      cfg.Broker.Kite.APIKey,
			AccessToken: cfg.Broker.Kite.AccessToken,
			Timeout:     time.Duration(cfg.Broker.Kite.TimeoutSeconds) * time.Second,
		}, catalog)
	case "binance":
		return binance.NewClient(binance.Config{
			APIKey:    cfg.Broker.Binance.APIKey,
			APISecret: cfg.Broker.Binance.APISecret,
		})
	default:
		return nil, fmt.Errorf("broker.name 不支持: %q", cfg.Broker.Name)
	}
}

func buildStore(cfg tgcfg.Config) (*gormstore.GormStore, error) {
	return gormstore.NewGormStore(cfg.Risk.StateDB)
}

func buildAuditLog(cfg tgcfg.Config) (*auditlog.Log, error) {
	return auditlog.Open(cfg.Risk.AuditDB)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	catalog, err := b.catalogFn(*cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 监控清单 %d 个标的: %v", len(catalog.Tickers()), catalog.Tickers())

	brokerClient, err := b.brokerFn(*cfg, catalog)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 券商通道: %s", cfg.Broker.BrokerName())

	store, err := b.storeFn(*cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	audit, err := b.auditFn(*cfg)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	presets, err := exitplan.NewRegistry(cfg.Risk.PresetsPath)
	if err != nil {
		return nil, fmt.Errorf("load exit presets: %w", err)
	}
	clock, err := marketclock.New(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		return nil, err
	}

	book := position.NewBook()
	tracker := trailing.NewTracker(store)
	vol := volatility.NewEngine(volatilityTTL)

	monitor := engine.NewMonitor(engine.Config{
		StopLimitOffsetPct: cfg.Risk.StopLimitOffsetPct,
		ReconcileGrace:     cfg.Risk.Grace(),
		CandleDays:         cfg.Risk.CandleDays,
	}, book, vol, tracker, presets, nil, brokerClient, catalog, store)

	exec := executor.New(brokerClient, audit, retry.DefaultPolicy(), monitor.Outcomes(), 64)
	monitor.SetQueue(exec)

	poller := pricefeed.NewPoller(brokerClient, cfg.Feed.PollInterval(), monitor.Tickers, func(quotes []broker.Quote) {
		monitor.Submit(engine.PriceBatch{Quotes: quotes})
	})

	statusSrv, err := statushttp.NewServer(statushttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Ledger: monitor,
		Queue:  exec,
		Audit:  audit,
	})
	if err != nil {
		return nil, fmt.Errorf("build status server: %w", err)
	}

	return &App{
		cfg:     cfg,
		monitor: monitor,
		exec:    exec,
		poller:  poller,
		status:  statusSrv,
		clock:   clock,
		store:   store,
		audit:   audit,
	}, nil
}
