package config

import "strings"

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":9982"
	defaultAppLogPath    = "/data/logs/trailguard.log"
	defaultBrokerName    = "kite"
	defaultKiteBaseURL   = "https://api.kite.trade"
	defaultKiteTimeout   = 10
	defaultFeedPoll      = 5
	defaultWatchlistPath = "configs/watchlist.yaml"
	defaultPresetsPath   = "configs/exit_tranches.yaml"
	defaultStateDB       = "/data/db/trailguard.db"
	defaultAuditDB       = "/data/db/order_audit.db"
	defaultReconcileSecs = 60
	defaultGraceSecs     = 120
	defaultStopOffsetPct = 0.005
	defaultCandleDays    = 40
	defaultMarketTZ      = "Asia/Kolkata"
	defaultMarketOpen    = "09:15"
	defaultMarketClose   = "15:30"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Market.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.name", &b.Name, defaultBrokerName),
		stringFieldDefault("broker.kite.base_url", &b.Kite.BaseURL, defaultKiteBaseURL),
		fieldDefault{
			key:   "broker.kite.timeout_seconds",
			need:  func() bool { return b.Kite.TimeoutSeconds <= 0 },
			apply: func() { b.Kite.TimeoutSeconds = defaultKiteTimeout },
		},
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.watchlist_path", &f.WatchlistPath, defaultWatchlistPath),
		fieldDefault{
			key:   "feed.poll_seconds",
			need:  func() bool { return f.PollSeconds <= 0 },
			apply: func() { f.PollSeconds = defaultFeedPoll },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("risk.presets_path", &r.PresetsPath, defaultPresetsPath),
		stringFieldDefault("risk.state_db", &r.StateDB, defaultStateDB),
		stringFieldDefault("risk.audit_db", &r.AuditDB, defaultAuditDB),
		fieldDefault{
			key:   "risk.reconcile_seconds",
			need:  func() bool { return r.ReconcileSeconds <= 0 },
			apply: func() { r.ReconcileSeconds = defaultReconcileSecs },
		},
		fieldDefault{
			key:   "risk.grace_seconds",
			need:  func() bool { return r.GraceSeconds <= 0 },
			apply: func() { r.GraceSeconds = defaultGraceSecs },
		},
		fieldDefault{
			key:   "risk.stop_limit_offset_pct",
			need:  func() bool { return r.StopLimitOffsetPct <= 0 },
			apply: func() { r.StopLimitOffsetPct = defaultStopOffsetPct },
		},
		fieldDefault{
			key:   "risk.candle_days",
			need:  func() bool { return r.CandleDays <= 0 },
			apply: func() { r.CandleDays = defaultCandleDays },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.timezone", &m.Timezone, defaultMarketTZ),
		stringFieldDefault("market.open", &m.Open, defaultMarketOpen),
		stringFieldDefault("market.close", &m.Close, defaultMarketClose),
	)
	for i, t := range m.Exclusions {
		m.Exclusions[i] = strings.ToUpper(strings.TrimSpace(t))
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
