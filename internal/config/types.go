package config

import (
	"strings"
	"time"
)

// Config 是 Trailguard 的主配置载体。
type Config struct {
	App    AppConfig    `toml:"app"`
	Broker BrokerConfig `toml:"broker"`
	Feed   FeedConfig   `toml:"feed"`
	Risk   RiskConfig   `toml:"risk"`
	Market MarketConfig `toml:"market"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig 选择券商通道及其凭证。
type BrokerConfig struct {
	Name    string        `toml:"name"` // "kite" | "binance"
	Kite    KiteConfig    `toml:"kite"`
	Binance BinanceConfig `toml:"binance"`
}

type KiteConfig struct {
	APIKey         string `toml:"api_key"`
	AccessToken    string `toml:"access_token"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// FeedConfig 控制价格轮询。
type FeedConfig struct {
	PollSeconds   int    `toml:"poll_seconds"`
	WatchlistPath string `toml:"watchlist_path"`
}

func (f FeedConfig) PollInterval() time.Duration {
	return time.Duration(f.PollSeconds) * time.Second
}

// RiskConfig 控制止损/分批与持久化。
type RiskConfig struct {
	PresetsPath        string  `toml:"presets_path"`
	StateDB            string  `toml:"state_db"`
	AuditDB            string  `toml:"audit_db"`
	ReconcileSeconds   int     `toml:"reconcile_seconds"`
	GraceSeconds       int     `toml:"grace_seconds"`
	StopLimitOffsetPct float64 `toml:"stop_limit_offset_pct"`
	CandleDays         int     `toml:"candle_days"`
}

func (r RiskConfig) ReconcileInterval() time.Duration {
	return time.Duration(r.ReconcileSeconds) * time.Second
}

func (r RiskConfig) Grace() time.Duration {
	return time.Duration(r.GraceSeconds) * time.Second
}

// MarketConfig 交易时段。open/close 为空表示 7×24 市场。
type MarketConfig struct {
	Timezone string `toml:"timezone"`
	Open     string `toml:"open"`
	Close    string `toml:"close"`
	// StopAtClose 收盘后自动退出进程（由部署编排负责次日拉起）。
	StopAtClose bool `toml:"stop_at_close"`
	// Exclusions 暂停监控的标的（仍保留在账本，不再出单）。
	Exclusions []string `toml:"exclusions"`
}

// BrokerName 规范化后的券商名。
func (b BrokerConfig) BrokerName() string {
	return strings.ToLower(strings.TrimSpace(b.Name))
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
