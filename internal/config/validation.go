package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.BrokerName() {
	case "kite":
		if strings.TrimSpace(b.Kite.APIKey) == "" {
			return fmt.Errorf("broker.kite.api_key 必填")
		}
		if strings.TrimSpace(b.Kite.AccessToken) == "" {
			return fmt.Errorf("broker.kite.access_token 必填")
		}
	case "binance":
		if strings.TrimSpace(b.Binance.APIKey) == "" || strings.TrimSpace(b.Binance.APISecret) == "" {
			return fmt.Errorf("broker.binance.api_key 与 api_secret 必填")
		}
	default:
		return fmt.Errorf("broker.name 不支持: %q (kite | binance)", b.Name)
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if f.PollSeconds <= 0 {
		return fmt.Errorf("feed.poll_seconds must be > 0")
	}
	if strings.TrimSpace(f.WatchlistPath) == "" {
		return fmt.Errorf("feed.watchlist_path 不能为空")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.StopLimitOffsetPct <= 0 || r.StopLimitOffsetPct > 0.05 {
		return fmt.Errorf("risk.stop_limit_offset_pct must be in (0, 0.05], got %g", r.StopLimitOffsetPct)
	}
	if r.CandleDays < 21 {
		return fmt.Errorf("risk.candle_days must be >= 21 (ATR 需要 21 根日线)")
	}
	if r.GraceSeconds < 0 {
		return fmt.Errorf("risk.grace_seconds must be >= 0")
	}
	return nil
}
