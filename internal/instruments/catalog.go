package instruments

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument 行情源可寻址的标的：用稳定 token 而非符号串调用 API。
type Instrument struct {
	Ticker   string  `yaml:"ticker"`
	Exchange string  `yaml:"exchange"`
	Token    int64   `yaml:"token"`
	TickSize float64 `yaml:"tick_size"`
	Product  string  `yaml:"product"`
}

// Key 返回 EXCHANGE:TICKER 形式的行情键。
func (i Instrument) Key() string {
	ex := i.Exchange
	if ex == "" {
		ex = "NSE"
	}
	return ex + ":" + i.Ticker
}

// ExclusionPolicy 决定哪些标的不参与监控。
// 历史上这里是硬编码的"问题标的"黑名单；现在由配置注入。
type ExclusionPolicy interface {
	Excluded(ticker string) bool
}

// ListPolicy 基于固定列表的排除策略。
type ListPolicy struct {
	set map[string]bool
}

func NewListPolicy(tickers []string) *ListPolicy {
	set := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return &ListPolicy{set: set}
}

func (p *ListPolicy) Excluded(ticker string) bool {
	if p == nil {
		return false
	}
	return p.set[strings.ToUpper(strings.TrimSpace(ticker))]
}

type unionPolicy struct {
	policies []ExclusionPolicy
}

func (p unionPolicy) Excluded(ticker string) bool {
	for _, sub := range p.policies {
		if sub != nil && sub.Excluded(ticker) {
			return true
		}
	}
	return false
}

// Catalog 标的目录：token/tick size 查询 + 排除策略。
type Catalog struct {
	byTicker map[string]Instrument
	policy   ExclusionPolicy
}

func NewCatalog(list []Instrument, policy ExclusionPolicy) (*Catalog, error) {
	byTicker := make(map[string]Instrument, len(list))
	for _, inst := range list {
		ticker := strings.ToUpper(strings.TrimSpace(inst.Ticker))
		if ticker == "" {
			return nil, fmt.Errorf("instruments: ticker 必填")
		}
		if _, dup := byTicker[ticker]; dup {
			return nil, fmt.Errorf("instruments: ticker 重复: %s", ticker)
		}
		inst.Ticker = ticker
		if inst.Exchange == "" {
			inst.Exchange = "NSE"
		}
		byTicker[ticker] = inst
	}
	return &Catalog{byTicker: byTicker, policy: policy}, nil
}

// Lookup 返回标的信息。
func (c *Catalog) Lookup(ticker string) (Instrument, bool) {
	inst, ok := c.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	return inst, ok
}

// Excluded 查询排除策略。
func (c *Catalog) Excluded(ticker string) bool {
	return c.policy != nil && c.policy.Excluded(ticker)
}

// WithExclusions 在现有排除策略之上叠加运行时排除标的。
func (c *Catalog) WithExclusions(tickers []string) *Catalog {
	if len(tickers) == 0 {
		return c
	}
	return &Catalog{
		byTicker: c.byTicker,
		policy:   unionPolicy{policies: []ExclusionPolicy{c.policy, NewListPolicy(tickers)}},
	}
}

// Tickers 返回全部可监控标的（已应用排除策略）。
func (c *Catalog) Tickers() []string {
	out := make([]string, 0, len(c.byTicker))
	for ticker := range c.byTicker {
		if c.Excluded(ticker) {
			continue
		}
		out = append(out, ticker)
	}
	return out
}

// Watchlist 映射 watchlist 文件。
type Watchlist struct {
	Tickers []Instrument `yaml:"tickers"`
	Exclude []string     `yaml:"exclude"`
}

// LoadWatchlist 读取 yaml 监控清单并构建目录。
func LoadWatchlist(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist failed: %w", err)
	}
	var wl Watchlist
	if err := yaml.Unmarshal(raw, &wl); err != nil {
		return nil, fmt.Errorf("parse watchlist failed: %w", err)
	}
	if len(wl.Tickers) == 0 {
		return nil, fmt.Errorf("watchlist 不能为空: %s", path)
	}
	return NewCatalog(wl.Tickers, NewListPolicy(wl.Exclude))
}
