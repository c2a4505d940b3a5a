package position

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"trailguard/internal/volatility"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// NormalizeSide 接受 long/buy/short/sell 的任意大小写。
func NormalizeSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return SideLong, nil
	case "SHORT", "SELL":
		return SideShort, nil
	default:
		return "", fmt.Errorf("side 非法: %q", raw)
	}
}

// ExitSide 返回平仓方向（多头卖出、空头买入）。
func (s Side) ExitSide() string {
	if s == SideShort {
		return "BUY"
	}
	return "SELL"
}

const percentTolerance = 1e-6

// Tranche 是按原始仓位百分比划分的一档退出。ATRMultiple 为 0 表示止损档。
// Triggered 一旦置位不可回退。
type Tranche struct {
	ID          string  `json:"id" yaml:"id"`
	Percent     float64 `json:"percent" yaml:"percent"`
	ATRMultiple float64 `json:"atr_multiple,omitempty" yaml:"atr_multiple,omitempty"`
	Triggered   bool    `json:"triggered" yaml:"triggered,omitempty"`
}

// IsStopLoss 止损档没有盈利倍数。
func (t *Tranche) IsStopLoss() bool { return t.ATRMultiple <= 0 }

// Position 是引擎跟踪的单个持仓。所有字段仅由监控 actor 修改。
type Position struct {
	Ticker           string
	Exchange         string
	Side             Side
	Quantity         int64
	OriginalQuantity int64
	EntryPrice       float64
	Investment       float64
	Product          string
	TickSize         float64

	// HasPendingOrder 互斥闸：真时该标的不再做任何决策。
	HasPendingOrder bool
	PendingSince    time.Time
	// LastFillAt 用于对账宽限期：近期有成交但券商列表尚未结算时不摘除。
	LastFillAt time.Time

	StopPrice  float64
	Volatility *volatility.Info
	Tranches   map[string]*Tranche

	TrackedAt time.Time
}

// New validates and constructs a tracked position. Tranches are attached later
// (AssignTranches) once the first volatility computation picks the preset.
func New(ticker, exchange string, side Side, quantity int64, entryPrice float64, product string, tickSize float64) (*Position, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("position: ticker 必填")
	}
	if side != SideLong && side != SideShort {
		return nil, fmt.Errorf("position %s: side 非法: %q", ticker, side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("position %s: 数量需为正", ticker)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("position %s: 入场价需为正", ticker)
	}
	return &Position{
		Ticker:           ticker,
		Exchange:         exchange,
		Side:             side,
		Quantity:         quantity,
		OriginalQuantity: quantity,
		EntryPrice:       entryPrice,
		Investment:       entryPrice * float64(quantity),
		Product:          product,
		TickSize:         tickSize,
		TrackedAt:        time.Now(),
	}, nil
}

// ValidateTranches 校验百分比之和为 100（容差内）且 ID 不重复。
func ValidateTranches(tranches []Tranche) error {
	if len(tranches) == 0 {
		return fmt.Errorf("tranches 不能为空")
	}
	sum := 0.0
	seen := make(map[string]bool, len(tranches))
	for _, tr := range tranches {
		if strings.TrimSpace(tr.ID) == "" {
			return fmt.Errorf("tranche id 必填")
		}
		if seen[tr.ID] {
			return fmt.Errorf("tranche id 重复: %s", tr.ID)
		}
		seen[tr.ID] = true
		if tr.Percent <= 0 || tr.Percent > 100 {
			return fmt.Errorf("tranche %s: percent 需在 (0,100]", tr.ID)
		}
		sum += tr.Percent
	}
	if math.Abs(sum-100) > percentTolerance {
		return fmt.Errorf("tranche 比例和需为 100，实际 %.4f", sum)
	}
	return nil
}

// AssignTranches installs the preset chosen on first evaluation. It is a
// one-time operation: a position keeps its tranche layout for its lifetime.
func (p *Position) AssignTranches(tranches []Tranche) error {
	if len(p.Tranches) > 0 {
		return fmt.Errorf("position %s: tranches 已分配", p.Ticker)
	}
	if err := ValidateTranches(tranches); err != nil {
		return fmt.Errorf("position %s: %w", p.Ticker, err)
	}
	p.Tranches = make(map[string]*Tranche, len(tranches))
	for _, tr := range tranches {
		cp := tr
		cp.Triggered = false
		p.Tranches[cp.ID] = &cp
	}
	return nil
}

// UntriggeredProfitTranches 按盈利倍数从高到低返回未触发的盈利档。
func (p *Position) UntriggeredProfitTranches() []*Tranche {
	out := make([]*Tranche, 0, len(p.Tranches))
	for _, tr := range p.Tranches {
		if !tr.Triggered && !tr.IsStopLoss() {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ATRMultiple > out[j].ATRMultiple })
	return out
}

// StopLossTranche 返回止损档（可能已触发）。
func (p *Position) StopLossTranche() *Tranche {
	for _, tr := range p.Tranches {
		if tr.IsStopLoss() {
			return tr
		}
	}
	return nil
}

// TrancheQuantity sizes an exit: percent of the original quantity, at least one
// share, never more than what remains.
func (p *Position) TrancheQuantity(tr *Tranche) int64 {
	if tr == nil || p.Quantity <= 0 {
		return 0
	}
	qty := int64(math.Floor(float64(p.OriginalQuantity) * tr.Percent / 100.0))
	if qty < 1 {
		qty = 1
	}
	if qty > p.Quantity {
		qty = p.Quantity
	}
	return qty
}

// ApplyFill 按已确认成交扣减数量并触发对应档位。返回剩余数量。
func (p *Position) ApplyFill(trancheID string, filled int64, at time.Time) int64 {
	if tr, ok := p.Tranches[trancheID]; ok {
		tr.Triggered = true
	}
	if filled > 0 {
		p.Quantity -= filled
		if p.Quantity < 0 {
			p.Quantity = 0
		}
		p.LastFillAt = at
	}
	p.HasPendingOrder = false
	p.PendingSince = time.Time{}
	return p.Quantity
}

// Clone 深拷贝，供只读快照使用。
func (p *Position) Clone() *Position {
	cp := *p
	if p.Volatility != nil {
		vol := *p.Volatility
		cp.Volatility = &vol
	}
	if p.Tranches != nil {
		cp.Tranches = make(map[string]*Tranche, len(p.Tranches))
		for id, tr := range p.Tranches {
			trCopy := *tr
			cp.Tranches[id] = &trCopy
		}
	}
	return &cp
}
