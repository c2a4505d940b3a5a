package position

import "sort"

// Book 是内存中的权威持仓账本。不加锁：只允许监控 actor 这一个 goroutine
// 访问，其它读者通过 actor 发布的快照观察。
type Book struct {
	byTicker map[string]*Position
}

func NewBook() *Book {
	return &Book{byTicker: make(map[string]*Position)}
}

func (b *Book) Get(ticker string) (*Position, bool) {
	p, ok := b.byTicker[ticker]
	return p, ok
}

func (b *Book) Set(p *Position) {
	if p == nil || p.Ticker == "" {
		return
	}
	b.byTicker[p.Ticker] = p
}

func (b *Book) Remove(ticker string) {
	delete(b.byTicker, ticker)
}

func (b *Book) Len() int { return len(b.byTicker) }

// Tickers 返回排序后的标的列表。
func (b *Book) Tickers() []string {
	out := make([]string, 0, len(b.byTicker))
	for t := range b.byTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// All 返回账本内全部持仓（原始指针，仅限 actor 内部使用）。
func (b *Book) All() []*Position {
	out := make([]*Position, 0, len(b.byTicker))
	for _, t := range b.Tickers() {
		out = append(out, b.byTicker[t])
	}
	return out
}

// Snapshot 深拷贝整本账本，供 HTTP 层等外部读者使用。
func (b *Book) Snapshot() map[string]*Position {
	out := make(map[string]*Position, len(b.byTicker))
	for ticker, p := range b.byTicker {
		out[ticker] = p.Clone()
	}
	return out
}
