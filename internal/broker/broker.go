package broker

import (
	"context"
	"time"
)

// Quote 单个标的最新成交价。
type Quote struct {
	Ticker string
	Price  float64
	At     time.Time
}

// Candle 单根日线。
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Holding 券商侧确认的持仓。
type Holding struct {
	Ticker       string
	Exchange     string
	Quantity     int64
	AveragePrice float64
	Product      string
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderParams 下单参数。LimitPrice 为 0 时按市价单提交。
type OrderParams struct {
	Ticker     string
	Exchange   string
	Side       OrderSide
	Quantity   int64
	Type       OrderType
	LimitPrice float64
	Product    string
	Tag        string
}

// Broker is the external trading venue: batched last-traded-price lookup,
// daily candles, holdings listing, order placement, and conditional-order
// cancellation. Implementations classify failures with exiterr types so the
// retry policy can distinguish rate limits, duplicates, and auth failures.
type Broker interface {
	// LTP returns last traded prices keyed by ticker. Callers must respect
	// the implementation's batch limit (BatchLimit).
	LTP(ctx context.Context, tickers []string) (map[string]Quote, error)
	// DailyCandles 返回最近 days 天的日线（含当日），按时间升序。
	DailyCandles(ctx context.Context, ticker string, days int) ([]Candle, error)
	Holdings(ctx context.Context) ([]Holding, error)
	// PlaceOrder 提交订单并返回券商订单号。
	PlaceOrder(ctx context.Context, p OrderParams) (string, error)
	// CancelConditionalOrders removes broker-side standing (GTT) triggers for
	// the ticker so a manual exit cannot race a conditional one.
	CancelConditionalOrders(ctx context.Context, ticker string) error
	// BatchLimit 单次 LTP 调用允许的最大标的数。
	BatchLimit() int
}
