package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
)

// 单次批量价格查询的标的数上限（自限，避免超长 URL）。
const ltpBatchLimit = 100

// Client adapts a Binance spot account to the broker interface. Symbols are
// used directly as tickers (e.g. BTCUSDT); quantities are whole base units.
type Client struct {
	api *gobinance.Client
}

type Config struct {
	APIKey    string
	APISecret string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, &exiterr.BrokerAuthError{Err: fmt.Errorf("binance api_key/api_secret 不能为空")}
	}
	return &Client{api: gobinance.NewClient(cfg.APIKey, cfg.APISecret)}, nil
}

func (c *Client) BatchLimit() int { return ltpBatchLimit }

func (c *Client) LTP(ctx context.Context, tickers []string) (map[string]broker.Quote, error) {
	if len(tickers) == 0 {
		return map[string]broker.Quote{}, nil
	}
	if len(tickers) > ltpBatchLimit {
		return nil, fmt.Errorf("ltp batch too large: %d > %d", len(tickers), ltpBatchLimit)
	}
	prices, err := c.api.NewListPricesService().Symbols(tickers).Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	now := time.Now()
	out := make(map[string]broker.Quote, len(prices))
	for _, p := range prices {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		out[p.Symbol] = broker.Quote{Ticker: p.Symbol, Price: price, At: now}
	}
	return out, nil
}

func (c *Client) DailyCandles(ctx context.Context, ticker string, days int) ([]broker.Candle, error) {
	klines, err := c.api.NewKlinesService().Symbol(ticker).Interval("1d").Limit(days).Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]broker.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		out = append(out, broker.Candle{
			Time:  time.UnixMilli(k.OpenTime),
			Open:  open,
			High:  high,
			Low:   low,
			Close: cls,
		})
	}
	return out, nil
}

// Holdings 把现货余额映射为持仓（数量向下取整到整数单位）。
func (c *Client) Holdings(ctx context.Context) ([]broker.Holding, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var out []broker.Holding
	for _, b := range acct.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		qty := int64(free + locked)
		if qty <= 0 {
			continue
		}
		out = append(out, broker.Holding{
			Ticker:   b.Asset,
			Exchange: "BINANCE",
			Quantity: qty,
			Product:  "SPOT",
		})
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, p broker.OrderParams) (string, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(p.Ticker).
		Quantity(strconv.FormatInt(p.Quantity, 10))
	if p.Side == broker.SideBuy {
		svc = svc.Side(gobinance.SideTypeBuy)
	} else {
		svc = svc.Side(gobinance.SideTypeSell)
	}
	if p.Type == broker.OrderTypeLimit && p.LimitPrice > 0 {
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(p.LimitPrice, 'f', -1, 64))
	} else {
		svc = svc.Type(gobinance.OrderTypeMarket)
	}
	if p.Tag != "" {
		svc = svc.NewClientOrderID(p.Tag)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", classify(err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelConditionalOrders 撤销该交易对的挂单（止损/限价触发单）。
func (c *Client) CancelConditionalOrders(ctx context.Context, ticker string) error {
	open, err := c.api.NewListOpenOrdersService().Symbol(ticker).Do(ctx)
	if err != nil {
		return classify(err)
	}
	for _, o := range open {
		switch o.Type {
		case gobinance.OrderTypeStopLoss, gobinance.OrderTypeStopLossLimit,
			gobinance.OrderTypeTakeProfit, gobinance.OrderTypeTakeProfitLimit:
			if _, err := c.api.NewCancelOrderService().Symbol(ticker).OrderID(o.OrderID).Do(ctx); err != nil {
				return classify(err)
			}
		}
	}
	return nil
}

// classify 把 binance APIError code 映射到 exiterr 分类。
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == -1003 || apiErr.Code == -1015:
		return &exiterr.RateLimitedError{Err: err}
	case apiErr.Code == -2014 || apiErr.Code == -2015 || apiErr.Code == -1022:
		return &exiterr.BrokerAuthError{Err: err}
	case apiErr.Code == -2010 && strings.Contains(msg, "duplicate"):
		return &exiterr.DuplicateOrderError{}
	case apiErr.Code == -1121:
		return &exiterr.InstrumentNotFoundError{Ticker: apiErr.Message}
	default:
		return err
	}
}
