package kite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
	"trailguard/internal/instruments"
	"trailguard/internal/logger"
)

const (
	// ltpBatchLimit 是单次 LTP 调用的上限（券商侧约束）。
	ltpBatchLimit  = 500
	defaultBaseURL = "https://api.kite.trade"
)

// Client 通过 REST 访问 Kite 风格的券商 API。
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
	catalog     *instruments.Catalog
}

type Config struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
}

func NewClient(cfg Config, catalog *instruments.Catalog) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, &exiterr.BrokerAuthError{Err: fmt.Errorf("api_key/access_token 不能为空")}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		catalog:     catalog,
	}, nil
}

func (c *Client) BatchLimit() int { return ltpBatchLimit }

// LTP 批量查询最新价。单次调用标的数不得超过 BatchLimit。
func (c *Client) LTP(ctx context.Context, tickers []string) (map[string]broker.Quote, error) {
	if len(tickers) == 0 {
		return map[string]broker.Quote{}, nil
	}
	if len(tickers) > ltpBatchLimit {
		return nil, fmt.Errorf("ltp batch too large: %d > %d", len(tickers), ltpBatchLimit)
	}
	params := url.Values{}
	keyToTicker := make(map[string]string, len(tickers))
	for _, ticker := range tickers {
		inst, ok := c.catalog.Lookup(ticker)
		if !ok {
			return nil, &exiterr.InstrumentNotFoundError{Ticker: ticker}
		}
		params.Add("i", inst.Key())
		keyToTicker[inst.Key()] = inst.Ticker
	}
	body, err := c.get(ctx, "/quote/ltp", params)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make(map[string]broker.Quote, len(tickers))
	gjson.GetBytes(body, "data").ForEach(func(key, value gjson.Result) bool {
		ticker, ok := keyToTicker[key.String()]
		if !ok {
			return true
		}
		price := value.Get("last_price").Float()
		if price > 0 {
			out[ticker] = broker.Quote{Ticker: ticker, Price: price, At: now}
		}
		return true
	})
	return out, nil
}

// DailyCandles 取最近 days 天日线，升序。
func (c *Client) DailyCandles(ctx context.Context, ticker string, days int) ([]broker.Candle, error) {
	inst, ok := c.catalog.Lookup(ticker)
	if !ok {
		return nil, &exiterr.InstrumentNotFoundError{Ticker: ticker}
	}
	to := time.Now()
	// 叠加假日/周末余量，保证能取满 days 根
	from := to.AddDate(0, 0, -(days*2 + 10))
	params := url.Values{}
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	path := fmt.Sprintf("/instruments/historical/%d/day", inst.Token)
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var candles []broker.Candle
	gjson.GetBytes(body, "data.candles").ForEach(func(_, row gjson.Result) bool {
		arr := row.Array()
		if len(arr) < 5 {
			return true
		}
		ts, err := time.Parse(time.RFC3339, arr[0].String())
		if err != nil {
			return true
		}
		candle := broker.Candle{
			Time:  ts,
			Open:  arr[1].Float(),
			High:  arr[2].Float(),
			Low:   arr[3].Float(),
			Close: arr[4].Float(),
		}
		if len(arr) > 5 {
			candle.Volume = arr[5].Int()
		}
		candles = append(candles, candle)
		return true
	})
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	return candles, nil
}

// Holdings 返回券商侧确认的持仓列表。
func (c *Client) Holdings(ctx context.Context) ([]broker.Holding, error) {
	body, err := c.get(ctx, "/portfolio/holdings", nil)
	if err != nil {
		return nil, err
	}
	var out []broker.Holding
	gjson.GetBytes(body, "data").ForEach(func(_, row gjson.Result) bool {
		qty := row.Get("quantity").Int() + row.Get("t1_quantity").Int()
		if qty == 0 {
			return true
		}
		out = append(out, broker.Holding{
			Ticker:       row.Get("tradingsymbol").String(),
			Exchange:     row.Get("exchange").String(),
			Quantity:     qty,
			AveragePrice: row.Get("average_price").Float(),
			Product:      row.Get("product").String(),
		})
		return true
	})
	return out, nil
}

// PlaceOrder 提交订单，返回券商订单号。
func (c *Client) PlaceOrder(ctx context.Context, p broker.OrderParams) (string, error) {
	inst, ok := c.catalog.Lookup(p.Ticker)
	if !ok {
		return "", &exiterr.InstrumentNotFoundError{Ticker: p.Ticker}
	}
	form := url.Values{}
	form.Set("tradingsymbol", inst.Ticker)
	form.Set("exchange", inst.Exchange)
	form.Set("transaction_type", string(p.Side))
	form.Set("quantity", strconv.FormatInt(p.Quantity, 10))
	form.Set("order_type", string(p.Type))
	form.Set("validity", "DAY")
	product := p.Product
	if product == "" {
		product = inst.Product
	}
	if product == "" {
		product = "CNC"
	}
	form.Set("product", product)
	if p.Type == broker.OrderTypeLimit && p.LimitPrice > 0 {
		form.Set("price", strconv.FormatFloat(p.LimitPrice, 'f', 2, 64))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}
	body, err := c.request(ctx, http.MethodPost, "/orders/regular", nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}
	orderID := gjson.GetBytes(body, "data.order_id").String()
	if orderID == "" {
		return "", fmt.Errorf("place order: 响应缺少 order_id")
	}
	return orderID, nil
}

// CancelConditionalOrders 撤销该标的的全部 GTT 触发器，避免与手动退出打架。
func (c *Client) CancelConditionalOrders(ctx context.Context, ticker string) error {
	body, err := c.get(ctx, "/gtt/triggers", nil)
	if err != nil {
		return err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var ids []int64
	gjson.GetBytes(body, "data").ForEach(func(_, row gjson.Result) bool {
		if row.Get("status").String() != "active" {
			return true
		}
		if strings.EqualFold(row.Get("condition.tradingsymbol").String(), ticker) {
			ids = append(ids, row.Get("id").Int())
		}
		return true
	})
	for _, id := range ids {
		path := fmt.Sprintf("/gtt/triggers/%d", id)
		if _, err := c.request(ctx, http.MethodDelete, path, nil, nil, ""); err != nil {
			return fmt.Errorf("cancel gtt %d for %s: %w", id, ticker, err)
		}
		logger.Infof("kite: cancelled GTT trigger %d for %s", id, ticker)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.request(ctx, http.MethodGet, path, params, nil, "")
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kite %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kite %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, classifyAPIError(resp.StatusCode, raw)
}

// classifyAPIError 把 HTTP 状态与 error_type 映射到 exiterr 分类。
func classifyAPIError(status int, body []byte) error {
	errType := gjson.GetBytes(body, "error_type").String()
	message := gjson.GetBytes(body, "message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	base := fmt.Errorf("kite api %d %s: %s", status, errType, message)

	lower := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests || errType == "NetworkException":
		return &exiterr.RateLimitedError{Err: base}
	case status == http.StatusForbidden || status == http.StatusUnauthorized,
		errType == "TokenException", errType == "PermissionException":
		return &exiterr.BrokerAuthError{Err: base}
	case strings.Contains(lower, "duplicate") || strings.Contains(lower, "already executed") || strings.Contains(lower, "already completed"):
		return &exiterr.DuplicateOrderError{}
	case errType == "InputException" && (strings.Contains(lower, "instrument") || strings.Contains(lower, "tradingsymbol")):
		return &exiterr.InstrumentNotFoundError{Ticker: message}
	default:
		return base
	}
}
