package statushttp

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trailguard/internal/logger"
	"trailguard/internal/position"
	"trailguard/internal/store/auditlog"
)

// LedgerView 只读账本快照（监控 actor 暴露）。
type LedgerView interface {
	Snapshot() map[string]*position.Position
}

// QueueView 执行器队列观测。
type QueueView interface {
	Depth() int
}

// Server 提供最小化的状态页 HTTP 服务（健康检查 + 持仓/队列/订单审计查询）。
// 只读，不暴露任何改变账本状态的接口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述状态服务依赖。
type ServerConfig struct {
	Addr   string
	Ledger LedgerView
	Queue  QueueView
	Audit  *auditlog.Log
}

// NewServer 构建状态 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("status http server requires a ledger view")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9982"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/status")
	h := &handlers{ledger: cfg.Ledger, queue: cfg.Queue, audit: cfg.Audit}
	api.GET("/positions", h.handlePositions)
	api.GET("/positions/:ticker", h.handlePositionDetail)
	api.GET("/queue", h.handleQueue)
	api.GET("/audit/:ticker", h.handleAudit)

	return &Server{addr: cfg.Addr, router: router}, nil
}

type handlers struct {
	ledger LedgerView
	queue  QueueView
	audit  *auditlog.Log
}

type positionView struct {
	Ticker          string             `json:"ticker"`
	Exchange        string             `json:"exchange"`
	Side            string             `json:"side"`
	Quantity        int64              `json:"quantity"`
	OriginalQty     int64              `json:"original_quantity"`
	EntryPrice      float64            `json:"entry_price"`
	StopPrice       float64            `json:"stop_price"`
	HasPendingOrder bool               `json:"has_pending_order"`
	LastFillAt      *time.Time         `json:"last_fill_at,omitempty"`
	Volatility      *volatilityView    `json:"volatility,omitempty"`
	Tranches        []position.Tranche `json:"tranches"`
}

type volatilityView struct {
	ATR            float64 `json:"atr"`
	ATRPercent     float64 `json:"atr_percent"`
	Category       string  `json:"category"`
	StopMultiplier float64 `json:"stop_multiplier"`
}

func viewOf(pos *position.Position) positionView {
	v := positionView{
		Ticker:          pos.Ticker,
		Exchange:        pos.Exchange,
		Side:            string(pos.Side),
		Quantity:        pos.Quantity,
		OriginalQty:     pos.OriginalQuantity,
		EntryPrice:      pos.EntryPrice,
		StopPrice:       pos.StopPrice,
		HasPendingOrder: pos.HasPendingOrder,
	}
	if !pos.LastFillAt.IsZero() {
		at := pos.LastFillAt
		v.LastFillAt = &at
	}
	if pos.Volatility != nil {
		v.Volatility = &volatilityView{
			ATR:            pos.Volatility.ATR,
			ATRPercent:     pos.Volatility.ATRPercent,
			Category:       string(pos.Volatility.Category),
			StopMultiplier: pos.Volatility.StopMultiplier,
		}
	}
	for _, tr := range pos.Tranches {
		if tr != nil {
			v.Tranches = append(v.Tranches, *tr)
		}
	}
	sort.Slice(v.Tranches, func(i, j int) bool { return v.Tranches[i].ATRMultiple < v.Tranches[j].ATRMultiple })
	return v
}

func (h *handlers) handlePositions(c *gin.Context) {
	snap := h.ledger.Snapshot()
	out := make([]positionView, 0, len(snap))
	for _, pos := range snap {
		out = append(out, viewOf(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	c.JSON(http.StatusOK, gin.H{"count": len(out), "positions": out})
}

func (h *handlers) handlePositionDetail(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	pos, ok := h.ledger.Snapshot()[ticker]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not tracked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": viewOf(pos)})
}

func (h *handlers) handleQueue(c *gin.Context) {
	depth := 0
	if h.queue != nil {
		depth = h.queue.Depth()
	}
	c.JSON(http.StatusOK, gin.H{"depth": depth})
}

func (h *handlers) handleAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "订单审计未启用"})
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	records, err := h.audit.Recent(c.Request.Context(), ticker, limit)
	if err != nil {
		logger.Errorf("[api] audit query failed ip=%s ticker=%s err=%v", c.ClientIP(), ticker, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "records": records})
}

// requestLogger 记录接口调用，便于追踪人工查询。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), client, time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
