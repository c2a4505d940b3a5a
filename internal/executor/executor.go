package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
	"trailguard/internal/logger"
	"trailguard/internal/pkg/retry"
	"trailguard/internal/store/auditlog"
)

// Request 一笔待执行的退出订单。LimitPrice 为 0 表示市价。
type Request struct {
	ID             string
	Ticker         string
	TrancheID      string
	Side           broker.OrderSide
	Quantity       int64
	LimitPrice     float64
	Product        string
	Reason         string
	RemainingAfter int64
	EnqueuedAt     time.Time
}

// NewRequest 分配请求 ID 与时间戳。
func NewRequest(ticker, trancheID string, side broker.OrderSide, qty int64, limitPrice float64, reason string, remainingAfter int64) Request {
	return Request{
		ID:             uuid.NewString(),
		Ticker:         ticker,
		TrancheID:      trancheID,
		Side:           side,
		Quantity:       qty,
		LimitPrice:     limitPrice,
		Reason:         reason,
		RemainingAfter: remainingAfter,
		EnqueuedAt:     time.Now(),
	}
}

type Status string

const (
	StatusFilled    Status = "filled"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Outcome 订单终态，回送给监控 actor 做账本变更。
type Outcome struct {
	Request       Request
	Status        Status
	FilledQty     int64
	BrokerOrderID string
	Attempts      int
	Err           string
}

// Terminal 为真表示档位应标记触发并扣减数量（成交或幂等重复）。
func (o Outcome) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusDuplicate
}

// Executor drains the order queue with a single consumer: order placement
// against one broker account is serialized by the broker's own rate limits, so
// one worker is enough and keeps retries simple. Backoff sleeps block only
// this consumer, never price polling.
type Executor struct {
	broker   broker.Broker
	audit    *auditlog.Log
	policy   retry.Policy
	queue    chan Request
	outcomes chan<- Outcome
}

func New(b broker.Broker, audit *auditlog.Log, policy retry.Policy, outcomes chan<- Outcome, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Executor{
		broker:   b,
		audit:    audit,
		policy:   policy,
		queue:    make(chan Request, queueSize),
		outcomes: outcomes,
	}
}

// Enqueue 入队（非阻塞）。队列满视为过载，调用方保留 pending 状态下次重试。
func (e *Executor) Enqueue(req Request) error {
	select {
	case e.queue <- req:
		return nil
	default:
		return fmt.Errorf("order queue full (cap=%d)", cap(e.queue))
	}
}

// Depth 当前队列深度（状态页用）。
func (e *Executor) Depth() int { return len(e.queue) }

// Run 单消费者循环，直到 ctx 取消。
func (e *Executor) Run(ctx context.Context) error {
	logger.Infof("executor: started (queue cap=%d)", cap(e.queue))
	for {
		select {
		case req := <-e.queue:
			outcome := e.process(ctx, req)
			select {
			case e.outcomes <- outcome:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			logger.Infof("executor: stopping")
			return ctx.Err()
		}
	}
}

func (e *Executor) process(ctx context.Context, req Request) Outcome {
	logger.Infof("executor: submit %s %s tranche=%s qty=%d limit=%.2f reason=%s",
		req.Ticker, req.Side, req.TrancheID, req.Quantity, req.LimitPrice, req.Reason)
	e.appendAudit(ctx, req, auditlog.Record{Status: "submitted"})

	// 先撤掉同标的的 GTT，避免条件单与手动退出重复成交。
	if err := e.broker.CancelConditionalOrders(ctx, req.Ticker); err != nil {
		logger.Warnf("executor: cancel conditional orders %s failed: %v", req.Ticker, err)
	}

	orderType := broker.OrderTypeMarket
	if req.LimitPrice > 0 {
		orderType = broker.OrderTypeLimit
	}
	var brokerOrderID string
	attempts, err := e.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			logger.Warnf("executor: retry %d/%d for %s tranche=%s", attempt, e.policy.MaxAttempts, req.Ticker, req.TrancheID)
		}
		id, placeErr := e.broker.PlaceOrder(ctx, broker.OrderParams{
			Ticker:     req.Ticker,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Type:       orderType,
			LimitPrice: req.LimitPrice,
			Product:    req.Product,
			Tag:        req.ID,
		})
		if placeErr != nil {
			return placeErr
		}
		brokerOrderID = id
		return nil
	})

	outcome := Outcome{Request: req, Attempts: attempts, BrokerOrderID: brokerOrderID}
	switch {
	case err == nil:
		outcome.Status = StatusFilled
		outcome.FilledQty = req.Quantity
		logger.Infof("executor: filled %s tranche=%s qty=%d order=%s attempts=%d",
			req.Ticker, req.TrancheID, req.Quantity, brokerOrderID, attempts)
	case exiterr.Classify(err) == exiterr.ClassDuplicate:
		// 幂等成功：券商已有这笔单，按最优已知成交量推进。
		outcome.Status = StatusDuplicate
		outcome.FilledQty = req.Quantity
		logger.Warnf("executor: duplicate order for %s tranche=%s, treating as success", req.Ticker, req.TrancheID)
	default:
		outcome.Status = StatusFailed
		outcome.Err = err.Error()
		logger.Errorf("executor: %s tranche=%s failed after %d attempts: %v",
			req.Ticker, req.TrancheID, attempts, err)
	}
	e.appendAudit(ctx, req, auditlog.Record{
		Status:      string(outcome.Status),
		FilledQty:   outcome.FilledQty,
		BrokerOrder: outcome.BrokerOrderID,
		Attempts:    outcome.Attempts,
		Error:       outcome.Err,
	})
	return outcome
}

func (e *Executor) appendAudit(ctx context.Context, req Request, rec auditlog.Record) {
	if e.audit == nil {
		return
	}
	rec.ID = req.ID
	rec.Ticker = req.Ticker
	rec.TrancheID = req.TrancheID
	rec.Side = string(req.Side)
	rec.Reason = req.Reason
	rec.Quantity = req.Quantity
	rec.LimitPrice = req.LimitPrice
	if err := e.audit.Append(ctx, rec); err != nil {
		logger.Warnf("executor: audit append failed: %v", err)
	}
}
