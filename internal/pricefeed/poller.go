package pricefeed

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
	"trailguard/internal/logger"
)

// TickerSource 提供当前需要轮询的标的（监控快照）。
type TickerSource func() []string

// Sink 接收一轮批量报价。
type Sink func(quotes []broker.Quote)

// Poller 按固定间隔批量拉取最新价并喂给监控 actor。
// 批量大小受券商单次调用上限约束，批与批之间用 errgroup 并发。
type Poller struct {
	broker   broker.Broker
	interval time.Duration
	source   TickerSource
	sink     Sink
}

func NewPoller(b broker.Broker, interval time.Duration, source TickerSource, sink Sink) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{broker: b, interval: interval, source: source, sink: sink}
}

// Run 轮询循环，直到 ctx 取消。单标的失败不影响其它标的。
func (p *Poller) Run(ctx context.Context) error {
	logger.Infof("pricefeed: polling every %s", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 启动即拉一轮，不等第一个间隔
	p.pollOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-ctx.Done():
			logger.Infof("pricefeed: stopping")
			return ctx.Err()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	tickers := p.source()
	if len(tickers) == 0 {
		return
	}
	limit := p.broker.BatchLimit()
	if limit <= 0 {
		limit = len(tickers)
	}

	var (
		group, gctx = errgroup.WithContext(ctx)
		results     = make([][]broker.Quote, (len(tickers)+limit-1)/limit)
	)
	for i := 0; i < len(tickers); i += limit {
		batch := tickers[i:min(i+limit, len(tickers))]
		slot := i / limit
		group.Go(func() error {
			quotes, err := p.broker.LTP(gctx, batch)
			if err != nil {
				// 限流等单批失败只记日志，下一轮重试
				logger.Warnf("pricefeed: batch of %d failed: %v", len(batch), err)
				var auth *exiterr.BrokerAuthError
				if errors.As(err, &auth) {
					return err
				}
				return nil
			}
			out := make([]broker.Quote, 0, len(quotes))
			for _, q := range quotes {
				out = append(out, q)
			}
			results[slot] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logger.Errorf("pricefeed: poll aborted: %v", err)
		return
	}
	var merged []broker.Quote
	for _, batch := range results {
		merged = append(merged, batch...)
	}
	if len(merged) > 0 {
		p.sink(merged)
	}
}
