package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	tgcfg "trailguard/internal/config"
	"trailguard/internal/engine"
	"trailguard/internal/executor"
	"trailguard/internal/logger"
	"trailguard/internal/marketclock"
	"trailguard/internal/pricefeed"
	"trailguard/internal/store/auditlog"
	"trailguard/internal/store/gormstore"
	statushttp "trailguard/internal/transport/http/status"
)

// App 负责应用级编排：加载配置→初始化依赖→启动监控、执行与状态服务。
type App struct {
	cfg     *tgcfg.Config
	monitor *engine.Monitor
	exec    *executor.Executor
	poller  *pricefeed.Poller
	status  *statushttp.Server
	clock   *marketclock.Clock
	store   *gormstore.GormStore
	audit   *auditlog.Log
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *tgcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Monitor exposes the underlying monitor (for testing/replay harnesses).
func (a *App) Monitor() *engine.Monitor {
	if a == nil {
		return nil
	}
	return a.monitor
}

// Run 引导账本后启动全部服务，直到 ctx 取消或某个服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	bootCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	err := a.monitor.Bootstrap(bootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.status != nil {
		group.Go(func() error {
			if err := a.status.Start(ctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
		logger.Infof("✓ 状态页: http://localhost%s", a.status.Addr())
	}

	group.Go(func() error { return ignoreCancel(a.monitor.Run(ctx)) })
	group.Go(func() error { return ignoreCancel(a.exec.Run(ctx)) })
	group.Go(func() error { return ignoreCancel(a.poller.Run(ctx)) })
	group.Go(func() error { return a.controlLoop(ctx) })

	if err := group.Wait(); err != nil && err != errMarketClosed {
		return err
	}
	return nil
}

// errMarketClosed 收盘自动退出的正常终止信号。
var errMarketClosed = fmt.Errorf("market closed")

// controlLoop 周期性触发对账，并在收盘后（可选）自动退出。
func (a *App) controlLoop(ctx context.Context) error {
	reconcile := time.NewTicker(a.cfg.Risk.ReconcileInterval())
	defer reconcile.Stop()

	var closeCh <-chan time.Time
	if a.cfg.Market.StopAtClose {
		if next := a.clock.NextClose(time.Now()); !next.IsZero() {
			timer := time.NewTimer(time.Until(next))
			defer timer.Stop()
			closeCh = timer.C
			logger.Infof("app: market closes at %s, will stop then", next.Format(time.RFC3339))
		}
	}

	for {
		select {
		case <-reconcile.C:
			if !a.clock.IsOpen(time.Now()) {
				logger.Debugf("app: market closed, skipping reconcile")
				continue
			}
			a.monitor.Submit(engine.ReconcileTick{})
		case <-closeCh:
			logger.Infof("app: market closed, shutting down")
			return errMarketClosed
		case <-ctx.Done():
			return ignoreCancel(ctx.Err())
		}
	}
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: close state store: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("app: close audit log: %v", err)
		}
	}
}

// ignoreCancel 收敛正常退出路径：ctx 取消不算服务错误。
func ignoreCancel(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}
