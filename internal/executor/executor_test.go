package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trailguard/internal/broker"
	"trailguard/internal/exiterr"
	"trailguard/internal/pkg/retry"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) LTP(ctx context.Context, tickers []string) (map[string]broker.Quote, error) {
	args := m.Called(ctx, tickers)
	return args.Get(0).(map[string]broker.Quote), args.Error(1)
}

func (m *mockBroker) DailyCandles(ctx context.Context, ticker string, days int) ([]broker.Candle, error) {
	args := m.Called(ctx, ticker, days)
	return args.Get(0).([]broker.Candle), args.Error(1)
}

func (m *mockBroker) Holdings(ctx context.Context) ([]broker.Holding, error) {
	args := m.Called(ctx)
	return args.Get(0).([]broker.Holding), args.Error(1)
}

func (m *mockBroker) PlaceOrder(ctx context.Context, p broker.OrderParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockBroker) CancelConditionalOrders(ctx context.Context, ticker string) error {
	return m.Called(ctx, ticker).Error(0)
}

func (m *mockBroker) BatchLimit() int { return 500 }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Base: time.Millisecond, Factor: 1.5}
}

func runOne(t *testing.T, b broker.Broker, req Request) Outcome {
	t.Helper()
	outcomes := make(chan Outcome, 1)
	e := New(b, nil, fastPolicy(), outcomes, 8)
	require.NoError(t, e.Enqueue(req))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	select {
	case out := <-outcomes:
		cancel()
		<-done
		return out
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("executor 未在期限内产出结果")
		return Outcome{}
	}
}

func TestProcessSuccess(t *testing.T) {
	b := new(mockBroker)
	b.On("CancelConditionalOrders", mock.Anything, "RELIANCE").Return(nil)
	b.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(p broker.OrderParams) bool {
		return p.Ticker == "RELIANCE" && p.Side == broker.SideSell &&
			p.Quantity == 5 && p.Type == broker.OrderTypeLimit
	})).Return("ord-1", nil).Once()

	out := runOne(t, b, NewRequest("RELIANCE", "stop", broker.SideSell, 5, 94.5, "stop_loss", 5))
	assert.Equal(t, StatusFilled, out.Status)
	assert.Equal(t, int64(5), out.FilledQty)
	assert.Equal(t, "ord-1", out.BrokerOrderID)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Terminal())
	b.AssertExpectations(t)
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	b := new(mockBroker)
	b.On("CancelConditionalOrders", mock.Anything, "INFY").Return(nil)
	b.On("PlaceOrder", mock.Anything, mock.Anything).
		Return("", &exiterr.RateLimitedError{}).Twice()
	b.On("PlaceOrder", mock.Anything, mock.Anything).
		Return("ord-2", nil).Once()

	out := runOne(t, b, NewRequest("INFY", "tp2x", broker.SideSell, 3, 0, "profit_target", 7))
	assert.Equal(t, StatusFilled, out.Status)
	assert.Equal(t, 3, out.Attempts)
	b.AssertExpectations(t)
}

func TestProcessDuplicateIsTerminalSuccess(t *testing.T) {
	b := new(mockBroker)
	b.On("CancelConditionalOrders", mock.Anything, "RELIANCE").Return(nil)
	b.On("PlaceOrder", mock.Anything, mock.Anything).
		Return("", &exiterr.DuplicateOrderError{OrderID: "dup"}).Once()

	out := runOne(t, b, NewRequest("RELIANCE", "stop", broker.SideSell, 5, 94.5, "stop_loss", 5))
	assert.Equal(t, StatusDuplicate, out.Status)
	assert.Equal(t, int64(5), out.FilledQty, "按最优已知成交量推进")
	assert.True(t, out.Terminal())
	assert.Equal(t, 1, out.Attempts, "重复单不应再重试")
	b.AssertExpectations(t)
}

func TestProcessExhaustsRetries(t *testing.T) {
	b := new(mockBroker)
	b.On("CancelConditionalOrders", mock.Anything, "SBIN").Return(nil)
	b.On("PlaceOrder", mock.Anything, mock.Anything).
		Return("", &exiterr.RateLimitedError{}).Times(5)

	out := runOne(t, b, NewRequest("SBIN", "stop", broker.SideSell, 2, 0, "stop_loss", 2))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 5, out.Attempts)
	assert.False(t, out.Terminal())
	assert.NotEmpty(t, out.Err)
	b.AssertExpectations(t)
}

func TestEnqueueFullQueue(t *testing.T) {
	e := New(new(mockBroker), nil, fastPolicy(), make(chan Outcome, 1), 1)
	require.NoError(t, e.Enqueue(NewRequest("A", "stop", broker.SideSell, 1, 0, "x", 0)))
	assert.Error(t, e.Enqueue(NewRequest("B", "stop", broker.SideSell, 1, 0, "x", 0)))
	assert.Equal(t, 1, e.Depth())
}
