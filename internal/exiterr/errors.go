package exiterr

import (
	"errors"
	"fmt"
	"time"
)

// InsufficientDataError 表示行情数据不足以完成计算（例如 K 线不足 21 根）。
// 调用方应保留上一次结果并在下个周期重试。
type InsufficientDataError struct {
	Ticker string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d bars, need %d", e.Ticker, e.Have, e.Need)
}

// RateLimitedError 表示被券商限流，应退避后重试。
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}
	return "rate limited"
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// DuplicateOrderError 表示订单已在券商侧存在或已成交。
// 幂等处理：视为成功，绝不重复扣减仓位。
type DuplicateOrderError struct {
	OrderID string
}

func (e *DuplicateOrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("duplicate order (id=%s)", e.OrderID)
	}
	return "duplicate order"
}

// BrokerAuthError 表示认证失败，启动阶段遇到时为致命错误。
type BrokerAuthError struct {
	Err error
}

func (e *BrokerAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker authentication failed: %v", e.Err)
	}
	return "broker authentication failed"
}

func (e *BrokerAuthError) Unwrap() error { return e.Err }

// InstrumentNotFoundError 表示标的无法在券商/行情源解析。
type InstrumentNotFoundError struct {
	Ticker string
}

func (e *InstrumentNotFoundError) Error() string {
	return fmt.Sprintf("instrument not found: %s", e.Ticker)
}

// Class 是重试策略消费的错误分类。
type Class int

const (
	// ClassRetryable 有界退避后重试。
	ClassRetryable Class = iota
	// ClassDuplicate 幂等成功路径，不重试也不计为失败。
	ClassDuplicate
	// ClassFatal 不重试，直接上抛。
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassDuplicate:
		return "duplicate"
	default:
		return "fatal"
	}
}

// Classify maps an error to its retry class. Unknown errors are treated as
// retryable transient failures so a flaky broker call gets its bounded retries.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	var dup *DuplicateOrderError
	if errors.As(err, &dup) {
		return ClassDuplicate
	}
	var auth *BrokerAuthError
	if errors.As(err, &auth) {
		return ClassFatal
	}
	var insuff *InsufficientDataError
	if errors.As(err, &insuff) {
		return ClassFatal
	}
	var notFound *InstrumentNotFoundError
	if errors.As(err, &notFound) {
		return ClassFatal
	}
	return ClassRetryable
}

// IsRateLimited reports whether err carries a rate-limit signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
