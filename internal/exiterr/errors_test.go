package exiterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"duplicate", &DuplicateOrderError{OrderID: "123"}, ClassDuplicate},
		{"wrapped duplicate", fmt.Errorf("place order: %w", &DuplicateOrderError{}), ClassDuplicate},
		{"auth", &BrokerAuthError{Err: errors.New("token expired")}, ClassFatal},
		{"insufficient data", &InsufficientDataError{Ticker: "RELIANCE", Have: 10, Need: 21}, ClassFatal},
		{"instrument missing", &InstrumentNotFoundError{Ticker: "BOGUS"}, ClassFatal},
		{"rate limited", &RateLimitedError{}, ClassRetryable},
		{"plain error", errors.New("connection reset"), ClassRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(fmt.Errorf("ltp: %w", &RateLimitedError{})))
	assert.False(t, IsRateLimited(errors.New("timeout")))
}
