package engine

import (
	"trailguard/internal/broker"
)

// Message 是送入监控 actor 的不可变事件。账本只在 actor 循环内被修改。
type Message interface{ isMessage() }

// PriceBatch 一轮批量报价。
type PriceBatch struct {
	Quotes []broker.Quote
}

func (PriceBatch) isMessage() {}

// ReconcileTick 请求一次与券商持仓的对账。
type ReconcileTick struct{}

func (ReconcileTick) isMessage() {}

// candleResult 异步日线拉取的回执。
type candleResult struct {
	Ticker string
	Bars   []broker.Candle
	Err    error
}

func (candleResult) isMessage() {}

// holdingsResult 异步持仓拉取的回执。
type holdingsResult struct {
	Holdings []broker.Holding
	Err      error
}

func (holdingsResult) isMessage() {}
