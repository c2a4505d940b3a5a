package model

import (
	"time"

	"gorm.io/datatypes"
)

// StopWatermarkModel 每标的最优止损水位，进程重启后用于播种 tracker。
type StopWatermarkModel struct {
	Ticker    string    `gorm:"primaryKey;size:32"`
	Side      string    `gorm:"size:8"`
	StopPrice float64   `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (StopWatermarkModel) TableName() string { return "stop_watermarks" }

// PositionSnapshotModel 账本持仓的持久化快照（崩溃恢复 + 状态页）。
// Tranches 以 JSON 存储整组档位（含触发状态）。
type PositionSnapshotModel struct {
	Ticker           string  `gorm:"primaryKey;size:32"`
	Exchange         string  `gorm:"size:16"`
	Side             string  `gorm:"size:8"`
	Quantity         int64   `gorm:"not null"`
	OriginalQuantity int64   `gorm:"not null"`
	EntryPrice       float64 `gorm:"not null"`
	Investment       float64
	Product          string `gorm:"size:16"`
	TickSize         float64
	StopPrice        float64
	VolCategory      string `gorm:"size:8"`
	ATRValue         float64
	Tranches         datatypes.JSON
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (PositionSnapshotModel) TableName() string { return "position_snapshots" }
