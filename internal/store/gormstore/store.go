package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"trailguard/internal/position"
	"trailguard/internal/store/model"
)

// GormStore persists stop watermarks and position snapshots in SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.StopWatermarkModel{}, &model.PositionSnapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- watermark (trailing.WatermarkStore) -------------------

func (s *GormStore) LoadWatermarks(ctx context.Context) (map[string]float64, error) {
	if s == nil || s.db == nil {
		return map[string]float64{}, nil
	}
	var rows []model.StopWatermarkModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.Ticker] = row.StopPrice
	}
	return out, nil
}

func (s *GormStore) SaveWatermark(ctx context.Context, ticker string, side position.Side, stop float64) error {
	if s == nil || s.db == nil {
		return nil
	}
	row := model.StopWatermarkModel{Ticker: ticker, Side: string(side), StopPrice: stop}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"side", "stop_price", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) DeleteWatermark(ctx context.Context, ticker string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&model.StopWatermarkModel{}, "ticker = ?", ticker).Error
}

// --------------------- position snapshots ------------------------------------

func (s *GormStore) SavePosition(ctx context.Context, p *position.Position) error {
	if s == nil || s.db == nil || p == nil {
		return nil
	}
	row := model.PositionSnapshotModel{
		Ticker:           p.Ticker,
		Exchange:         p.Exchange,
		Side:             string(p.Side),
		Quantity:         p.Quantity,
		OriginalQuantity: p.OriginalQuantity,
		EntryPrice:       p.EntryPrice,
		Investment:       p.Investment,
		Product:          p.Product,
		TickSize:         p.TickSize,
		StopPrice:        p.StopPrice,
	}
	if p.Volatility != nil {
		row.VolCategory = string(p.Volatility.Category)
		row.ATRValue = p.Volatility.ATR
	}
	if len(p.Tranches) > 0 {
		tranches := make([]position.Tranche, 0, len(p.Tranches))
		for _, tr := range p.Tranches {
			tranches = append(tranches, *tr)
		}
		raw, err := json.Marshal(tranches)
		if err != nil {
			return fmt.Errorf("marshal tranches for %s: %w", p.Ticker, err)
		}
		row.Tranches = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exchange", "side", "quantity", "original_quantity", "entry_price",
			"investment", "product", "tick_size", "stop_price", "vol_category",
			"atr_value", "tranches", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *GormStore) DeletePosition(ctx context.Context, ticker string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&model.PositionSnapshotModel{}, "ticker = ?", ticker).Error
}

// LoadTranches 返回快照中某标的的档位（含触发状态），崩溃恢复用。
func (s *GormStore) LoadTranches(ctx context.Context, ticker string) ([]position.Tranche, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var row model.PositionSnapshotModel
	err := s.db.WithContext(ctx).First(&row, "ticker = ?", ticker).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(row.Tranches) == 0 {
		return nil, nil
	}
	var tranches []position.Tranche
	if err := json.Unmarshal(row.Tranches, &tranches); err != nil {
		return nil, fmt.Errorf("unmarshal tranches for %s: %w", ticker, err)
	}
	return tranches, nil
}
