package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record 一次订单提交或结果。每次提交与每个终态都会追加一行。
type Record struct {
	ID          string
	Ticker      string
	TrancheID   string
	Side        string
	Reason      string
	Quantity    int64
	LimitPrice  float64
	Status      string
	FilledQty   int64
	BrokerOrder string
	Attempts    int
	Error       string
	CreatedAt   time.Time
}

// Log 是追加式订单审计日志（纯 database/sql，独立于 gorm 存储）。
type Log struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS order_audit (
    id            TEXT NOT NULL,
    ticker        TEXT NOT NULL,
    tranche_id    TEXT NOT NULL,
    side          TEXT NOT NULL,
    reason        TEXT NOT NULL DEFAULT '',
    quantity      INTEGER NOT NULL,
    limit_price   REAL NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    filled_qty    INTEGER NOT NULL DEFAULT 0,
    broker_order  TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_audit_ticker ON order_audit(ticker, created_at);
`

func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log: 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit log: init schema failed: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append 追加一条审计记录。
func (l *Log) Append(ctx context.Context, rec Record) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO order_audit
  (id, ticker, tranche_id, side, reason, quantity, limit_price, status, filled_qty, broker_order, attempts, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Ticker, rec.TrancheID, rec.Side, rec.Reason, rec.Quantity,
		rec.LimitPrice, rec.Status, rec.FilledQty, rec.BrokerOrder, rec.Attempts,
		rec.Error, rec.CreatedAt.UTC())
	return err
}

// Recent 返回某标的最近 limit 条记录，时间倒序。ticker 为空时跨标的查询。
func (l *Log) Recent(ctx context.Context, ticker string, limit int) ([]Record, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ticker, tranche_id, side, reason, quantity, limit_price, status, filled_qty, broker_order, attempts, error, created_at
FROM order_audit`
	args := []any{}
	if strings.TrimSpace(ticker) != "" {
		query += " WHERE ticker = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(ticker)))
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Ticker, &rec.TrancheID, &rec.Side, &rec.Reason,
			&rec.Quantity, &rec.LimitPrice, &rec.Status, &rec.FilledQty, &rec.BrokerOrder,
			&rec.Attempts, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
