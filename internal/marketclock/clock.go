package marketclock

import (
	"fmt"
	"time"
)

// Clock 交易时段判定。开收盘时间按交易所本地时区解释，周六日休市。
type Clock struct {
	loc        *time.Location
	openHour   int
	openMin    int
	closeHour  int
	closeMin   int
	alwaysOpen bool
}

// New 解析 "HH:MM" 形式的开收盘时间。open 与 close 均为空表示 7×24
// 连续交易（加密市场）。
func New(timezone, open, close string) (*Clock, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("时区无效 %q: %w", timezone, err)
		}
	}
	if open == "" && close == "" {
		return &Clock{loc: loc, alwaysOpen: true}, nil
	}
	oh, om, err := parseHHMM(open)
	if err != nil {
		return nil, fmt.Errorf("开盘时间无效 %q: %w", open, err)
	}
	ch, cm, err := parseHHMM(close)
	if err != nil {
		return nil, fmt.Errorf("收盘时间无效 %q: %w", close, err)
	}
	if oh*60+om >= ch*60+cm {
		return nil, fmt.Errorf("开盘时间 %s 必须早于收盘时间 %s", open, close)
	}
	return &Clock{loc: loc, openHour: oh, openMin: om, closeHour: ch, closeMin: cm}, nil
}

func parseHHMM(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("超出 24 小时制范围")
	}
	return h, m, nil
}

// IsOpen 判定 t 是否处于交易时段。
func (c *Clock) IsOpen(t time.Time) bool {
	if c.alwaysOpen {
		return true
	}
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= c.openHour*60+c.openMin && minute < c.closeHour*60+c.closeMin
}

// NextClose 返回 t 之后最近的收盘时刻。盘中返回当日收盘，盘后返回下一
// 交易日收盘。永续市场返回零值。
func (c *Clock) NextClose(t time.Time) time.Time {
	if c.alwaysOpen {
		return time.Time{}
	}
	local := t.In(c.loc)
	for {
		close := time.Date(local.Year(), local.Month(), local.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
		if wd := local.Weekday(); wd != time.Saturday && wd != time.Sunday && close.After(t) {
			return close
		}
		local = local.AddDate(0, 0, 1)
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	}
}

// NextOpen 返回 t 之后最近的开盘时刻（跳过周末）。永续市场返回零值。
func (c *Clock) NextOpen(t time.Time) time.Time {
	if c.alwaysOpen {
		return time.Time{}
	}
	local := t.In(c.loc)
	for {
		open := time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMin, 0, 0, c.loc)
		if wd := local.Weekday(); wd != time.Saturday && wd != time.Sunday && open.After(t) {
			return open
		}
		local = local.AddDate(0, 0, 1)
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	}
}
