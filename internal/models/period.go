package models

import (
	"fmt"
	"time"
)

const (
	// DayPeriodLayout 日报周期格式
	DayPeriodLayout = "2006-01-02"
)

// StartOfDay 当天 00:00:00（保留时区）
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay 当天最后一纳秒
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfWeek 所在周的周一 00:00
func StartOfWeek(t time.Time) time.Time {
	start := StartOfDay(t)
	offset := (int(start.Weekday()) + 6) % 7 // 周一=0 ... 周日=6
	return start.AddDate(0, 0, -offset)
}

// WeekBounds 所在周 [周一 00:00, 周日 23:59:59.999999999]
func WeekBounds(t time.Time) (time.Time, time.Time) {
	start := StartOfWeek(t)
	return start, EndOfDay(start.AddDate(0, 0, 6))
}

// DayPeriod 日周期键 YYYY-MM-DD
func DayPeriod(t time.Time) string {
	return t.Format(DayPeriodLayout)
}

// WeekPeriod ISO 周周期键 YYYY-Www
func WeekPeriod(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// CalendarDaysBetween 按日历日计算 to - from 的天数（与时刻无关，不受夏令时影响）
func CalendarDaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
