package timeframe

import (
	"fmt"
	"strings"
	"time"

	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

type unit int

const (
	unitMinute unit = iota
	unitHour
	unitDay
	unitWeek
	unitMonth
)

type frame struct {
	unit unit
	n    int
}

// 支持的周期，"1m" 为分钟，"1M" 为月
var known = map[string]frame{
	"1m":  {unitMinute, 1},
	"3m":  {unitMinute, 3},
	"5m":  {unitMinute, 5},
	"15m": {unitMinute, 15},
	"30m": {unitMinute, 30},
	"1h":  {unitHour, 1},
	"2h":  {unitHour, 2},
	"4h":  {unitHour, 4},
	"6h":  {unitHour, 6},
	"8h":  {unitHour, 8},
	"12h": {unitHour, 12},
	"1d":  {unitDay, 1},
	"1w":  {unitWeek, 1},
	"1M":  {unitMonth, 1},
}

// IsKnown 判断周期代码是否受支持
func IsKnown(code string) bool {
	_, ok := known[code]
	return ok
}

// Duration 周期长度，月按 30 天计
func Duration(code string) (time.Duration, bool) {
	s, ok := known[code]
	if !ok {
		return 0, false
	}
	switch s.unit {
	case unitMinute:
		return time.Duration(s.n) * time.Minute, true
	case unitHour:
		return time.Duration(s.n) * time.Hour, true
	case unitDay:
		return 24 * time.Hour, true
	case unitWeek:
		return 7 * 24 * time.Hour, true
	default:
		return 30 * 24 * time.Hour, true
	}
}

// Result 本分钟收盘的周期及说明
type Result struct {
	Closed []string
	Reason string
}

func (r Result) Any() bool {
	return len(r.Closed) > 0
}

// Primary 收盘周期中最短的一个
func (r Result) Primary() string {
	var best string
	var bestDur time.Duration
	for _, code := range r.Closed {
		d, _ := Duration(code)
		if best == "" || d < bestDur {
			best, bestDur = code, d
		}
	}
	return best
}

type Detector struct {
	weekStart time.Weekday
}

func NewDetector(weekStart time.Weekday) *Detector {
	return &Detector{weekStart: weekStart}
}

// Closes 纯函数：code 在 now（按 UTC）这一分钟是否收盘；known 为 false 表示未知代码
func (d *Detector) Closes(code string, now time.Time) (closed, ok bool) {
	s, ok := known[code]
	if !ok {
		return false, false
	}
	t := now.UTC()
	minute, hour := t.Minute(), t.Hour()
	midnight := minute == 0 && hour == 0

	switch s.unit {
	case unitMinute:
		return minute%s.n == 0, true
	case unitHour:
		return minute == 0 && hour%s.n == 0, true
	case unitDay:
		return midnight, true
	case unitWeek:
		return midnight && t.Weekday() == d.weekStart, true
	default:
		return midnight && t.Day() == 1, true
	}
}

// Detect 返回 codes 中在 now 收盘的子集，顺序与输入一致
func (d *Detector) Detect(codes []string, now time.Time) Result {
	seen := make(map[string]struct{}, len(codes))
	closed := make([]string, 0, len(codes))
	var unknown []string

	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		ok, known := d.Closes(code, now)
		if !known {
			unknown = append(unknown, code)
			continue
		}
		if ok {
			closed = append(closed, code)
		}
	}

	if len(unknown) > 0 {
		logger.Warn().Strs("codes", unknown).Msg("unknown timeframe codes ignored")
	}

	stamp := now.UTC().Format("2006-01-02 15:04")
	if len(closed) == 0 {
		return Result{Reason: fmt.Sprintf("no timeframe closed at %s UTC", stamp)}
	}
	return Result{
		Closed: closed,
		Reason: fmt.Sprintf("%s closed at %s UTC", strings.Join(closed, ", "), stamp),
	}
}
