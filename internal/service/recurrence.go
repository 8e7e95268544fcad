package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 重复间隔取值，对应模板的 AutoRepeat 配置
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

var (
	// ErrUnsupportedRecurrence 在重复间隔无法识别时返回
	ErrUnsupportedRecurrence = errors.New("unsupported recurrence interval")
	// ErrInvalidRecurrence 当锚点配置超出取值范围时返回
	ErrInvalidRecurrence = errors.New("invalid recurrence configuration")
)

// Recurrence 描述模板的自动续期配置
// Weekday 锚定周几（1=周一..7=周日），仅 weekly 生效
// MonthDay 锚定每月几号（1..31），仅 monthly 生效
type Recurrence struct {
	Interval string `json:"interval"`
	Weekday  *int   `json:"weekday,omitempty"`
	MonthDay *int   `json:"month_day,omitempty"`
}

// Validate 校验间隔与锚点取值
func (r Recurrence) Validate() error {
	switch strings.TrimSpace(r.Interval) {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedRecurrence, r.Interval)
	}

	if r.Weekday != nil && (*r.Weekday < 1 || *r.Weekday > 7) {
		return fmt.Errorf("%w: weekday %d", ErrInvalidRecurrence, *r.Weekday)
	}
	if r.MonthDay != nil && (*r.MonthDay < 1 || *r.MonthDay > 31) {
		return fmt.Errorf("%w: month day %d", ErrInvalidRecurrence, *r.MonthDay)
	}

	return nil
}

// EncodeRecurrence 序列化配置，写入 templates.auto_repeat
func EncodeRecurrence(r Recurrence) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode recurrence: %w", err)
	}
	return string(raw), nil
}

// DecodeRecurrence 反序列化并校验存储的配置
func DecodeRecurrence(raw string) (Recurrence, error) {
	var r Recurrence
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Recurrence{}, fmt.Errorf("decode recurrence: %w", err)
	}

	if err := r.Validate(); err != nil {
		return Recurrence{}, err
	}
	return r, nil
}

// NextDueDate 根据重复配置和参考日期计算下一次到期时间。
// 纯函数，不做任何 I/O，相同输入结果确定：
//   - daily：参考日期加一天，保留时分秒。
//   - weekly：无锚点时加七天；有锚点时取参考日期之后最近的锚点星期
//     （恰好落在锚点当天时推整整一周，而不是原地返回）。
//   - monthly：推进一个日历月，日取锚点（无锚点时取参考日），
//     超出目标月长度时钳位到月末，不会溢出到下下个月。
func NextDueDate(rec Recurrence, ref time.Time) (time.Time, error) {
	if err := rec.Validate(); err != nil {
		return time.Time{}, err
	}

	switch rec.Interval {
	case IntervalDaily:
		return ref.AddDate(0, 0, 1), nil

	case IntervalWeekly:
		if rec.Weekday == nil {
			return ref.AddDate(0, 0, 7), nil
		}
		days := (*rec.Weekday - isoWeekday(ref) + 7) % 7
		if days == 0 {
			days = 7
		}
		return ref.AddDate(0, 0, days), nil

	case IntervalMonthly:
		day := ref.Day()
		if rec.MonthDay != nil {
			day = *rec.MonthDay
		}
		year, month, _ := ref.Date()
		// 先定位次月，再对日做钳位，绕开 AddDate 的进位语义
		firstOfNext := time.Date(year, month+1, 1, ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location())
		if last := lastDayOfMonth(firstOfNext.Year(), firstOfNext.Month()); day > last {
			day = last
		}
		return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
			ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location()), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedRecurrence, rec.Interval)
}

// isoWeekday 将 Go 的周日起始星期转成 1=周一..7=周日
func isoWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
