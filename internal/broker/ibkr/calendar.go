package ibkr

import (
	"fmt"
	"sort"
	"time"
)

// 上交所/深交所不实行夏令时, 固定 UTC+8
var shanghai = time.FixedZone("CST", 8*60*60)

// session 一个连续竞价时段, 以当日分钟数表示 [Start, End)
type session struct {
	Start int
	End   int
}

// A 股两个交易时段 09:30-11:30, 13:00-15:00
var cnSessions = []session{
	{Start: 9*60 + 30, End: 11*60 + 30},
	{Start: 13 * 60, End: 15 * 60},
}

// maxLookahead 春节等长假最多连续休市的天数上限
const maxLookahead = 30

// Calendar A 股交易日历: 周一到周五的两个交易时段, 排除配置的节假日
type Calendar struct {
	holidays map[string]struct{}
	now      func() time.Time
}

// CalendarOption 配置 Calendar
type CalendarOption func(*Calendar)

// WithClock 替换时间源 (测试用)
func WithClock(now func() time.Time) CalendarOption {
	return func(c *Calendar) { c.now = now }
}

// NewCalendar 创建日历. holidays 格式为 "2006-01-02" (北京时间日期)
func NewCalendar(holidays []string, opts ...CalendarOption) (*Calendar, error) {
	c := &Calendar{
		holidays: make(map[string]struct{}, len(holidays)),
		now:      time.Now,
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation(time.DateOnly, h, shanghai)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(time.DateOnly)] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultCalendar 没有节假日的日历
func DefaultCalendar() *Calendar {
	c, _ := NewCalendar(nil)
	return c
}

// Now 当前时间
func (c *Calendar) Now() time.Time {
	return c.now()
}

// Holidays 返回排序后的节假日列表
func (c *Calendar) Holidays() []string {
	out := make([]string, 0, len(c.holidays))
	for h := range c.holidays {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (c *Calendar) tradingDay(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format(time.DateOnly)]
	return !holiday
}

// IsOpen t 是否处于交易时段内
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(shanghai)
	if !c.tradingDay(local) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, s := range cnSessions {
		if minute >= s.Start && minute < s.End {
			return true
		}
	}
	return false
}

// NextOpen 严格晚于 t 的下一个时段开始时间 (午间休市后的 13:00 也算)
func (c *Calendar) NextOpen(t time.Time) (time.Time, bool) {
	local := t.In(shanghai)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, shanghai)

	for i := 0; i <= maxLookahead; i++ {
		d := day.AddDate(0, 0, i)
		if !c.tradingDay(d) {
			continue
		}
		for _, s := range cnSessions {
			start := d.Add(time.Duration(s.Start) * time.Minute)
			if start.After(t) {
				return start.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
