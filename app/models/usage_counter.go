package models

import "time"

// UsageCounter is the per-user, per-calendar-month quota ledger. Limits of
// zero or below mean unlimited. The counter may outlive the subscription
// that created it, so SubscriptionID is nullable.
type UsageCounter struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index:ux_usage_counters_user_period,unique,priority:1" json:"user_id"`
	PeriodKey      string     `gorm:"type:varchar(7);not null;index:ux_usage_counters_user_period,unique,priority:2" json:"period_key"`
	SubscriptionID *uint      `gorm:"default:null;index" json:"subscription_id,omitempty"`
	UsedCount      int        `gorm:"not null;default:0" json:"used_count"`
	LimitCount     int        `gorm:"not null;default:0" json:"limit_count"`
	DailyUsed      int        `gorm:"not null;default:0" json:"daily_used"`
	DailyLimit     int        `gorm:"not null;default:0" json:"daily_limit"`
	LastResetDate  *time.Time `gorm:"type:timestamp;default:null" json:"last_reset_date,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodKeyFor returns the calendar-month key ("2006-01") for an instant in
// the given location.
func PeriodKeyFor(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// ResetDailyIfNeeded zeroes the daily counter when the last reset happened
// on a different calendar day in the given location. Returns true when the
// counter changed and needs persisting. The reset is applied lazily on
// every check or increment; there is no background reset job.
func (c *UsageCounter) ResetDailyIfNeeded(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)
	if c.LastResetDate != nil {
		last := c.LastResetDate.In(loc)
		if last.Year() == today.Year() && last.YearDay() == today.YearDay() {
			return false
		}
	}
	c.DailyUsed = 0
	reset := today
	c.LastResetDate = &reset
	return true
}

// HasMonthlyQuota reports whether another unit fits in the monthly limit.
func (c *UsageCounter) HasMonthlyQuota() bool {
	return c.LimitCount <= 0 || c.UsedCount < c.LimitCount
}

// HasDailyQuota applies the lazy daily reset, then reports whether another
// unit fits in the daily limit.
func (c *UsageCounter) HasDailyQuota(now time.Time, loc *time.Location) bool {
	c.ResetDailyIfNeeded(now, loc)
	return c.DailyLimit <= 0 || c.DailyUsed < c.DailyLimit
}

// HasQuota combines the monthly and daily checks.
func (c *UsageCounter) HasQuota(now time.Time, loc *time.Location) bool {
	return c.HasMonthlyQuota() && c.HasDailyQuota(now, loc)
}

// RemainingMonthly returns the remaining monthly units, or -1 for unlimited.
func (c *UsageCounter) RemainingMonthly() int {
	if c.LimitCount <= 0 {
		return -1
	}
	if r := c.LimitCount - c.UsedCount; r > 0 {
		return r
	}
	return 0
}

// RemainingDaily returns the remaining daily units, or -1 for unlimited.
func (c *UsageCounter) RemainingDaily() int {
	if c.DailyLimit <= 0 {
		return -1
	}
	if r := c.DailyLimit - c.DailyUsed; r > 0 {
		return r
	}
	return 0
}

// UsagePercentage returns monthly consumption as 0-100, 0 for unlimited.
func (c *UsageCounter) UsagePercentage() int {
	if c.LimitCount <= 0 {
		return 0
	}
	pct := c.UsedCount * 100 / c.LimitCount
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
