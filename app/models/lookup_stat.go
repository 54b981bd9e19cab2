package models

import "time"

// LookupStat is a per-day, per-kind aggregate of served lookups. Rows are
// written by the counter flush job, never by request handlers.
type LookupStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StatDate  string    `gorm:"type:varchar(10);not null;index:ux_lookup_stats_date_kind,unique,priority:1" json:"stat_date"`
	Kind      string    `gorm:"type:varchar(32);not null;index:ux_lookup_stats_date_kind,unique,priority:2" json:"kind"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
