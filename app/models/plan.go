package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// Billing intervals supported by plans.
const (
	PlanIntervalMonthly = "monthly"
	PlanIntervalYearly  = "yearly"
	PlanIntervalOneTime = "one_time"
)

// Plan is a catalog entry describing price, billing interval and quota
// limits. Plans are soft-deleted because subscriptions and payments keep
// durable references to them.
type Plan struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Slug         string         `gorm:"type:varchar(160);uniqueIndex" json:"slug"`
	Description  string         `gorm:"type:text" json:"description"`
	Price        int64          `gorm:"not null;default:0" json:"price"` // minor currency units
	Currency     string         `gorm:"type:varchar(3);not null;default:'BRL'" json:"currency" validate:"len=3"`
	Interval     string         `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval" validate:"oneof=monthly yearly one_time"`
	FeaturesJSON string         `gorm:"type:longtext" json:"-"`
	MonthlyQuota int            `gorm:"not null;default:0" json:"monthly_quota"` // <=0 means unlimited
	DailyQuota   int            `gorm:"not null;default:0" json:"daily_quota"`   // <=0 means unlimited
	TrialDays    *int           `gorm:"default:null" json:"trial_days,omitempty"`
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	SortOrder    int            `gorm:"default:0;index" json:"sort_order"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate derives the slug from the plan name when none is given.
func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(p.Slug) == "" {
		p.Slug = slug.Make(p.Name)
	}
	return nil
}

// IsFree reports whether the plan costs nothing.
func (p *Plan) IsFree() bool {
	return p.Price <= 0
}

// HasTrial reports whether the plan grants a trial period.
func (p *Plan) HasTrial() bool {
	return p.TrialDays != nil && *p.TrialDays > 0
}

// Features decodes the stored feature set.
func (p *Plan) Features() []string {
	if strings.TrimSpace(p.FeaturesJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(p.FeaturesJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetFeatures encodes and stores the feature set.
func (p *Plan) SetFeatures(features []string) {
	if len(features) == 0 {
		p.FeaturesJSON = ""
		return
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return
	}
	p.FeaturesJSON = string(raw)
}

// HasFeature reports whether the plan grants the named feature flag.
func (p *Plan) HasFeature(name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return false
	}
	for _, f := range p.Features() {
		if strings.ToLower(strings.TrimSpace(f)) == want {
			return true
		}
	}
	return false
}

func (p *Plan) Validate() error {
	return validate.Struct(p)
}
