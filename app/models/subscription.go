package models

import (
	"encoding/json"
	"time"
)

// Subscription lifecycle statuses.
const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// Metadata keys used by the subscription service.
const (
	MetaKeyTrialUsed     = "trial_used"
	MetaKeyPendingPlanID = "pending_plan_id"
)

// Subscription ties a user to a plan for a billing period. All mutations go
// through the subscription service; the model only carries derived read
// helpers.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1;index:idx_subscriptions_user_provider,priority:1" json:"user_id"`
	PlanID             uint       `gorm:"not null;index" json:"plan_id"`
	Plan               *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active';index:idx_subscriptions_user_status,priority:2;index:idx_subscriptions_status_period,priority:1" json:"status"`
	StartedAt          time.Time  `gorm:"type:timestamp;not null" json:"started_at"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_period,priority:2" json:"current_period_end,omitempty"`
	CanceledAt         *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	NextBillingAt      *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_at,omitempty"`
	Provider           string     `gorm:"type:varchar(32);not null;default:'manual';index:idx_subscriptions_user_provider,priority:2" json:"provider"`
	ProviderReference  string     `gorm:"type:varchar(191);default:''" json:"provider_reference"`
	MetadataJSON       string     `gorm:"type:longtext" json:"-"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the status grants access in principle.
func (s *Subscription) IsEntitling() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// CanAccess reports whether the subscription grants access at the given
// instant: the status must entitle and the current period must not have
// lapsed.
func (s *Subscription) CanAccess(now time.Time) bool {
	if !s.IsEntitling() {
		return false
	}
	if s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
		return false
	}
	return true
}

// DaysRemaining returns whole days until the period end, never negative.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s.CurrentPeriodEnd == nil {
		return 0
	}
	d := s.CurrentPeriodEnd.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Metadata decodes the metadata bag, returning an empty map when unset.
func (s *Subscription) Metadata() map[string]string {
	out := map[string]string{}
	if s.MetadataJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s.MetadataJSON), &out)
	return out
}

// MetadataValue returns a single metadata entry or "".
func (s *Subscription) MetadataValue(key string) string {
	return s.Metadata()[key]
}

// SetMetadataValue writes a single metadata entry, re-encoding the bag.
func (s *Subscription) SetMetadataValue(key, value string) {
	m := s.Metadata()
	if value == "" {
		delete(m, key)
	} else {
		m[key] = value
	}
	if len(m) == 0 {
		s.MetadataJSON = ""
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.MetadataJSON = string(raw)
}
