package models

import (
	"encoding/json"
	"time"
)

// Payment statuses. Sanctioned forward transitions are pending->paid,
// pending->failed, paid->refunded; paid and refunded are irreversible.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Payment records one attempt to collect money for a subscription. Payments
// are financial records and are never deleted; the subscription link is
// nulled when a subscription goes away.
type Payment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID    *uint      `gorm:"default:null;index" json:"subscription_id,omitempty"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	PlanID            *uint      `gorm:"default:null" json:"plan_id,omitempty"`
	Amount            int64      `gorm:"not null;default:0" json:"amount"` // minor currency units
	Currency          string     `gorm:"type:varchar(3);not null;default:'BRL'" json:"currency"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Provider          string     `gorm:"type:varchar(32);not null;index:ux_payments_provider_ref,unique,priority:1" json:"provider"`
	ProviderReference string     `gorm:"type:varchar(191);not null;index:ux_payments_provider_ref,unique,priority:2" json:"provider_reference"`
	PaymentMethod     string     `gorm:"type:varchar(50);default:''" json:"payment_method"`
	FailureReason     string     `gorm:"type:varchar(255);default:''" json:"failure_reason"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	MetadataJSON      string     `gorm:"type:longtext" json:"-"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransitionTo enforces the payment status whitelist.
func (p *Payment) CanTransitionTo(next string) bool {
	switch p.Status {
	case PaymentStatusPending:
		return next == PaymentStatusPaid || next == PaymentStatusFailed
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded
	default:
		return false
	}
}

// IsSettled reports whether the payment reached a state that redelivered
// webhooks must not move it out of.
func (p *Payment) IsSettled() bool {
	return p.Status != PaymentStatusPending
}

// Metadata decodes the metadata bag, returning an empty map when unset.
func (p *Payment) Metadata() map[string]string {
	out := map[string]string{}
	if p.MetadataJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(p.MetadataJSON), &out)
	return out
}

// SetMetadataValue writes a single metadata entry, re-encoding the bag.
func (p *Payment) SetMetadataValue(key, value string) {
	m := p.Metadata()
	if value == "" {
		delete(m, key)
	} else {
		m[key] = value
	}
	if len(m) == 0 {
		p.MetadataJSON = ""
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	p.MetadataJSON = string(raw)
}
