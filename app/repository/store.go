package repository

import "gorm.io/gorm"

// gormStore implements Store on top of a GORM handle. The same type serves
// both the root DB and transaction-bound handles.
type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Users() UserRepository                     { return NewUserRepository(s.db) }
func (s *gormStore) Plans() PlanRepository                     { return NewPlanRepository(s.db) }
func (s *gormStore) Subscriptions() SubscriptionRepository     { return NewSubscriptionRepository(s.db) }
func (s *gormStore) Payments() PaymentRepository               { return NewPaymentRepository(s.db) }
func (s *gormStore) UsageCounters() UsageCounterRepository     { return NewUsageCounterRepository(s.db) }
func (s *gormStore) GatewaySettings() GatewaySettingRepository { return NewGatewaySettingRepository(s.db) }
func (s *gormStore) WebhookEvents() WebhookEventRepository     { return NewWebhookEventRepository(s.db) }

func (s *gormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
