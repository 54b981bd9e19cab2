package repository

import (
	"time"

	"github.com/consultahub/consultahub/app/models"
)

// UserRepository defines user-related database operations.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
}

// PlanRepository defines plan-catalog database operations. Plans are
// soft-deleted only; subscriptions and payments keep durable references.
type PlanRepository interface {
	Create(plan *models.Plan) error
	GetByID(id uint) (*models.Plan, error)
	GetBySlug(slug string) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	Update(plan *models.Plan) error
	Archive(id uint) error
}

// SubscriptionRepository defines subscription database operations. The
// ForUpdate variants take a row lock so concurrent webhook deliveries
// serialize on the record.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	Update(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByIDForUpdate(id uint) (*models.Subscription, error)
	GetEntitledByUser(userID uint) (*models.Subscription, error)
	GetEntitledByUserForUpdate(userID uint) (*models.Subscription, error)
	GetPendingByUserProvider(userID uint, provider string) (*models.Subscription, error)
	HasUsedTrial(userID uint) (bool, error)
	ListLapsed(now time.Time, limit int) ([]models.Subscription, error)
}

// PaymentRepository defines payment database operations. Payments are never
// deleted.
type PaymentRepository interface {
	Create(payment *models.Payment) error
	Update(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByIDForUpdate(id uint) (*models.Payment, error)
	GetByProviderReference(provider, reference string) (*models.Payment, error)
	GetByProviderReferenceForUpdate(provider, reference string) (*models.Payment, error)
	GetByProviderMetadata(provider, key, value string) (*models.Payment, error)
	ListByUser(userID uint, offset, limit int) ([]models.Payment, error)
}

// UsageCounterRepository defines quota-ledger database operations.
// Increment applies a single guarded atomic update so concurrent metered
// requests cannot push a counter past its limits.
type UsageCounterRepository interface {
	GetByUserPeriod(userID uint, periodKey string) (*models.UsageCounter, error)
	GetOrCreate(userID uint, periodKey string, subscriptionID *uint, monthlyLimit, dailyLimit int) (*models.UsageCounter, error)
	UpdateLimits(counterID uint, subscriptionID *uint, monthlyLimit, dailyLimit int) error
	SaveDailyReset(counter *models.UsageCounter) error
	Increment(counterID uint) (bool, error)
}

// GatewaySettingRepository reads per-provider gateway configuration. The
// settings are owned by the admin app and read-only here.
type GatewaySettingRepository interface {
	GetByProvider(provider string) (*models.GatewaySetting, error)
	ListEnabled() ([]models.GatewaySetting, error)
}

// WebhookEventRepository persists webhook payloads with dedup semantics.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Store bundles all repositories behind one handle and provides the atomic
// transaction boundary services run their mutations in.
type Store interface {
	Users() UserRepository
	Plans() PlanRepository
	Subscriptions() SubscriptionRepository
	Payments() PaymentRepository
	UsageCounters() UsageCounterRepository
	GatewaySettings() GatewaySettingRepository
	WebhookEvents() WebhookEventRepository

	// Transaction runs fn against a store bound to one database
	// transaction; fn returning an error rolls everything back.
	Transaction(fn func(Store) error) error
}
