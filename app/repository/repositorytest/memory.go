// Package repositorytest provides an in-memory Store for service tests.
// It mirrors the lookup and guard semantics of the GORM repositories so
// services can be exercised without a database.
package repositorytest

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
)

// MemoryStore implements repository.Store over maps.
type MemoryStore struct {
	mu sync.Mutex

	users         map[uint]models.User
	plans         map[uint]models.Plan
	subscriptions map[uint]models.Subscription
	payments      map[uint]models.Payment
	counters      map[uint]models.UsageCounter
	gateways      map[uint]models.GatewaySetting
	webhookEvents map[uint]models.WebhookEvent

	nextID map[string]uint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[uint]models.User{},
		plans:         map[uint]models.Plan{},
		subscriptions: map[uint]models.Subscription{},
		payments:      map[uint]models.Payment{},
		counters:      map[uint]models.UsageCounter{},
		gateways:      map[uint]models.GatewaySetting{},
		webhookEvents: map[uint]models.WebhookEvent{},
		nextID:        map[string]uint{},
	}
}

func (s *MemoryStore) id(kind string) uint {
	s.nextID[kind]++
	return s.nextID[kind]
}

func (s *MemoryStore) Users() repository.UserRepository                   { return (*memUsers)(s) }
func (s *MemoryStore) Plans() repository.PlanRepository                   { return (*memPlans)(s) }
func (s *MemoryStore) Subscriptions() repository.SubscriptionRepository   { return (*memSubs)(s) }
func (s *MemoryStore) Payments() repository.PaymentRepository             { return (*memPayments)(s) }
func (s *MemoryStore) UsageCounters() repository.UsageCounterRepository   { return (*memCounters)(s) }
func (s *MemoryStore) GatewaySettings() repository.GatewaySettingRepository {
	return (*memGateways)(s)
}
func (s *MemoryStore) WebhookEvents() repository.WebhookEventRepository { return (*memEvents)(s) }

// Transaction runs fn against the same store. Rollback semantics are not
// emulated; tests asserting on failures check observable state directly.
func (s *MemoryStore) Transaction(fn func(repository.Store) error) error {
	return fn(s)
}

// AddPlan seeds a plan, assigning an ID when missing.
func (s *MemoryStore) AddPlan(p *models.Plan) *models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id("plan")
	}
	s.plans[p.ID] = *p
	return p
}

// AddUser seeds a user, assigning an ID when missing.
func (s *MemoryStore) AddUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id("user")
	}
	s.users[u.ID] = *u
	return u
}

// AddGatewaySetting seeds a gateway configuration.
func (s *MemoryStore) AddGatewaySetting(g *models.GatewaySetting) *models.GatewaySetting {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.id("gateway")
	}
	s.gateways[g.ID] = *g
	return g
}

// Counter returns a copy of the stored counter, or nil.
func (s *MemoryStore) Counter(userID uint, periodKey string) *models.UsageCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		if c.UserID == userID && c.PeriodKey == periodKey {
			out := c
			return &out
		}
	}
	return nil
}

// Subscription returns a copy of the stored subscription, or nil.
func (s *MemoryStore) Subscription(id uint) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscriptions[id]; ok {
		out := sub
		return &out
	}
	return nil
}

// Payment returns a copy of the stored payment, or nil.
func (s *MemoryStore) Payment(id uint) *models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		out := p
		return &out
	}
	return nil
}

type memUsers MemoryStore

func (r *memUsers) Create(user *models.User) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.id("user")
	}
	user.CreatedAt = time.Now()
	s.users[user.ID] = *user
	return nil
}

func (r *memUsers) GetByID(id uint) (*models.User, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		out := u
		return &out, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUsers) GetByEmail(email string) (*models.User, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUsers) GetByAPIKeyHash(hash string) (*models.User, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.APIKeyHash != "" && u.APIKeyHash == hash {
			out := u
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUsers) Update(user *models.User) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

type memPlans MemoryStore

func (r *memPlans) Create(plan *models.Plan) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.ID == 0 {
		plan.ID = s.id("plan")
	}
	s.plans[plan.ID] = *plan
	return nil
}

func (r *memPlans) GetByID(id uint) (*models.Plan, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.plans[id]; ok {
		out := p
		return &out, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPlans) GetBySlug(slug string) (*models.Plan, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.Slug == slug {
			out := p
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPlans) ListActive() ([]models.Plan, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Plan
	for _, p := range s.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Price < out[j].Price
	})
	return out, nil
}

func (r *memPlans) Update(plan *models.Plan) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = *plan
	return nil
}

func (r *memPlans) Archive(id uint) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.plans[id]; ok {
		p.IsActive = false
		s.plans[id] = p
	}
	return nil
}

type memSubs MemoryStore

func (r *memSubs) Create(sub *models.Subscription) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.id("subscription")
	}
	sub.CreatedAt = time.Now()
	stored := *sub
	stored.Plan = nil
	s.subscriptions[sub.ID] = stored
	return nil
}

func (r *memSubs) Update(sub *models.Subscription) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *sub
	stored.Plan = nil
	s.subscriptions[sub.ID] = stored
	return nil
}

func (r *memSubs) GetByID(id uint) (*models.Subscription, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := sub
	s.attachPlan(&out)
	return &out, nil
}

func (r *memSubs) GetByIDForUpdate(id uint) (*models.Subscription, error) {
	return r.GetByID(id)
}

func (r *memSubs) GetEntitledByUser(userID uint) (*models.Subscription, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusTrialing {
			continue
		}
		if best == nil || sub.ID > best.ID {
			copied := sub
			best = &copied
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	s.attachPlan(best)
	return best, nil
}

func (r *memSubs) GetEntitledByUserForUpdate(userID uint) (*models.Subscription, error) {
	return r.GetEntitledByUser(userID)
}

func (r *memSubs) GetPendingByUserProvider(userID uint, provider string) (*models.Subscription, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || sub.Provider != provider || sub.Status != models.SubscriptionStatusPastDue {
			continue
		}
		if best == nil || sub.ID > best.ID {
			copied := sub
			best = &copied
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return best, nil
}

func (r *memSubs) HasUsedTrial(userID uint) (bool, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if sub.Status == models.SubscriptionStatusTrialing {
			return true, nil
		}
		if strings.Contains(sub.MetadataJSON, "\""+models.MetaKeyTrialUsed+"\":\"true\"") {
			return true, nil
		}
	}
	return false, nil
}

func (r *memSubs) ListLapsed(now time.Time, limit int) ([]models.Subscription, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusTrialing {
			continue
		}
		if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Before(now) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentPeriodEnd.Before(*out[j].CurrentPeriodEnd)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) attachPlan(sub *models.Subscription) {
	if p, ok := s.plans[sub.PlanID]; ok {
		copied := p
		sub.Plan = &copied
	}
}

type memPayments MemoryStore

func (r *memPayments) Create(payment *models.Payment) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == 0 {
		payment.ID = s.id("payment")
	}
	payment.CreatedAt = time.Now()
	s.payments[payment.ID] = *payment
	return nil
}

func (r *memPayments) Update(payment *models.Payment) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.ID] = *payment
	return nil
}

func (r *memPayments) GetByID(id uint) (*models.Payment, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		out := p
		return &out, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayments) GetByIDForUpdate(id uint) (*models.Payment, error) {
	return r.GetByID(id)
}

func (r *memPayments) GetByProviderReference(provider, reference string) (*models.Payment, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderReference == reference {
			out := p
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayments) GetByProviderReferenceForUpdate(provider, reference string) (*models.Payment, error) {
	return r.GetByProviderReference(provider, reference)
}

func (r *memPayments) GetByProviderMetadata(provider, key, value string) (*models.Payment, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.Metadata()[key] == value {
			out := p
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayments) ListByUser(userID uint, offset, limit int) ([]models.Payment, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memCounters MemoryStore

func (r *memCounters) GetByUserPeriod(userID uint, periodKey string) (*models.UsageCounter, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		if c.UserID == userID && c.PeriodKey == periodKey {
			out := c
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memCounters) GetOrCreate(userID uint, periodKey string, subscriptionID *uint, monthlyLimit, dailyLimit int) (*models.UsageCounter, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		if c.UserID == userID && c.PeriodKey == periodKey {
			out := c
			return &out, nil
		}
	}
	c := models.UsageCounter{
		ID:             s.id("counter"),
		UserID:         userID,
		PeriodKey:      periodKey,
		SubscriptionID: subscriptionID,
		LimitCount:     monthlyLimit,
		DailyLimit:     dailyLimit,
	}
	s.counters[c.ID] = c
	out := c
	return &out, nil
}

func (r *memCounters) UpdateLimits(counterID uint, subscriptionID *uint, monthlyLimit, dailyLimit int) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[counterID]; ok {
		c.SubscriptionID = subscriptionID
		c.LimitCount = monthlyLimit
		c.DailyLimit = dailyLimit
		s.counters[counterID] = c
	}
	return nil
}

func (r *memCounters) SaveDailyReset(counter *models.UsageCounter) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[counter.ID]; ok {
		c.DailyUsed = counter.DailyUsed
		c.LastResetDate = counter.LastResetDate
		s.counters[counter.ID] = c
	}
	return nil
}

func (r *memCounters) Increment(counterID uint) (bool, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[counterID]
	if !ok {
		return false, nil
	}
	if c.LimitCount > 0 && c.UsedCount >= c.LimitCount {
		return false, nil
	}
	if c.DailyLimit > 0 && c.DailyUsed >= c.DailyLimit {
		return false, nil
	}
	c.UsedCount++
	c.DailyUsed++
	s.counters[counterID] = c
	return true, nil
}

type memGateways MemoryStore

func (r *memGateways) GetByProvider(provider string) (*models.GatewaySetting, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gateways {
		if g.Provider == provider {
			out := g
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memGateways) ListEnabled() ([]models.GatewaySetting, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GatewaySetting
	for _, g := range s.gateways {
		if g.Enabled {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memEvents MemoryStore

func (r *memEvents) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.webhookEvents {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			out := e
			return false, &out, nil
		}
	}
	if event.ID == 0 {
		event.ID = s.id("webhook")
	}
	event.CreatedAt = time.Now()
	s.webhookEvents[event.ID] = *event
	out := *event
	return true, &out, nil
}

func (r *memEvents) MarkProcessed(id uint, processingError string) error {
	s := (*MemoryStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.webhookEvents[id]; ok {
		e.ProcessingError = processingError
		if processingError == "" {
			now := time.Now()
			e.ProcessedAt = &now
		}
		s.webhookEvents[id] = e
	}
	return nil
}
