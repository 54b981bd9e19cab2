package usage

import (
	"errors"
	"log"
	"time"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"gorm.io/gorm"
)

// Access-denial codes returned by the gate. All are recoverable by the
// user (subscribe, renew or wait) and surfaced as structured results, not
// errors.
const (
	CodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
	CodeSubscriptionExpired  = "SUBSCRIPTION_EXPIRED"
	CodePlanLimitReached     = "PLAN_LIMIT_REACHED"
	CodeDailyLimitReached    = "DAILY_LIMIT_REACHED"
)

// Snapshot carries the counter values attached to a quota denial.
type Snapshot struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// AccessCheck is the gate's decision. When allowed, the subscription and
// counter are attached so the caller does not need a second lookup.
type AccessCheck struct {
	Allowed      bool
	Code         string
	Message      string
	Usage        *Snapshot
	Subscription *models.Subscription
	Counter      *models.UsageCounter
}

// Summary is the read-only quota view exposed for display.
type Summary struct {
	PlanID           uint       `json:"plan_id"`
	PlanName         string     `json:"plan_name"`
	Status           string     `json:"status"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	DaysRemaining    int        `json:"days_remaining"`
	MonthlyUsed      int        `json:"monthly_used"`
	MonthlyLimit     int        `json:"monthly_limit"`
	MonthlyRemaining int        `json:"monthly_remaining"`
	DailyUsed        int        `json:"daily_used"`
	DailyLimit       int        `json:"daily_limit"`
	DailyRemaining   int        `json:"daily_remaining"`
	UsagePercentage  int        `json:"usage_percentage"`
}

// ErrNoSubscription is returned by Summary when the user holds no
// entitling subscription.
var ErrNoSubscription = errors.New("usage: no entitling subscription")

// Service answers "may this user perform one more metered lookup" and
// records consumed units. It never mutates subscription state.
type Service struct {
	store repository.Store
	loc   *time.Location
	now   func() time.Time
}

// NewService creates a usage service. loc governs calendar-day comparisons
// for the daily reset; nil falls back to UTC.
func NewService(store repository.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store: store,
		loc:   loc,
		now:   time.Now,
	}
}

// CanPerformLookup runs the ordered gate checks. The first failing check
// wins; on success the subscription and counter ride along for reuse.
func (s *Service) CanPerformLookup(userID uint) (*AccessCheck, error) {
	sub, err := s.store.Subscriptions().GetEntitledByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &AccessCheck{
				Code:    CodeSubscriptionRequired,
				Message: "An active subscription is required to perform lookups.",
			}, nil
		}
		return nil, err
	}

	now := s.now()
	if !sub.CanAccess(now) {
		return &AccessCheck{
			Code:         CodeSubscriptionExpired,
			Message:      "Your subscription period has ended. Renew to continue.",
			Subscription: sub,
		}, nil
	}

	counter, err := s.currentCounter(sub)
	if err != nil {
		return nil, err
	}
	if changed := counter.ResetDailyIfNeeded(now, s.loc); changed {
		if err := s.store.UsageCounters().SaveDailyReset(counter); err != nil {
			return nil, err
		}
	}

	if !counter.HasMonthlyQuota() {
		return &AccessCheck{
			Code:         CodePlanLimitReached,
			Message:      "Monthly lookup limit reached for your plan.",
			Usage:        &Snapshot{Used: counter.UsedCount, Limit: counter.LimitCount},
			Subscription: sub,
			Counter:      counter,
		}, nil
	}
	if counter.DailyLimit > 0 && counter.DailyUsed >= counter.DailyLimit {
		return &AccessCheck{
			Code:         CodeDailyLimitReached,
			Message:      "Daily lookup limit reached. Try again tomorrow.",
			Usage:        &Snapshot{Used: counter.DailyUsed, Limit: counter.DailyLimit},
			Subscription: sub,
			Counter:      counter,
		}, nil
	}

	return &AccessCheck{
		Allowed:      true,
		Subscription: sub,
		Counter:      counter,
	}, nil
}

// RecordUsage consumes one unit for the user's current period. It returns
// false when the user has no entitling subscription or when the guarded
// increment lost a race for the last unit; callers gated by
// CanPerformLookup should treat false as a denied request, not an error.
func (s *Service) RecordUsage(userID uint) (bool, error) {
	sub, err := s.store.Subscriptions().GetEntitledByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("usage: record for user %d without entitling subscription", userID)
			return false, nil
		}
		return false, err
	}

	counter, err := s.currentCounter(sub)
	if err != nil {
		return false, err
	}
	if changed := counter.ResetDailyIfNeeded(s.now(), s.loc); changed {
		if err := s.store.UsageCounters().SaveDailyReset(counter); err != nil {
			return false, err
		}
	}

	ok, err := s.store.UsageCounters().Increment(counter.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("usage: increment rejected for user %d counter %d (quota raced out)", userID, counter.ID)
	}
	return ok, nil
}

// HasFeatureAccess gates plan feature flags unrelated to quota.
func (s *Service) HasFeatureAccess(userID uint, feature string) (bool, error) {
	sub, err := s.store.Subscriptions().GetEntitledByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !sub.CanAccess(s.now()) || sub.Plan == nil {
		return false, nil
	}
	return sub.Plan.HasFeature(feature), nil
}

// Summary builds the display view of the user's current quota state.
func (s *Service) Summary(userID uint) (*Summary, error) {
	sub, err := s.store.Subscriptions().GetEntitledByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}

	counter, err := s.currentCounter(sub)
	if err != nil {
		return nil, err
	}
	if changed := counter.ResetDailyIfNeeded(s.now(), s.loc); changed {
		if err := s.store.UsageCounters().SaveDailyReset(counter); err != nil {
			return nil, err
		}
	}

	out := &Summary{
		PlanID:           sub.PlanID,
		Status:           sub.Status,
		PeriodStart:      sub.CurrentPeriodStart,
		PeriodEnd:        sub.CurrentPeriodEnd,
		DaysRemaining:    sub.DaysRemaining(s.now()),
		MonthlyUsed:      counter.UsedCount,
		MonthlyLimit:     counter.LimitCount,
		MonthlyRemaining: counter.RemainingMonthly(),
		DailyUsed:        counter.DailyUsed,
		DailyLimit:       counter.DailyLimit,
		DailyRemaining:   counter.RemainingDaily(),
		UsagePercentage:  counter.UsagePercentage(),
	}
	if sub.Plan != nil {
		out.PlanName = sub.Plan.Name
	}
	return out, nil
}

// currentCounter fetches or creates the counter for the subscription's
// current calendar month, seeding limits from the plan.
func (s *Service) currentCounter(sub *models.Subscription) (*models.UsageCounter, error) {
	periodKey := models.PeriodKeyFor(s.now(), s.loc)
	monthly, daily := 0, 0
	if sub.Plan != nil {
		monthly = sub.Plan.MonthlyQuota
		daily = sub.Plan.DailyQuota
	}
	subID := sub.ID
	return s.store.UsageCounters().GetOrCreate(sub.UserID, periodKey, &subID, monthly, daily)
}
