package subscription

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/notifications"
	"gorm.io/gorm"
)

var (
	// ErrPlanRequired signals a programming error: every subscription
	// mutation needs a resolvable plan.
	ErrPlanRequired = errors.New("subscription: plan is required")

	// ErrNotReactivatable is returned when reactivation is requested for a
	// subscription in a terminal state. Expired users go through a fresh
	// Subscribe instead.
	ErrNotReactivatable = errors.New("subscription: status does not allow reactivation")

	// ErrInvalidPaymentTransition is returned when a payment cannot move to
	// the requested status.
	ErrInvalidPaymentTransition = errors.New("subscription: invalid payment status transition")
)

// Service is the exclusive writer of subscription and usage counter state.
// Every operation runs inside one store transaction so a half-applied
// activation can never leave a paying user locked out.
type Service struct {
	store    repository.Store
	notifier notifications.Notifier
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a subscription service. loc governs calendar-day and
// period-key arithmetic; nil falls back to UTC.
func NewService(store repository.Store, notifier notifications.Notifier, loc *time.Location) *Service {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
	}
}

// SubscribeInput carries the parameters for a fresh subscription.
type SubscribeInput struct {
	UserID            uint
	Plan              *models.Plan
	Provider          string
	ProviderReference string
	InitialStatus     string
}

// Subscribe creates a fresh active (or trialing) subscription, canceling
// any subscription the user already holds. Calling it twice nets exactly
// one entitling subscription.
func (s *Service) Subscribe(in SubscribeInput) (*models.Subscription, error) {
	if in.Plan == nil {
		return nil, ErrPlanRequired
	}
	provider := in.Provider
	if provider == "" {
		provider = models.ProviderManual
	}

	var created *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		now := s.now()

		existing, err := tx.Subscriptions().GetEntitledByUserForUpdate(in.UserID)
		if err == nil {
			existing.Status = models.SubscriptionStatusCanceled
			existing.CanceledAt = &now
			existing.CancelAtPeriodEnd = false
			if err := tx.Subscriptions().Update(existing); err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		status := in.InitialStatus
		if status == "" {
			status = models.SubscriptionStatusActive
		}
		start := now
		end := calculatePeriodEnd(in.Plan.Interval, now)

		if status == models.SubscriptionStatusActive && in.Plan.HasTrial() {
			used, err := tx.Subscriptions().HasUsedTrial(in.UserID)
			if err != nil {
				return err
			}
			if !used {
				status = models.SubscriptionStatusTrialing
				end = now.AddDate(0, 0, *in.Plan.TrialDays)
			}
		}

		sub := &models.Subscription{
			UserID:             in.UserID,
			PlanID:             in.Plan.ID,
			Status:             status,
			StartedAt:          now,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
			NextBillingAt:      &end,
			Provider:           provider,
			ProviderReference:  in.ProviderReference,
		}
		if status == models.SubscriptionStatusTrialing {
			sub.SetMetadataValue(models.MetaKeyTrialUsed, "true")
		}
		if err := tx.Subscriptions().Create(sub); err != nil {
			return err
		}
		if err := s.initUsageCounter(tx, sub, in.Plan); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	created.Plan = in.Plan
	if created.IsEntitling() {
		s.notifier.SubscriptionActivated(created)
	}
	return created, nil
}

// CreatePendingSubscription creates (or reuses) a past_due subscription so
// a provider webhook arriving later has a record to activate. Reusing the
// existing pending record for (user, provider) makes retried checkout
// attempts idempotent.
func (s *Service) CreatePendingSubscription(userID uint, plan *models.Plan, provider, providerReference string) (*models.Subscription, error) {
	if plan == nil {
		return nil, ErrPlanRequired
	}

	var out *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		existing, err := tx.Subscriptions().GetPendingByUserProvider(userID, provider)
		if err == nil {
			existing.PlanID = plan.ID
			existing.ProviderReference = providerReference
			if err := tx.Subscriptions().Update(existing); err != nil {
				return err
			}
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		sub := &models.Subscription{
			UserID:            userID,
			PlanID:            plan.ID,
			Status:            models.SubscriptionStatusPastDue,
			StartedAt:         s.now(),
			Provider:          provider,
			ProviderReference: providerReference,
		}
		if err := tx.Subscriptions().Create(sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Plan = plan
	return out, nil
}

// ConfirmPayment marks a payment paid and activates its subscription when
// it is awaiting payment. Safe under webhook redelivery: an already-paid
// payment is a no-op and never re-activates or extends anything.
func (s *Service) ConfirmPayment(paymentID uint) (*models.Subscription, error) {
	var (
		payment   *models.Payment
		sub       *models.Subscription
		activated bool
	)
	err := s.store.Transaction(func(tx repository.Store) error {
		p, err := tx.Payments().GetByIDForUpdate(paymentID)
		if err != nil {
			return err
		}
		payment = p

		if p.Status == models.PaymentStatusPaid {
			if p.SubscriptionID != nil {
				sub, err = tx.Subscriptions().GetByID(*p.SubscriptionID)
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			}
			return nil
		}
		if !p.CanTransitionTo(models.PaymentStatusPaid) {
			return ErrInvalidPaymentTransition
		}

		now := s.now()
		p.Status = models.PaymentStatusPaid
		p.PaidAt = &now
		p.FailureReason = ""
		if err := tx.Payments().Update(p); err != nil {
			return err
		}

		if p.SubscriptionID == nil {
			return nil
		}
		locked, err := tx.Subscriptions().GetByIDForUpdate(*p.SubscriptionID)
		if err != nil {
			return err
		}
		sub = locked

		// Payment confirmation always starts a new billing period, but only
		// for subscriptions still waiting on one.
		if locked.Status == models.SubscriptionStatusPastDue || locked.Status == models.SubscriptionStatusTrialing {
			plan, err := tx.Plans().GetByID(locked.PlanID)
			if err != nil {
				return err
			}
			if err := s.activate(tx, locked, plan); err != nil {
				return err
			}
			activated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payment != nil && payment.Status == models.PaymentStatusPaid {
		s.notifier.PaymentApproved(payment)
	}
	if activated && sub != nil {
		s.notifier.SubscriptionActivated(sub)
	}
	return sub, nil
}

// ActivateSubscription sets the subscription active with a fresh billing
// period computed from now and re-initializes the usage counter.
func (s *Service) ActivateSubscription(subscriptionID uint) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		locked, err := tx.Subscriptions().GetByIDForUpdate(subscriptionID)
		if err != nil {
			return err
		}
		plan, err := tx.Plans().GetByID(locked.PlanID)
		if err != nil {
			return err
		}
		if err := s.activate(tx, locked, plan); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.SubscriptionActivated(sub)
	return sub, nil
}

// ChangePlan switches the subscription to a new plan. Immediate changes
// reset the billing period against the new plan's interval and rewrite the
// current counter's limits; used counts are preserved so a mid-period
// switch never grants a fresh quota. Deferred changes stash a pending
// marker the expiry sweep applies at period end.
func (s *Service) ChangePlan(subscriptionID uint, newPlan *models.Plan, immediate bool) (*models.Subscription, error) {
	if newPlan == nil {
		return nil, ErrPlanRequired
	}

	var sub *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		locked, err := tx.Subscriptions().GetByIDForUpdate(subscriptionID)
		if err != nil {
			return err
		}

		if !immediate {
			locked.SetMetadataValue(models.MetaKeyPendingPlanID, strconv.FormatUint(uint64(newPlan.ID), 10))
			if err := tx.Subscriptions().Update(locked); err != nil {
				return err
			}
			sub = locked
			return nil
		}

		now := s.now()
		end := calculatePeriodEnd(newPlan.Interval, now)
		locked.PlanID = newPlan.ID
		locked.Status = models.SubscriptionStatusActive
		locked.CurrentPeriodStart = &now
		locked.CurrentPeriodEnd = &end
		locked.NextBillingAt = &end
		locked.SetMetadataValue(models.MetaKeyPendingPlanID, "")
		if err := tx.Subscriptions().Update(locked); err != nil {
			return err
		}
		if err := s.initUsageCounter(tx, locked, newPlan); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub.Plan = newPlan
	return sub, nil
}

// Cancel ends a subscription. With atPeriodEnd the status is untouched and
// access continues until the period lapses; otherwise access ends now.
func (s *Service) Cancel(subscriptionID uint, atPeriodEnd bool) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		locked, err := tx.Subscriptions().GetByIDForUpdate(subscriptionID)
		if err != nil {
			return err
		}
		now := s.now()
		if atPeriodEnd {
			locked.CancelAtPeriodEnd = true
			locked.CanceledAt = &now
		} else {
			locked.Status = models.SubscriptionStatusCanceled
			locked.CanceledAt = &now
			locked.CancelAtPeriodEnd = false
		}
		if err := tx.Subscriptions().Update(locked); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate clears cancellation flags and restarts the subscription with
// a fresh period. Expired and hard-canceled subscriptions are not
// reactivatable; those users go through Subscribe again.
func (s *Service) Reactivate(subscriptionID uint) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.store.Transaction(func(tx repository.Store) error {
		locked, err := tx.Subscriptions().GetByIDForUpdate(subscriptionID)
		if err != nil {
			return err
		}

		switch locked.Status {
		case models.SubscriptionStatusPastDue, models.SubscriptionStatusTrialing:
		case models.SubscriptionStatusActive:
			if !locked.CancelAtPeriodEnd {
				return ErrNotReactivatable
			}
		default:
			return ErrNotReactivatable
		}

		locked.CancelAtPeriodEnd = false
		locked.CanceledAt = nil
		plan, err := tx.Plans().GetByID(locked.PlanID)
		if err != nil {
			return err
		}
		if err := s.activate(tx, locked, plan); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.SubscriptionActivated(sub)
	return sub, nil
}

// CheckAndExpire sweeps entitling subscriptions whose period has lapsed:
// cancel-at-period-end becomes expired, everything else past_due (the
// renewal payment has not arrived). A pending plan change marker is applied
// on lapse so the renewal bills the new plan. Returns the transition count.
func (s *Service) CheckAndExpire() (int, error) {
	lapsed, err := s.store.Subscriptions().ListLapsed(s.now(), 500)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range lapsed {
		id := lapsed[i].ID
		err := s.store.Transaction(func(tx repository.Store) error {
			locked, err := tx.Subscriptions().GetByIDForUpdate(id)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			now := s.now()
			if !locked.IsEntitling() || locked.CurrentPeriodEnd == nil || !now.After(*locked.CurrentPeriodEnd) {
				return nil
			}

			if locked.CancelAtPeriodEnd {
				locked.Status = models.SubscriptionStatusExpired
			} else {
				locked.Status = models.SubscriptionStatusPastDue
				s.applyPendingPlanChange(tx, locked)
			}
			if err := tx.Subscriptions().Update(locked); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// applyPendingPlanChange swaps the subscription plan when a deferred
// change marker is present, so the upcoming renewal is billed against the
// new plan. Best-effort: a dangling marker is dropped with a log line.
func (s *Service) applyPendingPlanChange(tx repository.Store, sub *models.Subscription) {
	raw := sub.MetadataValue(models.MetaKeyPendingPlanID)
	if raw == "" {
		return
	}
	planID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Printf("subscription %d: dropping malformed pending plan marker %q", sub.ID, raw)
		sub.SetMetadataValue(models.MetaKeyPendingPlanID, "")
		return
	}
	if _, err := tx.Plans().GetByID(uint(planID)); err != nil {
		log.Printf("subscription %d: pending plan %d not found, dropping marker", sub.ID, planID)
		sub.SetMetadataValue(models.MetaKeyPendingPlanID, "")
		return
	}
	sub.PlanID = uint(planID)
	sub.SetMetadataValue(models.MetaKeyPendingPlanID, "")
}

// activate flips the subscription active with a fresh period from now and
// re-initializes the usage counter for the (possibly new) current period.
// Runs inside the caller's transaction.
func (s *Service) activate(tx repository.Store, sub *models.Subscription, plan *models.Plan) error {
	if plan == nil {
		return ErrPlanRequired
	}
	now := s.now()
	end := calculatePeriodEnd(plan.Interval, now)
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	sub.NextBillingAt = &end
	sub.CancelAtPeriodEnd = false
	if err := tx.Subscriptions().Update(sub); err != nil {
		return err
	}
	return s.initUsageCounter(tx, sub, plan)
}

// initUsageCounter ensures the current-period counter exists and carries
// the plan's limits. An existing counter keeps its used counts so
// re-subscribing inside one month cannot mint a fresh quota.
func (s *Service) initUsageCounter(tx repository.Store, sub *models.Subscription, plan *models.Plan) error {
	periodKey := models.PeriodKeyFor(s.now(), s.loc)
	subID := sub.ID
	counter, err := tx.UsageCounters().GetOrCreate(sub.UserID, periodKey, &subID, plan.MonthlyQuota, plan.DailyQuota)
	if err != nil {
		return err
	}
	return tx.UsageCounters().UpdateLimits(counter.ID, &subID, plan.MonthlyQuota, plan.DailyQuota)
}
