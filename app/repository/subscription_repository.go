package repository

import (
	"time"

	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements SubscriptionRepository with GORM.
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription repository instance.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Preload("Plan").First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByIDForUpdate(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetEntitledByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetEntitledByUserForUpdate(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status IN ?", userID, []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetPendingByUserProvider(userID uint, provider string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND provider = ? AND status = ?", userID, provider, models.SubscriptionStatusPastDue).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// HasUsedTrial reports whether the user ever held a trialing subscription
// or one flagged as having consumed a trial.
func (r *subscriptionRepository) HasUsedTrial(userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("user_id = ? AND (status = ? OR metadata_json LIKE ?)",
			userID, models.SubscriptionStatusTrialing, "%\""+models.MetaKeyTrialUsed+"\":\"true\"%").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *subscriptionRepository) ListLapsed(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.
		Where("status IN ? AND current_period_end IS NOT NULL AND current_period_end < ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}, now).
		Order("current_period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&subs).Error
	return subs, err
}
