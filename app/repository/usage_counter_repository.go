package repository

import (
	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageCounterRepository implements UsageCounterRepository with GORM.
type usageCounterRepository struct {
	db *gorm.DB
}

// NewUsageCounterRepository creates a usage counter repository instance.
func NewUsageCounterRepository(db *gorm.DB) UsageCounterRepository {
	return &usageCounterRepository{db: db}
}

func (r *usageCounterRepository) GetByUserPeriod(userID uint, periodKey string) (*models.UsageCounter, error) {
	var c models.UsageCounter
	err := r.db.Where("user_id = ? AND period_key = ?", userID, periodKey).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate returns the counter for (user, period), creating it with the
// given limits when absent. Creation tolerates concurrent inserts via the
// unique (user_id, period_key) index.
func (r *usageCounterRepository) GetOrCreate(userID uint, periodKey string, subscriptionID *uint, monthlyLimit, dailyLimit int) (*models.UsageCounter, error) {
	counter := &models.UsageCounter{
		UserID:         userID,
		PeriodKey:      periodKey,
		SubscriptionID: subscriptionID,
		LimitCount:     monthlyLimit,
		DailyLimit:     dailyLimit,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "period_key"},
		},
		DoNothing: true,
	}).Create(counter).Error; err != nil {
		return nil, err
	}

	var stored models.UsageCounter
	if err := r.db.Where("user_id = ? AND period_key = ?", userID, periodKey).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateLimits rewrites the counter limits for the new plan. Used counts
// are deliberately untouched: changing plans mid-period never grants a
// fresh quota.
func (r *usageCounterRepository) UpdateLimits(counterID uint, subscriptionID *uint, monthlyLimit, dailyLimit int) error {
	return r.db.Model(&models.UsageCounter{}).
		Where("id = ?", counterID).
		Updates(map[string]interface{}{
			"subscription_id": subscriptionID,
			"limit_count":     monthlyLimit,
			"daily_limit":     dailyLimit,
		}).Error
}

func (r *usageCounterRepository) SaveDailyReset(counter *models.UsageCounter) error {
	return r.db.Model(&models.UsageCounter{}).
		Where("id = ?", counter.ID).
		Updates(map[string]interface{}{
			"daily_used":      counter.DailyUsed,
			"last_reset_date": counter.LastResetDate,
		}).Error
}

// Increment bumps both counters in one guarded atomic update. It returns
// false when the guard rejected the increment because a concurrent request
// already consumed the last unit.
func (r *usageCounterRepository) Increment(counterID uint) (bool, error) {
	tx := r.db.Model(&models.UsageCounter{}).
		Where("id = ? AND (limit_count <= 0 OR used_count < limit_count) AND (daily_limit <= 0 OR daily_used < daily_limit)", counterID).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
			"daily_used": gorm.Expr("daily_used + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
