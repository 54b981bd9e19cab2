package repository

import (
	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
)

// planRepository implements PlanRepository with GORM.
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a plan repository instance.
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

// GetByID resolves a plan even after it was archived so historical
// subscriptions and payments keep a valid plan reference.
func (r *planRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Unscoped().First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetBySlug(slug string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("slug = ?", slug).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).
		Order("sort_order ASC, price ASC").
		Find(&plans).Error
	return plans, err
}

func (r *planRepository) Update(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

// Archive soft-deletes a plan. Existing subscriptions keep resolving it
// through Unscoped lookups done by GORM preloads on historical records.
func (r *planRepository) Archive(id uint) error {
	return r.db.Model(&models.Plan{}).Where("id = ?", id).
		Update("is_active", false).Error
}
