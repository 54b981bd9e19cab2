package repository

import (
	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements PaymentRepository with GORM.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a payment repository instance.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

func (r *paymentRepository) Update(payment *models.Payment) error {
	return r.db.Save(payment).Error
}

func (r *paymentRepository) GetByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByIDForUpdate(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByProviderReference(provider, reference string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("provider = ? AND provider_reference = ?", provider, reference).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByProviderReferenceForUpdate(provider, reference string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByProviderMetadata resolves a payment by a metadata entry, used when
// a gateway event carries its own correlation id instead of our provider
// reference. Matches on the encoded JSON like HasUsedTrial does.
func (r *paymentRepository) GetByProviderMetadata(provider, key, value string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("provider = ? AND metadata_json LIKE ?",
		provider, "%\""+key+"\":\""+value+"\"%").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) ListByUser(userID uint, offset, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.Where("user_id = ?", userID).Order("id DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}
