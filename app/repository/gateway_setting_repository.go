package repository

import (
	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
)

// gatewaySettingRepository implements GatewaySettingRepository with GORM.
type gatewaySettingRepository struct {
	db *gorm.DB
}

// NewGatewaySettingRepository creates a gateway setting repository instance.
func NewGatewaySettingRepository(db *gorm.DB) GatewaySettingRepository {
	return &gatewaySettingRepository{db: db}
}

func (r *gatewaySettingRepository) GetByProvider(provider string) (*models.GatewaySetting, error) {
	var setting models.GatewaySetting
	if err := r.db.Where("provider = ?", provider).First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *gatewaySettingRepository) ListEnabled() ([]models.GatewaySetting, error) {
	var settings []models.GatewaySetting
	err := r.db.Where("enabled = ?", true).Find(&settings).Error
	return settings, err
}
