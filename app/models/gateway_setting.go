package models

import (
	"log"
	"strings"
	"time"

	"github.com/consultahub/consultahub/internal/pkg/security"
)

// Payment provider names used across billing models.
const (
	ProviderManual      = "manual"
	ProviderStripe      = "stripe"
	ProviderMercadoPago = "mercadopago"
)

// GatewaySetting is the per-provider configuration maintained by the admin
// app. Credentials are stored as an opaque encrypted blob; this side only
// decodes it, never logs it.
type GatewaySetting struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Provider       string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"provider"`
	Enabled        bool      `gorm:"default:false;index" json:"enabled"`
	Sandbox        bool      `gorm:"default:true" json:"sandbox"`
	CredentialsEnc string    `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Credential returns a single decoded credential value or "".
func (g *GatewaySetting) Credential(key string) string {
	if strings.TrimSpace(g.CredentialsEnc) == "" {
		return ""
	}
	m, err := security.OpenCredentials(g.CredentialsEnc)
	if err != nil {
		log.Printf("gateway %s: credentials unreadable: %v", g.Provider, err)
		return ""
	}
	return m[key]
}

// SetCredentials seals and stores a credential map.
func (g *GatewaySetting) SetCredentials(creds map[string]string) error {
	sealed, err := security.SealCredentials(creds)
	if err != nil {
		return err
	}
	g.CredentialsEnc = sealed
	return nil
}
