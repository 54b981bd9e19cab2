package billing

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// newPaymentReference mints a correlation key for payments created before
// the gateway assigns its own reference.
func newPaymentReference() string {
	return "pay_" + uuid.NewString()
}

// hashEventID derives a deterministic event id for deliveries that carry
// none, so dedup still works on payload identity.
func hashEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}
