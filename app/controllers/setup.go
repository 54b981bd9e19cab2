package controllers

import (
	"github.com/consultahub/consultahub/internal/pkg/billing"
	"github.com/consultahub/consultahub/internal/pkg/lookup"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
	"github.com/consultahub/consultahub/internal/pkg/usage"
)

var (
	subscriptionService *subscription.Service
	usageService        *usage.Service
	billingService      *billing.Service
	lookupClient        *lookup.Client
)

// SetupServices injects the shared service instances during boot. Handlers
// are package-level functions, mirroring the rest of the controller layer.
func SetupServices(subs *subscription.Service, usg *usage.Service, bill *billing.Service, lk *lookup.Client) {
	subscriptionService = subs
	usageService = usg
	billingService = bill
	lookupClient = lk
}
