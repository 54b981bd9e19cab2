package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/internal/pkg/lookup"
	"github.com/consultahub/consultahub/internal/pkg/metrics/counter"
	"github.com/consultahub/consultahub/internal/pkg/usercontext"
)

var supportedLookupKinds = map[string]bool{
	"company":  true,
	"document": true,
	"vehicle":  true,
}

// HandleLookup performs one metered registry lookup. The quota middleware
// in front of this handler has already admitted the request; the unit is
// consumed only when the lookup succeeds.
func HandleLookup(c *fiber.Ctx) error {
	kind := strings.ToLower(c.Params("kind"))
	query := strings.TrimSpace(c.Params("query"))
	if !supportedLookupKinds[kind] {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown lookup type"})
	}
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Query is required"})
	}

	result, err := lookupClient.Lookup(c.Context(), kind, query)
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No record found"})
		}
		log.Printf("lookup %s/%s for user %d failed: %v", kind, query, usercontext.GetUserID(c), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "Registry lookup failed"})
	}

	if err := counter.AddLookup(kind); err != nil {
		log.Printf("lookup counter for kind %s failed: %v", kind, err)
	}
	return c.JSON(result)
}
