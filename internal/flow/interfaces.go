package flow

import (
	"context"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// Catalog lists the carrier's plans, devices and protection offerings.
type Catalog interface {
	Plans(ctx context.Context) ([]models.CatalogItem, error)
	Devices(ctx context.Context, filter models.DeviceFilter) ([]models.CatalogItem, error)
	// Protection lists protection plans for a device; an empty deviceID lists
	// the generic options.
	Protection(ctx context.Context, deviceID string) ([]models.CatalogItem, error)
}

// CoverageChecker answers network coverage questions.
type CoverageChecker interface {
	CheckCoverage(ctx context.Context, zipCode string) (models.CoverageResult, error)
}

// DeviceValidator checks bring-your-own-device compatibility.
type DeviceValidator interface {
	ValidateIMEI(ctx context.Context, imei string) (models.DeviceCompatibility, error)
}

// SIMSwapper moves an existing customer line to a new SIM.
type SIMSwapper interface {
	SwapSIM(ctx context.Context, req models.SIMSwapRequest) (models.SIMSwapResult, error)
}

// Notifier delivers a text message to a phone number.
type Notifier interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// ModeClassifier maps a free-text answer to a selection mode.
type ModeClassifier interface {
	ClassifyMode(ctx context.Context, answer string) (models.SelectionMode, error)
}
