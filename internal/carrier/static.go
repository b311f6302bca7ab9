package carrier

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// StaticCatalog serves a built-in catalog and deterministic answers for the
// coverage, device and SIM checks. It backs local development and tests.
type StaticCatalog struct {
	plans      []models.CatalogItem
	devices    []models.CatalogItem
	protection []models.CatalogItem
	// uncovered lists ZIP codes reported as having limited coverage.
	uncovered map[string]bool
}

// NewStaticCatalog returns a StaticCatalog loaded with the default offerings.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		plans: []models.CatalogItem{
			{ID: "plan-basic", Name: "Basic", Type: models.ItemPlan, Price: 40, PriceType: models.PriceMonthly,
				Description: "5GB high-speed data, unlimited talk and text"},
			{ID: "plan-unlimited", Name: "Unlimited", Type: models.ItemPlan, Price: 65, PriceType: models.PriceMonthly,
				Description: "Unlimited data, talk and text"},
			{ID: "plan-unlimited-premium", Name: "Unlimited Premium", Type: models.ItemPlan, Price: 85, PriceType: models.PriceMonthly,
				Description: "Unlimited premium data with 50GB hotspot"},
		},
		devices: []models.CatalogItem{
			{ID: "iphone-16", Name: "iPhone 16", Type: models.ItemDevice, Brand: "Apple", Price: 799, PriceType: models.PriceOneTime},
			{ID: "iphone-16-pro", Name: "iPhone 16 Pro", Type: models.ItemDevice, Brand: "Apple", Price: 999, PriceType: models.PriceOneTime},
			{ID: "galaxy-s25", Name: "Galaxy S25", Type: models.ItemDevice, Brand: "Samsung", Price: 799, PriceType: models.PriceOneTime},
			{ID: "pixel-9", Name: "Pixel 9", Type: models.ItemDevice, Brand: "Google", Price: 699, PriceType: models.PriceOneTime},
		},
		protection: []models.CatalogItem{
			{ID: "protect-basic", Name: "Device Protection", Type: models.ItemProtection, Price: 9, PriceType: models.PriceMonthly,
				Description: "Loss, theft and damage coverage"},
			{ID: "protect-plus", Name: "Device Protection Plus", Type: models.ItemProtection, Price: 15, PriceType: models.PriceMonthly,
				Description: "Adds screen repair and battery replacement"},
		},
		uncovered: map[string]bool{"99950": true, "96799": true},
	}
}

// Plans lists the built-in plans.
func (s *StaticCatalog) Plans(ctx context.Context) ([]models.CatalogItem, error) {
	return cloneItems(s.plans), nil
}

// Devices lists the built-in devices narrowed by filter.
func (s *StaticCatalog) Devices(ctx context.Context, filter models.DeviceFilter) ([]models.CatalogItem, error) {
	return FilterDevices(cloneItems(s.devices), filter), nil
}

// Protection lists protection plans. Unknown devices get no offerings.
func (s *StaticCatalog) Protection(ctx context.Context, deviceID string) ([]models.CatalogItem, error) {
	if deviceID == "" {
		return cloneItems(s.protection), nil
	}
	for _, d := range s.devices {
		if d.ID == deviceID {
			return cloneItems(s.protection), nil
		}
	}
	return nil, nil
}

// CheckCoverage reports coverage everywhere except a few remote ZIP codes.
func (s *StaticCatalog) CheckCoverage(ctx context.Context, zipCode string) (models.CoverageResult, error) {
	if s.uncovered[zipCode] {
		return models.CoverageResult{ZipCode: zipCode, Covered: false, Networks: []string{"4G LTE"}, SignalLevel: "weak"}, nil
	}
	return models.CoverageResult{ZipCode: zipCode, Covered: true, Networks: []string{"5G", "4G LTE"}, SignalLevel: "strong"}, nil
}

// ValidateIMEI answers from the IMEI's type allocation code. Apple and
// Samsung TACs are recognized; anything else is reported incompatible.
func (s *StaticCatalog) ValidateIMEI(ctx context.Context, imei string) (models.DeviceCompatibility, error) {
	out := models.DeviceCompatibility{IMEI: imei}
	switch {
	case strings.HasPrefix(imei, "35"):
		out.Compatible, out.ESIMCapable = true, true
		out.Make, out.Model = "Apple", "iPhone"
	case strings.HasPrefix(imei, "49"):
		out.Compatible = true
		out.Make, out.Model = "Samsung", "Galaxy"
	default:
		out.Reason = "The device isn't certified for our network."
	}
	return out, nil
}

// SwapSIM accepts every swap.
func (s *StaticCatalog) SwapSIM(ctx context.Context, req models.SIMSwapRequest) (models.SIMSwapResult, error) {
	out := models.SIMSwapResult{Status: "COMPLETED", TransactionID: fmt.Sprintf("swap-%s-%s", req.CustomerID, lastN(req.ICCID, 4))}
	if req.SimType == models.SimESIM {
		out.ActivationURL = "https://activate.linepilot.example/esim/" + out.TransactionID
	}
	return out, nil
}

// FilterDevices keeps devices matching the filter's brand (case-insensitive)
// and caps the result at its limit.
func FilterDevices(items []models.CatalogItem, filter models.DeviceFilter) []models.CatalogItem {
	if filter.Brand != "" {
		kept := items[:0]
		for _, it := range items {
			if strings.EqualFold(it.Brand, filter.Brand) {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
