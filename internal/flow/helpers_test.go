package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/LinePilot/internal/carrier"
	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/BTreeMap/LinePilot/internal/store"
)

// newTestService builds a Service over an in-memory store and the static
// catalog, with every collaborator enabled.
func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *Registry) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	reg := NewRegistry(st)
	static := carrier.NewStaticCatalog()
	base := []ServiceOption{
		WithCoverageChecker(static),
		WithDeviceValidator(static),
		WithSIMSwapper(static),
	}
	return NewService(reg, static, append(base, opts...)...), reg
}

// newFlow returns a flow context with n materialized lines.
func newFlow(n int) *models.FlowContext {
	fc := models.NewFlowContext()
	fc.LineCount = n
	ensureLines(&fc, n)
	return &fc
}

// mustHandle runs req and fails the test on an error result.
func mustHandle(t *testing.T, svc *Service, req models.Request) models.ToolResult {
	t.Helper()
	res := svc.Handle(context.Background(), req)
	if res.IsError {
		t.Fatalf("%s returned error result: %s", req.ToolName(), res.Text)
	}
	return res
}

func mustView(t *testing.T, reg *Registry, id string) *models.Session {
	t.Helper()
	sess, err := reg.View(context.Background(), id)
	if err != nil {
		t.Fatalf("View(%s) failed: %v", id, err)
	}
	return sess
}

func errorKind(res models.ToolResult) string {
	k, _ := res.Meta[models.MetaErrorKind].(string)
	return k
}

// failingCarrier fails every catalog and check call with err.
type failingCarrier struct {
	err error
}

func (f failingCarrier) Plans(ctx context.Context) ([]models.CatalogItem, error) {
	return nil, f.err
}

func (f failingCarrier) Devices(ctx context.Context, filter models.DeviceFilter) ([]models.CatalogItem, error) {
	return nil, f.err
}

func (f failingCarrier) Protection(ctx context.Context, deviceID string) ([]models.CatalogItem, error) {
	return nil, f.err
}

func (f failingCarrier) CheckCoverage(ctx context.Context, zipCode string) (models.CoverageResult, error) {
	return models.CoverageResult{}, f.err
}

func (f failingCarrier) ValidateIMEI(ctx context.Context, imei string) (models.DeviceCompatibility, error) {
	return models.DeviceCompatibility{}, f.err
}

func (f failingCarrier) SwapSIM(ctx context.Context, req models.SIMSwapRequest) (models.SIMSwapResult, error) {
	return models.SIMSwapResult{}, f.err
}

// stubClassifier returns a fixed answer.
type stubClassifier struct {
	mode models.SelectionMode
	err  error
}

func (s stubClassifier) ClassifyMode(ctx context.Context, answer string) (models.SelectionMode, error) {
	return s.mode, s.err
}

// perDeviceCatalog serves protection offers keyed by device id on top of the
// static catalog.
type perDeviceCatalog struct {
	*carrier.StaticCatalog
	protection map[string][]models.CatalogItem
}

func (c perDeviceCatalog) Protection(ctx context.Context, deviceID string) ([]models.CatalogItem, error) {
	return c.protection[deviceID], nil
}

// hookCatalog runs onPlans before serving plans, letting a test change the
// session while an operation is between its read and its write.
type hookCatalog struct {
	*carrier.StaticCatalog
	onPlans func()
}

func (c *hookCatalog) Plans(ctx context.Context) ([]models.CatalogItem, error) {
	if c.onPlans != nil {
		c.onPlans()
	}
	return c.StaticCatalog.Plans(ctx)
}
