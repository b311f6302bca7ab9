package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
)

var protectBasic = models.CatalogItem{ID: "protect-basic", Name: "Device Protection", Type: models.ItemProtection, Price: 9, PriceType: models.PriceMonthly}

// assertLineBound checks that lines and cart lines never exceed the line count.
func assertLineBound(t *testing.T, s *models.Session) {
	t.Helper()
	if len(s.Flow.Lines) != s.Flow.LineCount {
		t.Errorf("expected %d line states, got %d", s.Flow.LineCount, len(s.Flow.Lines))
	}
	for _, cl := range s.Cart.Lines {
		if cl.LineNumber > s.Flow.LineCount {
			t.Errorf("cart line %d exceeds line count %d", cl.LineNumber, s.Flow.LineCount)
		}
	}
}

// assertProtectionDependency checks that protection never outlives its device.
func assertProtectionDependency(t *testing.T, s *models.Session) {
	t.Helper()
	for _, l := range s.Flow.Lines {
		if l.ProtectionSelected && !l.DeviceSelected {
			t.Errorf("line %d has protection without a device", l.LineNumber)
		}
		if cl := s.Cart.Line(l.LineNumber); cl != nil && cl.Protection != nil && cl.Device == nil {
			t.Errorf("cart line %d has protection without a device", l.LineNumber)
		}
	}
}

func TestAssignPlanDefaultsToESIM(t *testing.T) {
	s := sessionWithLines(2)
	assignSIM(s, []int{2}, models.SimPSIM, "")
	assignPlan(s, []int{1, 2}, basicPlan)

	if got := s.Flow.Line(1).SimType; got != models.SimESIM {
		t.Errorf("expected line 1 to default to eSIM, got %q", got)
	}
	if got := s.Flow.Line(2).SimType; got != models.SimPSIM {
		t.Errorf("an existing physical SIM must be kept, got %q", got)
	}
	if s.Cart.Line(1).SIM == nil || s.Cart.Line(1).SIM.ID != "sim-esim" {
		t.Error("expected the eSIM in the cart for line 1")
	}
}

func TestAssignProtectionAllOrNothing(t *testing.T) {
	s := sessionWithLines(2)
	assignDevice(s, []int{1}, pixelDevice)

	err := assignProtection(s, []int{1, 2}, protectBasic)
	if !errors.Is(err, models.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if s.Flow.Line(1).ProtectionSelected || s.Cart.Line(1).Protection != nil {
		t.Error("line 1 must not be protected when the request fails")
	}

	if err := assignProtection(s, []int{1}, protectBasic); err != nil {
		t.Fatalf("assignProtection(line 1) failed: %v", err)
	}
	if !s.Flow.Line(1).ProtectionSelected || s.Cart.Line(1).Protection.ID != protectBasic.ID {
		t.Error("expected protection on line 1")
	}
}

func TestChangingDeviceDropsProtection(t *testing.T) {
	s := sessionWithLines(1)
	assignDevice(s, []int{1}, pixelDevice)
	if err := assignProtection(s, []int{1}, protectBasic); err != nil {
		t.Fatalf("assignProtection failed: %v", err)
	}

	assignDevice(s, []int{1}, pixelDevice)
	if !s.Flow.Line(1).ProtectionSelected {
		t.Error("re-selecting the same device should keep its protection")
	}

	other := models.CatalogItem{ID: "galaxy-s25", Name: "Galaxy S25", Type: models.ItemDevice, Price: 799, PriceType: models.PriceOneTime}
	assignDevice(s, []int{1}, other)
	if s.Flow.Line(1).ProtectionSelected || s.Cart.Line(1).Protection != nil {
		t.Error("protection should be cleared when the device changes")
	}
}

func TestRemoveDeviceClearsProtection(t *testing.T) {
	s := sessionWithLines(2)
	assignDevice(s, []int{1}, pixelDevice)
	_ = assignProtection(s, []int{1}, protectBasic)

	removed, err := removeItem(s, models.ItemDevice, 1)
	if err != nil {
		t.Fatalf("removeItem failed: %v", err)
	}
	if removed == nil || removed.ID != pixelDevice.ID {
		t.Errorf("expected the removed device to be returned, got %+v", removed)
	}
	Normalize(s)
	assertProtectionDependency(t, s)
	if s.Flow.Line(1).ProtectionSelected {
		t.Error("protection should be removed with the device")
	}
}

func TestRemoveItemErrors(t *testing.T) {
	s := sessionWithLines(2)
	if _, err := removeItem(s, models.ItemPlan, 1); !errors.Is(err, models.ErrItemNotInCart) {
		t.Errorf("expected ErrItemNotInCart, got %v", err)
	}
	if _, err := removeItem(s, models.ItemSIM, 2); !errors.Is(err, models.ErrItemNotInCart) {
		t.Errorf("expected ErrItemNotInCart for an unset SIM, got %v", err)
	}
	if _, err := removeItem(s, models.ItemPlan, 3); !errors.Is(err, models.ErrLineOutOfRange) {
		t.Errorf("expected ErrLineOutOfRange, got %v", err)
	}
}

func TestLineCountReductionGuard(t *testing.T) {
	s := sessionWithLines(3)
	assignPlan(s, []int{2}, basicPlan)
	before := s.Clone()

	err := setLineCount(s, 1)
	if !errors.Is(err, models.ErrLineCountReduction) {
		t.Fatalf("expected ErrLineCountReduction, got %v", err)
	}
	if s.Flow.LineCount != 3 || len(s.Flow.Lines) != 3 || len(s.Cart.Lines) != len(before.Cart.Lines) {
		t.Errorf("a refused reduction must not mutate the session: %+v", s.Flow)
	}

	if _, err := removeItem(s, models.ItemPlan, 2); err != nil {
		t.Fatalf("removeItem(plan) failed: %v", err)
	}
	if err := setLineCount(s, 1); !errors.Is(err, models.ErrLineCountReduction) {
		t.Fatalf("the auto-assigned SIM on line 2 should still block, got %v", err)
	}
	if _, err := removeItem(s, models.ItemSIM, 2); err != nil {
		t.Fatalf("removeItem(sim) failed: %v", err)
	}
	if err := setLineCount(s, 1); err != nil {
		t.Fatalf("setLineCount(1) with empty lines failed: %v", err)
	}
	assertLineBound(t, s)
}

func TestSetLineCountBounds(t *testing.T) {
	s := sessionWithLines(0)
	for _, n := range []int{0, -1, models.MaxLines + 1} {
		if err := setLineCount(s, n); !errors.Is(err, models.ErrInvalidLineCount) {
			t.Errorf("setLineCount(%d): expected ErrInvalidLineCount, got %v", n, err)
		}
	}
	if err := setLineCount(s, models.MaxLines); err != nil {
		t.Fatalf("setLineCount(max) failed: %v", err)
	}
	assertLineBound(t, s)
}

func TestClearSelectionsKeepsLinesAndModes(t *testing.T) {
	s := sessionWithLines(2)
	ChooseMode(&s.Flow, models.ItemPlan, models.ModeApplyToAll)
	assignPlan(s, []int{1, 2}, basicPlan)
	s.Flow.OrderReference = "LP-123"
	s.Flow.CheckoutDataCollected = true
	s.Flow.FlowStage = models.StageCheckout

	clearSelections(s)
	if s.Flow.LineCount != 2 || len(s.Flow.Lines) != 2 {
		t.Errorf("line count should be kept, got %+v", s.Flow)
	}
	if s.Flow.PlanSelection.Mode != models.ModeApplyToAll {
		t.Errorf("selection mode should be kept, got %s", s.Flow.PlanSelection.Mode)
	}
	if len(s.Cart.Lines) != 0 || s.Cart.Totals.ItemCount != 0 {
		t.Errorf("cart should be empty, got %+v", s.Cart)
	}
	if s.Flow.OrderReference != "" || s.Flow.CheckoutDataCollected || s.Flow.FlowStage != models.StagePlanning {
		t.Errorf("checkout state should be reset, got %+v", s.Flow)
	}
}

func TestNormalizeRestoresInvariants(t *testing.T) {
	s := models.NewSession("n", time.Now())
	s.Flow.LineCount = 2
	s.Flow.Lines = []models.LineState{
		{LineNumber: 1, PlanSelected: true, PlanID: "plan-basic", ProtectionSelected: true, ProtectionID: "protect-basic"},
		{LineNumber: 2, DeviceSelected: true, DeviceID: "pixel-9"},
		{LineNumber: 3, PlanSelected: true},
	}
	s.Flow.PlanSelection.Mode = ""
	s.Flow.FlowStage = ""
	s.Cart.EnsureLine(1).Protection = &models.CartItem{ID: "protect-basic", Price: 9, PriceType: models.PriceMonthly}
	s.Cart.EnsureLine(1).Plan = &models.CartItem{ID: "plan-basic", Price: 40, PriceType: models.PriceMonthly}
	s.Cart.EnsureLine(3).Plan = &models.CartItem{ID: "plan-basic", Price: 40, PriceType: models.PriceMonthly}

	Normalize(s)

	assertLineBound(t, s)
	assertProtectionDependency(t, s)
	if s.Cart.Totals.Monthly != 40 {
		t.Errorf("expected monthly total 40 after dropping stale items, got %v", s.Cart.Totals.Monthly)
	}
	if s.Flow.SelectedPlanByLine["1"] != "plan-basic" || s.Flow.SelectedDevicesPerLine["2"] != "pixel-9" {
		t.Errorf("derived maps not rebuilt: %v %v", s.Flow.SelectedPlanByLine, s.Flow.SelectedDevicesPerLine)
	}
	if _, ok := s.Flow.SelectedPlanByLine["3"]; ok {
		t.Error("derived map should not mention a trimmed line")
	}
	if s.Flow.PlanSelection.Mode != models.ModeUnknown || s.Flow.FlowStage != models.StageInitial {
		t.Errorf("defaults not restored: mode=%q stage=%q", s.Flow.PlanSelection.Mode, s.Flow.FlowStage)
	}
}

func TestNormalizeClampsLineCount(t *testing.T) {
	s := sessionWithLines(0)
	s.Flow.LineCount = models.MaxLines + 5
	Normalize(s)
	if s.Flow.LineCount != models.MaxLines {
		t.Errorf("expected line count clamped to %d, got %d", models.MaxLines, s.Flow.LineCount)
	}
	assertLineBound(t, s)
}
