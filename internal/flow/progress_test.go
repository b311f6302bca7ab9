package flow

import (
	"reflect"
	"strings"
	"testing"

	"github.com/BTreeMap/LinePilot/internal/models"
)

func TestComputeProgressUnconfigured(t *testing.T) {
	fc := models.NewFlowContext()
	p := ComputeProgress(&fc, nil)
	if p.Configured || p.ReadyForCheckout {
		t.Errorf("expected unconfigured progress, got %+v", p)
	}
	if p.Missing.Plans == nil || p.Missing.Protection == nil {
		t.Error("missing lists should be empty, not nil")
	}
}

func TestComputeProgressMissingLines(t *testing.T) {
	fc := newFlow(2)
	fc.Lines[0] = models.LineState{LineNumber: 1, PlanSelected: true, PlanID: "plan-basic", SimType: models.SimESIM,
		DeviceSelected: true, DeviceID: "pixel-9"}

	cart := models.Cart{}
	cart.EnsureLine(1).Plan = &models.CartItem{ID: "plan-basic", Price: 40, PriceType: models.PriceMonthly}
	cart.EnsureLine(1).Device = &models.CartItem{ID: "pixel-9", Price: 699, PriceType: models.PriceOneTime}
	// A stale cart line past the line count is not counted.
	cart.EnsureLine(3).Plan = &models.CartItem{ID: "plan-basic"}

	p := ComputeProgress(fc, &cart)
	if !reflect.DeepEqual(p.Missing.Plans, []int{2}) {
		t.Errorf("expected plans missing on [2], got %v", p.Missing.Plans)
	}
	if !reflect.DeepEqual(p.Missing.SIM, []int{2}) {
		t.Errorf("expected SIM missing on [2], got %v", p.Missing.SIM)
	}
	if !reflect.DeepEqual(p.Missing.Devices, []int{2}) {
		t.Errorf("expected devices missing on [2], got %v", p.Missing.Devices)
	}
	if !reflect.DeepEqual(p.Missing.Protection, []int{1}) {
		t.Errorf("expected protection missing on [1], got %v", p.Missing.Protection)
	}
	if p.PlansSelected != 1 || p.DevicesSelected != 1 || p.SIMsAssigned != 1 {
		t.Errorf("unexpected counters %+v", p)
	}
	if p.CartItemCount != 2 {
		t.Errorf("expected 2 cart items, got %d", p.CartItemCount)
	}
	if p.ReadyForCheckout {
		t.Error("line 2 has no plan; progress should not be ready")
	}
}

func TestComputeProgressIdempotent(t *testing.T) {
	fc := newFlow(3)
	fc.Lines[1].PlanSelected = true
	fc.Lines[1].SimType = models.SimPSIM
	cart := models.Cart{}
	cart.EnsureLine(2).Plan = &models.CartItem{ID: "plan-unlimited"}

	first := ComputeProgress(fc, &cart)
	second := ComputeProgress(fc, &cart)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("progress differs between calls:\n%+v\n%+v", first, second)
	}
}

func TestComputeProgressReady(t *testing.T) {
	fc := newFlow(2)
	for i := range fc.Lines {
		fc.Lines[i].PlanSelected = true
		fc.Lines[i].SimType = models.SimESIM
	}
	if p := ComputeProgress(fc, nil); !p.ReadyForCheckout {
		t.Errorf("expected ready for checkout, got %+v", p)
	}
}

func TestCheckoutPrecedence(t *testing.T) {
	empty := models.NewFlowContext()
	v := CheckPrerequisite(&empty, models.ActionCheckout, 0)
	if v.Allowed || v.Code != models.VerdictNoLineCount {
		t.Fatalf("expected line count verdict, got %+v", v)
	}
	if !strings.Contains(strings.ToLower(v.Reason), "line count") {
		t.Errorf("expected reason to name the line count, got %q", v.Reason)
	}

	// Line 1 lacks a SIM and line 2 lacks a plan: plans are reported first.
	fc := newFlow(2)
	fc.Lines[0].PlanSelected = true
	fc.Lines[1].SimType = models.SimESIM
	v = CheckPrerequisite(fc, models.ActionCheckout, 0)
	if v.Code != models.VerdictMissingPlans {
		t.Fatalf("expected plans verdict, got %+v", v)
	}
	if !strings.HasPrefix(v.Reason, "Plans are missing for line 2") {
		t.Errorf("unexpected reason %q", v.Reason)
	}
	if !reflect.DeepEqual(v.MissingLines, []int{2}) {
		t.Errorf("expected missing lines [2], got %v", v.MissingLines)
	}

	fc.Lines[1].PlanSelected = true
	v = CheckPrerequisite(fc, models.ActionCheckout, 0)
	if v.Code != models.VerdictMissingSIM || !reflect.DeepEqual(v.MissingLines, []int{1}) {
		t.Fatalf("expected SIM verdict for line 1, got %+v", v)
	}

	fc.Lines[0].SimType = models.SimPSIM
	if v = CheckPrerequisite(fc, models.ActionCollectShipping, 0); !v.Allowed {
		t.Errorf("expected shipping to be allowed, got %+v", v)
	}
}

func TestCheckProtectionPrerequisite(t *testing.T) {
	fc := newFlow(2)
	fc.Lines[0].DeviceSelected = true
	fc.Lines[0].DeviceID = "iphone-16"

	tests := []struct {
		name    string
		line    int
		allowed bool
		code    models.VerdictCode
	}{
		{"device present", 1, true, models.VerdictOK},
		{"no device", 2, false, models.VerdictNoDevice},
		{"beyond line count", 3, false, models.VerdictNoLine},
		{"zero line", 0, false, models.VerdictNoLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckPrerequisite(fc, models.ActionAddProtection, tt.line)
			if v.Allowed != tt.allowed || v.Code != tt.code {
				t.Errorf("CheckPrerequisite(line %d) = %+v", tt.line, v)
			}
		})
	}

	v := CheckPrerequisite(fc, models.ActionAddProtection, 2)
	if !strings.Contains(v.Reason, "Line 2") {
		t.Errorf("expected reason to cite line 2, got %q", v.Reason)
	}
}

func TestCheckPrerequisiteUngatedActions(t *testing.T) {
	fc := models.NewFlowContext()
	for _, a := range []models.Action{models.ActionAddPlan, models.ActionAddDevice, models.ActionAddSIM} {
		if v := CheckPrerequisite(&fc, a, 1); !v.Allowed {
			t.Errorf("expected %s to be allowed, got %+v", a, v)
		}
	}
}

func TestDescribeLines(t *testing.T) {
	if got := describeLines([]int{2}); got != "line 2" {
		t.Errorf("expected 'line 2', got %q", got)
	}
	if got := describeLines([]int{1, 3}); got != "lines 1, 3" {
		t.Errorf("expected 'lines 1, 3', got %q", got)
	}
}
