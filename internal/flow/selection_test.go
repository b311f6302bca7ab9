package flow

import (
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
)

var (
	basicPlan     = models.CatalogItem{ID: "plan-basic", Name: "Basic", Type: models.ItemPlan, Price: 40, PriceType: models.PriceMonthly}
	unlimitedPlan = models.CatalogItem{ID: "plan-unlimited", Name: "Unlimited", Type: models.ItemPlan, Price: 65, PriceType: models.PriceMonthly}
	pixelDevice   = models.CatalogItem{ID: "pixel-9", Name: "Pixel 9", Type: models.ItemDevice, Brand: "Google", Price: 699, PriceType: models.PriceOneTime}
)

func sessionWithLines(n int) *models.Session {
	s := models.NewSession("sel", time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	if n > 0 {
		_ = setLineCount(s, n)
	}
	return s
}

func TestModeGateParksSelection(t *testing.T) {
	s := sessionWithLines(3)
	plan := PlanSelection(&s.Flow, models.ItemPlan, unlimitedPlan.ID, LineRequest{})
	if plan.Outcome != OutcomePrompt {
		t.Fatalf("expected prompt outcome, got %+v", plan)
	}
	for _, l := range s.Flow.Lines {
		if l.PlanSelected {
			t.Errorf("line %d should not have a plan while the mode is unknown", l.LineNumber)
		}
	}
	sel := s.Flow.PlanSelection
	if sel.PendingItemID != unlimitedPlan.ID || !sel.Prompted {
		t.Errorf("expected pending %q and prompted, got %+v", unlimitedPlan.ID, sel)
	}
	if sel.Mode != models.ModeUnknown {
		t.Errorf("mode should stay unknown, got %s", sel.Mode)
	}
}

func TestSingleLineSkipsModeGate(t *testing.T) {
	s := sessionWithLines(1)
	plan := PlanSelection(&s.Flow, models.ItemPlan, basicPlan.ID, LineRequest{})
	if plan.Outcome != OutcomeApply || !reflect.DeepEqual(plan.Lines, []int{1}) {
		t.Errorf("expected apply to line 1, got %+v", plan)
	}
}

func TestExplicitTargetBypassesModeGate(t *testing.T) {
	s := sessionWithLines(3)
	plan := PlanSelection(&s.Flow, models.ItemDevice, pixelDevice.ID, LineRequest{Line: 2})
	if plan.Outcome != OutcomeApply || !reflect.DeepEqual(plan.Lines, []int{2}) {
		t.Fatalf("expected apply to line 2, got %+v", plan)
	}
	if s.Flow.DeviceSelection.Mode != models.ModeUnknown || s.Flow.DeviceSelection.PendingItemID != "" {
		t.Errorf("explicit targeting must not touch the mode state, got %+v", s.Flow.DeviceSelection)
	}

	plan = PlanSelection(&s.Flow, models.ItemPlan, basicPlan.ID, LineRequest{Line: 5})
	if plan.Outcome != OutcomeReject || plan.Reason == "" {
		t.Errorf("expected rejection for line 5, got %+v", plan)
	}
}

func TestApplyToAllBroadcast(t *testing.T) {
	s := sessionWithLines(3)
	PlanSelection(&s.Flow, models.ItemPlan, unlimitedPlan.ID, LineRequest{})

	change := ChooseMode(&s.Flow, models.ItemPlan, models.ModeApplyToAll)
	if change.ItemID != unlimitedPlan.ID || !reflect.DeepEqual(change.Lines, []int{1, 2, 3}) {
		t.Fatalf("expected pending plan broadcast to all lines, got %+v", change)
	}
	assignPlan(s, change.Lines, unlimitedPlan)
	Normalize(s)

	for _, l := range s.Flow.Lines {
		if !l.PlanSelected || l.PlanID != unlimitedPlan.ID {
			t.Errorf("line %d: expected plan %q, got %+v", l.LineNumber, unlimitedPlan.ID, l)
		}
		cl := s.Cart.Line(l.LineNumber)
		if cl == nil || cl.Plan == nil || cl.Plan.ID != unlimitedPlan.ID {
			t.Errorf("cart line %d should carry the plan", l.LineNumber)
		}
	}
	if s.Flow.PlanSelection.PendingItemID != "" {
		t.Error("pending plan should be consumed")
	}
	if s.Flow.PlanSelection.ActiveLineIndex != models.NoActiveLine {
		t.Errorf("apply-to-all has no active line, got %d", s.Flow.PlanSelection.ActiveLineIndex)
	}

	// Later selections in APPLY_TO_ALL go everywhere.
	plan := PlanSelection(&s.Flow, models.ItemPlan, basicPlan.ID, LineRequest{})
	if plan.Outcome != OutcomeApply || len(plan.Lines) != 3 {
		t.Errorf("expected broadcast to 3 lines, got %+v", plan)
	}
}

func TestApplyToAllFallsBackToLastChosen(t *testing.T) {
	s := sessionWithLines(2)
	s.Flow.PlanSelection.LastChosenItemID = basicPlan.ID
	change := ChooseMode(&s.Flow, models.ItemPlan, models.ModeApplyToAll)
	if change.ItemID != basicPlan.ID || len(change.Lines) != 2 {
		t.Errorf("expected last chosen plan on both lines, got %+v", change)
	}

	s = sessionWithLines(2)
	if change = ChooseMode(&s.Flow, models.ItemPlan, models.ModeMixAndMatch); change.ItemID != "" {
		t.Errorf("mix and match must not reuse a previous choice, got %+v", change)
	}
}

func TestSequentialAdvancement(t *testing.T) {
	s := sessionWithLines(3)
	assignPlan(s, []int{1}, basicPlan)
	ChooseMode(&s.Flow, models.ItemPlan, models.ModeMixAndMatch)
	if got := s.Flow.PlanSelection.ActiveLineIndex; got != 1 {
		t.Fatalf("expected active line index 1 after line 1 is filled, got %d", got)
	}

	plan := PlanSelection(&s.Flow, models.ItemPlan, unlimitedPlan.ID, LineRequest{})
	if plan.Outcome != OutcomeApply || !reflect.DeepEqual(plan.Lines, []int{2}) {
		t.Fatalf("expected selection on line 2, got %+v", plan)
	}
	assignPlan(s, plan.Lines, unlimitedPlan)
	AdvanceActiveLine(&s.Flow, models.ItemPlan)
	if got := s.Flow.PlanSelection.ActiveLineIndex; got != 2 {
		t.Fatalf("expected active line index 2, got %d", got)
	}
	if s.Flow.Line(1).PlanID != basicPlan.ID || s.Flow.Line(3).PlanSelected {
		t.Error("only line 2 should change")
	}
	if ModeComplete(&s.Flow, models.ItemPlan) {
		t.Error("mode should not be complete with line 3 open")
	}

	plan = PlanSelection(&s.Flow, models.ItemPlan, basicPlan.ID, LineRequest{})
	assignPlan(s, plan.Lines, basicPlan)
	AdvanceActiveLine(&s.Flow, models.ItemPlan)
	if s.Flow.PlanSelection.ActiveLineIndex != models.NoActiveLine || !ModeComplete(&s.Flow, models.ItemPlan) {
		t.Errorf("expected completion, got %+v", s.Flow.PlanSelection)
	}

	plan = PlanSelection(&s.Flow, models.ItemPlan, basicPlan.ID, LineRequest{})
	if plan.Outcome != OutcomeReject {
		t.Errorf("expected rejection once every line is filled, got %+v", plan)
	}
}

func TestMixAndMatchAppliesPendingToFirstOpenLine(t *testing.T) {
	s := sessionWithLines(2)
	PlanSelection(&s.Flow, models.ItemDevice, pixelDevice.ID, LineRequest{})
	change := ChooseMode(&s.Flow, models.ItemDevice, models.ModeMixAndMatch)
	if change.ItemID != pixelDevice.ID || !reflect.DeepEqual(change.Lines, []int{1}) {
		t.Errorf("expected pending device on line 1, got %+v", change)
	}
	if s.Flow.PlanSelection.Mode != models.ModeUnknown {
		t.Error("device mode must not change the plan mode")
	}
}

func TestMixAndMatchReportsPendingWithNoOpenLine(t *testing.T) {
	s := sessionWithLines(2)
	assignPlan(s, []int{1, 2}, basicPlan)
	s.Flow.PlanSelection.PendingItemID = unlimitedPlan.ID

	change := ChooseMode(&s.Flow, models.ItemPlan, models.ModeMixAndMatch)
	if change.ItemID != "" || change.Dropped != unlimitedPlan.ID {
		t.Errorf("expected the pending plan to be reported as dropped, got %+v", change)
	}
	if s.Flow.PlanSelection.PendingItemID != "" {
		t.Error("the pending choice should be cleared")
	}
}

func TestRecomputeActiveLinesAfterRemoval(t *testing.T) {
	s := sessionWithLines(2)
	ChooseMode(&s.Flow, models.ItemPlan, models.ModeMixAndMatch)
	assignPlan(s, []int{1, 2}, basicPlan)
	RecomputeActiveLines(&s.Flow)
	if !ModeComplete(&s.Flow, models.ItemPlan) {
		t.Fatal("expected completion with both lines filled")
	}
	if _, err := removeItem(s, models.ItemPlan, 1); err != nil {
		t.Fatalf("removeItem failed: %v", err)
	}
	RecomputeActiveLines(&s.Flow)
	if got := s.Flow.PlanSelection.ActiveLineIndex; got != 0 {
		t.Errorf("expected active line index 0 after removing line 1's plan, got %d", got)
	}
}

func TestUngatedItemsFollowAssignment(t *testing.T) {
	s := sessionWithLines(3)
	plan := PlanSelection(&s.Flow, models.ItemSIM, "", LineRequest{})
	if plan.Outcome != OutcomeApply || !reflect.DeepEqual(plan.Lines, []int{1}) {
		t.Errorf("expected SIM on line 1 without a mode prompt, got %+v", plan)
	}
}
