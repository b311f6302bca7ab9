package flow

import (
	"reflect"
	"strings"
	"testing"

	"github.com/BTreeMap/LinePilot/internal/models"
)

func TestResolveExplicitTargets(t *testing.T) {
	tests := []struct {
		name     string
		req      LineRequest
		want     []int
		rejected bool
	}{
		{"single line", LineRequest{Line: 2}, []int{2}, false},
		{"several lines deduplicated", LineRequest{Lines: []int{3, 1, 3}}, []int{1, 3}, false},
		{"line and lines merged", LineRequest{Line: 2, Lines: []int{1}}, []int{1, 2}, false},
		{"all lines", LineRequest{All: true}, []int{1, 2, 3}, false},
		{"beyond line count", LineRequest{Line: 4}, nil, true},
		{"one of several out of range", LineRequest{Lines: []int{1, 5}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := models.NewFlowContext()
			fc.LineCount = 3
			a := ResolveTargetLines(&fc, models.ItemPlan, tt.req)
			if a.Rejected != tt.rejected {
				t.Fatalf("expected rejected=%v, got %+v", tt.rejected, a)
			}
			if !tt.rejected && !reflect.DeepEqual(a.Lines, tt.want) {
				t.Errorf("expected lines %v, got %v", tt.want, a.Lines)
			}
			if len(fc.Lines) > fc.LineCount {
				t.Errorf("lines grew past the line count: %d > %d", len(fc.Lines), fc.LineCount)
			}
		})
	}
}

func TestResolveExplicitRejectionGuidance(t *testing.T) {
	fc := newFlow(2)
	a := ResolveTargetLines(fc, models.ItemDevice, LineRequest{Line: 3})
	if !a.Rejected {
		t.Fatal("expected line 3 to be rejected for a 2-line order")
	}
	if !strings.Contains(a.Reason, "update_line_count") || !strings.Contains(a.Reason, "Line 3") {
		t.Errorf("expected guidance naming line 3 and update_line_count, got %q", a.Reason)
	}
	if len(a.Lines) != 0 {
		t.Errorf("rejected assignment should carry no lines, got %v", a.Lines)
	}
	if len(fc.Lines) != 2 {
		t.Errorf("rejection must not grow lines, got %d", len(fc.Lines))
	}
}

func TestResolveAllWithoutLines(t *testing.T) {
	fc := models.NewFlowContext()
	if a := ResolveTargetLines(&fc, models.ItemPlan, LineRequest{All: true}); !a.Rejected {
		t.Errorf("expected apply-to-all with no lines to be rejected, got %+v", a)
	}
}

func TestResolveImplicitFillsFirstGap(t *testing.T) {
	fc := models.NewFlowContext()
	fc.LineCount = 3
	fc.Lines = []models.LineState{{LineNumber: 1, PlanSelected: true}}

	a := ResolveTargetLines(&fc, models.ItemPlan, LineRequest{})
	if !reflect.DeepEqual(a.Lines, []int{2}) {
		t.Fatalf("expected the next unmaterialized line 2, got %v", a.Lines)
	}
	if len(fc.Lines) != 2 {
		t.Errorf("expected lines to grow to the target, got %d", len(fc.Lines))
	}

	a = ResolveTargetLines(&fc, models.ItemDevice, LineRequest{})
	if !reflect.DeepEqual(a.Lines, []int{1}) {
		t.Errorf("expected the first deviceless line 1, got %v", a.Lines)
	}

	fc.Lines[1].PlanSelected = true
	ensureLines(&fc, 3)
	fc.Lines[2].PlanSelected = true
	if a = ResolveTargetLines(&fc, models.ItemPlan, LineRequest{}); !reflect.DeepEqual(a.Lines, []int{1}) {
		t.Errorf("expected line 1 when every line is filled, got %v", a.Lines)
	}
}

func TestResolveImplicitSIM(t *testing.T) {
	fc := newFlow(2)
	fc.Lines[0].SimType = models.SimESIM
	if a := ResolveTargetLines(fc, models.ItemSIM, LineRequest{}); !reflect.DeepEqual(a.Lines, []int{2}) {
		t.Errorf("expected line 2 for the SIM, got %v", a.Lines)
	}
}

func TestResolveImplicitProtection(t *testing.T) {
	fc := newFlow(3)
	if a := ResolveTargetLines(fc, models.ItemProtection, LineRequest{}); !a.Rejected {
		t.Fatalf("expected rejection with no devices, got %+v", a)
	}

	fc.Lines[1].DeviceSelected = true
	a := ResolveTargetLines(fc, models.ItemProtection, LineRequest{})
	if a.Rejected || !reflect.DeepEqual(a.Lines, []int{2}) {
		t.Errorf("expected protection to target line 2, got %+v", a)
	}

	fc.Lines[1].ProtectionSelected = true
	if a = ResolveTargetLines(fc, models.ItemProtection, LineRequest{}); !a.Rejected {
		t.Errorf("expected rejection once every device is protected, got %+v", a)
	}
}

func TestTrimLinesRenumbers(t *testing.T) {
	fc := models.NewFlowContext()
	fc.LineCount = 2
	fc.Lines = []models.LineState{{LineNumber: 7}, {LineNumber: 8}, {LineNumber: 9}}
	trimLines(&fc)
	if len(fc.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(fc.Lines))
	}
	for i, l := range fc.Lines {
		if l.LineNumber != i+1 {
			t.Errorf("line %d numbered %d", i+1, l.LineNumber)
		}
	}
}
