package flow

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// LineRequest carries the caller's explicit targeting, if any.
type LineRequest struct {
	Line  int
	Lines []int
	All   bool
}

// Explicit reports whether the caller named target lines.
func (r LineRequest) Explicit() bool {
	return r.Line > 0 || len(r.Lines) > 0 || r.All
}

// Assignment is the resolver's decision. A rejected assignment carries
// user-facing guidance and no lines.
type Assignment struct {
	Lines    []int
	Rejected bool
	Reason   string
}

// ResolveTargetLines decides which line(s) an incoming selection targets.
// Explicit requests are honored when in range and rejected otherwise; implicit
// requests fill the first gap for the item type. The lines slice is grown up
// to the chosen target (never beyond LineCount) and trimmed afterwards.
func ResolveTargetLines(fc *models.FlowContext, itemType models.ItemType, req LineRequest) Assignment {
	var a Assignment
	if req.Explicit() {
		a = resolveExplicit(fc, req)
	} else {
		a = resolveImplicit(fc, itemType)
	}

	if !a.Rejected && len(a.Lines) > 0 {
		ensureLines(fc, a.Lines[len(a.Lines)-1])
	}
	trimLines(fc)

	slog.Debug("flow.ResolveTargetLines", "itemType", itemType, "explicit", req.Explicit(), "lines", a.Lines, "rejected", a.Rejected)
	return a
}

func resolveExplicit(fc *models.FlowContext, req LineRequest) Assignment {
	if req.All {
		lines := make([]int, 0, fc.LineCount)
		for n := 1; n <= fc.LineCount; n++ {
			lines = append(lines, n)
		}
		if len(lines) == 0 {
			return Assignment{Rejected: true, Reason: "No lines are configured yet. Set the line count first."}
		}
		return Assignment{Lines: lines}
	}

	requested := req.Lines
	if req.Line > 0 {
		requested = append([]int{req.Line}, requested...)
	}

	seen := make(map[int]bool, len(requested))
	lines := make([]int, 0, len(requested))
	for _, n := range requested {
		if n < 1 || n > fc.LineCount {
			return Assignment{
				Rejected: true,
				Reason: fmt.Sprintf("Line %d isn't part of this order, which has %d line(s). Increase the line count to at least %d with update_line_count first.",
					n, fc.LineCount, n),
			}
		}
		if !seen[n] {
			seen[n] = true
			lines = append(lines, n)
		}
	}
	sort.Ints(lines)
	return Assignment{Lines: lines}
}

func resolveImplicit(fc *models.FlowContext, itemType models.ItemType) Assignment {
	switch itemType {
	case models.ItemPlan:
		return Assignment{Lines: []int{firstGap(fc, func(l models.LineState) bool { return !l.PlanSelected })}}
	case models.ItemDevice:
		return Assignment{Lines: []int{firstGap(fc, func(l models.LineState) bool { return !l.DeviceSelected })}}
	case models.ItemSIM:
		return Assignment{Lines: []int{firstGap(fc, func(l models.LineState) bool { return l.SimType == models.SimNone })}}
	case models.ItemProtection:
		for i := 0; i < fc.LineCount && i < len(fc.Lines); i++ {
			l := fc.Lines[i]
			if l.DeviceSelected && !l.ProtectionSelected {
				return Assignment{Lines: []int{i + 1}}
			}
		}
		return Assignment{
			Rejected: true,
			Reason:   "No line has a device waiting for protection. Add a device to a line first, or name the line you want to protect.",
		}
	default:
		return Assignment{Lines: []int{1}}
	}
}

// firstGap returns the first line matching open, then the next line not yet
// materialized, then line 1.
func firstGap(fc *models.FlowContext, open func(models.LineState) bool) int {
	for i := 0; i < fc.LineCount && i < len(fc.Lines); i++ {
		if open(fc.Lines[i]) {
			return i + 1
		}
	}
	if len(fc.Lines) < fc.LineCount {
		return len(fc.Lines) + 1
	}
	return 1
}

// ensureLines grows fc.Lines so that line n exists, never beyond LineCount.
func ensureLines(fc *models.FlowContext, n int) {
	if n > fc.LineCount {
		n = fc.LineCount
	}
	for len(fc.Lines) < n {
		fc.Lines = append(fc.Lines, models.LineState{LineNumber: len(fc.Lines) + 1})
	}
}

// trimLines drops lines beyond LineCount and renumbers to match position.
func trimLines(fc *models.FlowContext) {
	if len(fc.Lines) > fc.LineCount {
		fc.Lines = fc.Lines[:fc.LineCount]
	}
	for i := range fc.Lines {
		fc.Lines[i].LineNumber = i + 1
	}
}
