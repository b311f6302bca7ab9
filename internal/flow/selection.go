package flow

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// SelectionOutcome is what the mode machine decided to do with a selection.
type SelectionOutcome string

const (
	// OutcomeApply means the item should be written to Lines.
	OutcomeApply SelectionOutcome = "apply"
	// OutcomePrompt means the item was parked until the user picks a mode.
	OutcomePrompt SelectionOutcome = "prompt"
	// OutcomeReject means nothing was applied; Reason explains why.
	OutcomeReject SelectionOutcome = "reject"
)

// SelectionPlan is the result of routing one selection through the mode machine.
type SelectionPlan struct {
	Outcome SelectionOutcome
	Lines   []int
	Reason  string
}

// modeGated reports whether the item type has a selection mode at all.
func modeGated(t models.ItemType) bool {
	return t == models.ItemPlan || t == models.ItemDevice
}

// modeTool returns the tool that sets the mode for t.
func modeTool(t models.ItemType) string {
	if t == models.ItemDevice {
		return models.ToolSelectDeviceMode
	}
	return models.ToolSelectPlanMode
}

// PlanSelection routes a selection of itemID for itemType. Explicit targeting
// bypasses the mode gate without changing the mode. Only the prompt outcome
// mutates selection state; line growth follows ResolveTargetLines.
func PlanSelection(fc *models.FlowContext, itemType models.ItemType, itemID string, req LineRequest) SelectionPlan {
	if req.Explicit() || !modeGated(itemType) {
		return fromAssignment(ResolveTargetLines(fc, itemType, req))
	}
	if fc.LineCount <= 1 {
		ensureLines(fc, 1)
		return SelectionPlan{Outcome: OutcomeApply, Lines: []int{1}}
	}

	sel := fc.Selection(itemType)
	switch sel.Mode {
	case models.ModeApplyToAll:
		return SelectionPlan{Outcome: OutcomeApply, Lines: allLines(fc)}

	case models.ModeMixAndMatch:
		idx := sel.ActiveLineIndex
		if idx >= 0 && (idx >= fc.LineCount || lineFilled(fc, itemType, idx)) {
			idx = nextUnfilledIndex(fc, itemType)
		}
		if idx < 0 {
			return SelectionPlan{
				Outcome: OutcomeReject,
				Reason: fmt.Sprintf("Every line already has a %s. Name the line to change with line_number, or switch modes with %s.",
					itemType, modeTool(itemType)),
			}
		}
		ensureLines(fc, idx+1)
		return SelectionPlan{Outcome: OutcomeApply, Lines: []int{idx + 1}}

	default:
		sel.PendingItemID = itemID
		sel.LastChosenItemID = itemID
		sel.Prompted = true
		slog.Debug("flow.PlanSelection: parked pending selection", "itemType", itemType, "itemID", itemID, "lineCount", fc.LineCount)
		return SelectionPlan{Outcome: OutcomePrompt}
	}
}

func fromAssignment(a Assignment) SelectionPlan {
	if a.Rejected {
		return SelectionPlan{Outcome: OutcomeReject, Reason: a.Reason}
	}
	return SelectionPlan{Outcome: OutcomeApply, Lines: a.Lines}
}

// ModeChange is what must be applied after a mode transition.
type ModeChange struct {
	ItemID string // pending item to apply, "" when there is none
	Lines  []int

	// Dropped is a parked item that had no line left to go on.
	Dropped string
}

// ChooseMode transitions the selection mode for itemType and returns the pending
// item, if any, together with the lines it should be applied to. APPLY_TO_ALL
// falls back to the last chosen item so "same for all" after a single pick
// broadcasts it. The caller applies the item and then calls AdvanceActiveLine.
func ChooseMode(fc *models.FlowContext, itemType models.ItemType, mode models.SelectionMode) ModeChange {
	sel := fc.Selection(itemType)
	sel.Mode = mode
	sel.Prompted = true

	pending := sel.PendingItemID
	itemID := pending
	if itemID == "" && mode == models.ModeApplyToAll {
		itemID = sel.LastChosenItemID
	}
	sel.PendingItemID = ""

	var change ModeChange
	switch mode {
	case models.ModeApplyToAll:
		sel.ActiveLineIndex = models.NoActiveLine
		if itemID != "" {
			change = ModeChange{ItemID: itemID, Lines: allLines(fc)}
		}
	case models.ModeMixAndMatch:
		idx := sel.ActiveLineIndex
		if idx < 0 || idx >= fc.LineCount || lineFilled(fc, itemType, idx) {
			idx = nextUnfilledIndex(fc, itemType)
		}
		sel.ActiveLineIndex = idx
		switch {
		case itemID != "" && idx >= 0:
			ensureLines(fc, idx+1)
			change = ModeChange{ItemID: itemID, Lines: []int{idx + 1}}
		case pending != "":
			change = ModeChange{Dropped: pending}
		}
	}
	slog.Debug("flow.ChooseMode", "itemType", itemType, "mode", mode, "itemID", change.ItemID, "lines", change.Lines, "dropped", change.Dropped)
	return change
}

// AdvanceActiveLine moves the sequential pointer to the next unfilled line, or
// NoActiveLine when every line is filled. It is a no-op outside MIX_AND_MATCH.
func AdvanceActiveLine(fc *models.FlowContext, itemType models.ItemType) {
	if !modeGated(itemType) {
		return
	}
	sel := fc.Selection(itemType)
	if sel.Mode != models.ModeMixAndMatch {
		return
	}
	sel.ActiveLineIndex = nextUnfilledIndex(fc, itemType)
}

// RecomputeActiveLines refreshes both sequential pointers, e.g. after the line
// count changes or a selection is removed.
func RecomputeActiveLines(fc *models.FlowContext) {
	AdvanceActiveLine(fc, models.ItemPlan)
	AdvanceActiveLine(fc, models.ItemDevice)
}

// ModeComplete reports whether sequential selection for itemType has filled
// every line.
func ModeComplete(fc *models.FlowContext, itemType models.ItemType) bool {
	sel := fc.Selection(itemType)
	return sel.Mode == models.ModeMixAndMatch && sel.ActiveLineIndex == models.NoActiveLine
}

// ClearPending drops any parked selection for itemType.
func ClearPending(fc *models.FlowContext, itemType models.ItemType) {
	if modeGated(itemType) {
		fc.Selection(itemType).PendingItemID = ""
	}
}

// nextUnfilledIndex returns the zero-based index of the first line lacking
// itemType, or NoActiveLine.
func nextUnfilledIndex(fc *models.FlowContext, itemType models.ItemType) int {
	for i := 0; i < fc.LineCount; i++ {
		if !lineFilled(fc, itemType, i) {
			return i
		}
	}
	return models.NoActiveLine
}

func lineFilled(fc *models.FlowContext, itemType models.ItemType, idx int) bool {
	if idx < 0 || idx >= len(fc.Lines) {
		return false
	}
	l := fc.Lines[idx]
	switch itemType {
	case models.ItemDevice:
		return l.DeviceSelected
	case models.ItemProtection:
		return l.ProtectionSelected
	case models.ItemSIM:
		return l.SimType != models.SimNone
	default:
		return l.PlanSelected
	}
}

func allLines(fc *models.FlowContext) []int {
	ensureLines(fc, fc.LineCount)
	lines := make([]int, fc.LineCount)
	for i := range lines {
		lines[i] = i + 1
	}
	return lines
}
