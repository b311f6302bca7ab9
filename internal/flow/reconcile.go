package flow

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// Every function in this file mutates a LineState and its CartLine slot
// together. Callers run them inside Registry.Update so a failure commits
// nothing.

// simCatalog holds the cart entries used for SIM assignments.
var simCatalog = map[models.SimType]models.CatalogItem{
	models.SimESIM: {ID: "sim-esim", Name: "eSIM", Type: models.ItemSIM, Price: 0, PriceType: models.PriceOneTime},
	models.SimPSIM: {ID: "sim-psim", Name: "Physical SIM card", Type: models.ItemSIM, Price: 0, PriceType: models.PriceOneTime},
}

func assignPlan(s *models.Session, lines []int, item models.CatalogItem) {
	for _, n := range lines {
		ls := lineForWrite(s, n)
		if ls == nil {
			continue
		}
		ls.PlanSelected = true
		ls.PlanID = item.ID
		s.Cart.EnsureLine(n).Plan = models.CartItemFromCatalog(item)

		if ls.SimType == models.SimNone {
			assignSIM(s, []int{n}, models.SimESIM, "")
		}
	}
}

func assignDevice(s *models.Session, lines []int, item models.CatalogItem) {
	for _, n := range lines {
		ls := lineForWrite(s, n)
		if ls == nil {
			continue
		}
		if ls.DeviceSelected && ls.DeviceID != item.ID {
			clearProtection(s, n)
		}
		ls.DeviceSelected = true
		ls.DeviceID = item.ID
		s.Cart.EnsureLine(n).Device = models.CartItemFromCatalog(item)
	}
}

// assignProtection refuses the whole request if any target line lacks a device.
func assignProtection(s *models.Session, lines []int, item models.CatalogItem) error {
	for _, n := range lines {
		if ls := s.Flow.Line(n); ls == nil || !ls.DeviceSelected {
			return fmt.Errorf("line %d: %w", n, models.ErrNoDevice)
		}
	}
	for _, n := range lines {
		ls := s.Flow.Line(n)
		ls.ProtectionSelected = true
		ls.ProtectionID = item.ID
		s.Cart.EnsureLine(n).Protection = models.CartItemFromCatalog(item)
	}
	return nil
}

func assignSIM(s *models.Session, lines []int, simType models.SimType, iccid string) {
	item, ok := simCatalog[simType]
	if !ok {
		return
	}
	for _, n := range lines {
		ls := lineForWrite(s, n)
		if ls == nil {
			continue
		}
		ls.SimType = simType
		ls.SimICCID = iccid
		ci := models.CartItemFromCatalog(item)
		if iccid != "" {
			ci.Metadata = map[string]string{"iccid": iccid}
		}
		s.Cart.EnsureLine(n).SIM = ci
	}
}

func clearProtection(s *models.Session, n int) {
	if ls := s.Flow.Line(n); ls != nil {
		ls.ProtectionSelected = false
		ls.ProtectionID = ""
	}
	if cl := s.Cart.Line(n); cl != nil {
		cl.Protection = nil
	}
}

// removeItem clears one slot on line n and returns what was removed. Removing
// a device also removes its protection.
func removeItem(s *models.Session, itemType models.ItemType, n int) (*models.CartItem, error) {
	ls := s.Flow.Line(n)
	if n < 1 || n > s.Flow.LineCount || ls == nil {
		return nil, fmt.Errorf("line %d: %w", n, models.ErrLineOutOfRange)
	}
	var removed *models.CartItem
	if cl := s.Cart.Line(n); cl != nil {
		removed = *cl.Slot(itemType)
	}

	switch itemType {
	case models.ItemPlan:
		if !ls.PlanSelected {
			return nil, fmt.Errorf("no plan on line %d: %w", n, models.ErrItemNotInCart)
		}
		ls.PlanSelected = false
		ls.PlanID = ""
	case models.ItemDevice:
		if !ls.DeviceSelected {
			return nil, fmt.Errorf("no device on line %d: %w", n, models.ErrItemNotInCart)
		}
		ls.DeviceSelected = false
		ls.DeviceID = ""
		clearProtection(s, n)
	case models.ItemProtection:
		if !ls.ProtectionSelected {
			return nil, fmt.Errorf("no protection on line %d: %w", n, models.ErrItemNotInCart)
		}
		clearProtection(s, n)
	case models.ItemSIM:
		if ls.SimType == models.SimNone {
			return nil, fmt.Errorf("no SIM on line %d: %w", n, models.ErrItemNotInCart)
		}
		ls.SimType = models.SimNone
		ls.SimICCID = ""
	}
	if cl := s.Cart.Line(n); cl != nil {
		*cl.Slot(itemType) = nil
	}
	return removed, nil
}

// setLineCount grows or shrinks the order. Shrinking is refused when a line
// that would be dropped still holds a selection.
func setLineCount(s *models.Session, n int) error {
	if n < 1 || n > models.MaxLines {
		return models.ErrInvalidLineCount
	}
	fc := &s.Flow
	if n < fc.LineCount {
		var blocked []int
		for ln := n + 1; ln <= fc.LineCount; ln++ {
			ls := fc.Line(ln)
			cl := s.Cart.Line(ln)
			if (ls != nil && ls.HasSelection()) || (cl != nil && !cl.Empty()) {
				blocked = append(blocked, ln)
			}
		}
		if len(blocked) > 0 {
			verb := "still holds"
			if len(blocked) > 1 {
				verb = "still hold"
			}
			return fmt.Errorf("%s %s selections: %w", describeLines(blocked), verb, models.ErrLineCountReduction)
		}
	}

	prev := fc.LineCount
	fc.LineCount = n
	ensureLines(fc, n)
	trimLines(fc)
	s.Cart.Trim(n)
	RecomputeActiveLines(fc)
	slog.Debug("flow.setLineCount", "sessionID", s.ID, "from", prev, "to", n)
	return nil
}

// clearSelections empties every line and the cart but keeps the line count
// and the chosen selection modes.
func clearSelections(s *models.Session) {
	fc := &s.Flow
	for i := range fc.Lines {
		fc.Lines[i] = models.LineState{LineNumber: i + 1}
	}
	s.Cart.Lines = []models.CartLine{}
	s.Cart.Recalculate()
	ClearPending(fc, models.ItemPlan)
	ClearPending(fc, models.ItemDevice)
	fc.PlanSelection.LastChosenItemID = ""
	fc.DeviceSelection.LastChosenItemID = ""
	RecomputeActiveLines(fc)
	fc.OrderReference = ""
	fc.CheckoutDataCollected = false
	if fc.FlowStage == models.StageCheckout {
		fc.FlowStage = models.StagePlanning
	}
}

// lineForWrite returns line n, materializing it if it is within LineCount.
func lineForWrite(s *models.Session, n int) *models.LineState {
	if n < 1 || n > s.Flow.LineCount {
		return nil
	}
	ensureLines(&s.Flow, n)
	return s.Flow.Line(n)
}

// Normalize restores the aggregate invariants: lines and cart lines match the
// line count, protection never outlives its device, derived maps mirror the
// lines and totals are current.
func Normalize(s *models.Session) {
	fc := &s.Flow
	if fc.LineCount < 0 {
		fc.LineCount = 0
	}
	if fc.LineCount > models.MaxLines {
		fc.LineCount = models.MaxLines
	}
	if fc.Lines == nil {
		fc.Lines = []models.LineState{}
	}
	ensureLines(fc, fc.LineCount)
	trimLines(fc)

	for i := range fc.Lines {
		ls := &fc.Lines[i]
		cl := s.Cart.Line(ls.LineNumber)
		if !ls.DeviceSelected {
			ls.ProtectionSelected = false
			ls.ProtectionID = ""
			if cl != nil {
				cl.Protection = nil
			}
		}
		if cl != nil && cl.Device == nil {
			cl.Protection = nil
		}
	}
	if s.Cart.Lines == nil {
		s.Cart.Lines = []models.CartLine{}
	}
	s.Cart.Trim(fc.LineCount)

	fc.SelectedPlanByLine = make(map[string]string)
	fc.SelectedDevicesPerLine = make(map[string]string)
	for _, ls := range fc.Lines {
		if ls.PlanSelected {
			fc.SelectedPlanByLine[models.LineKey(ls.LineNumber)] = ls.PlanID
		}
		if ls.DeviceSelected {
			fc.SelectedDevicesPerLine[models.LineKey(ls.LineNumber)] = ls.DeviceID
		}
	}

	for _, t := range []models.ItemType{models.ItemPlan, models.ItemDevice} {
		sel := fc.Selection(t)
		if sel.Mode == "" {
			sel.Mode = models.ModeUnknown
		}
		if sel.Mode == models.ModeMixAndMatch && sel.ActiveLineIndex >= fc.LineCount {
			sel.ActiveLineIndex = nextUnfilledIndex(fc, t)
		}
	}
	if fc.FlowStage == "" {
		fc.FlowStage = models.StageInitial
	}
}
