package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LinePilot/internal/models"
)

func lineRequestFrom(req models.AddToCartRequest) LineRequest {
	return LineRequest{Line: req.LineNumber, Lines: req.LineNumbers, All: req.ApplyToAll}
}

// AddToCart adds a plan, device, protection or SIM to one or more lines.
func (s *Service) AddToCart(ctx context.Context, id string, req models.AddToCartRequest) models.ToolResult {
	if req.ItemType == models.ItemSIM {
		return s.addSIM(ctx, id, req)
	}

	var (
		scratch *models.Session
		targets []int
	)
	deviceIDs := []string{""}
	if req.ItemType == models.ItemProtection {
		view, err := s.registry.View(ctx, id)
		if err != nil {
			return failureResult("load the session", err)
		}
		// Resolve on a scratch copy to find which devices the protection is for.
		scratch = view.Clone()
		a := ResolveTargetLines(&scratch.Flow, models.ItemProtection, lineRequestFrom(req))
		if a.Rejected {
			if lineRequestFrom(req).Explicit() {
				return models.NewToolResult(a.Reason).AsError(models.ErrorKindValidation).Suggest(models.ToolUpdateLineCount).Build()
			}
			v := models.Verdict{Code: models.VerdictNoDevice, Reason: a.Reason}
			return models.NewToolResult(v.Reason).WithPayload(v).Suggest(models.ToolGetDevices).Build()
		}
		for _, n := range a.Lines {
			if v := CheckPrerequisite(&scratch.Flow, models.ActionAddProtection, n); !v.Allowed {
				return models.NewToolResult(v.Reason).WithPayload(v).Suggest(verdictNextTool(v)).Build()
			}
		}
		targets = a.Lines
		deviceIDs = targetDevices(&scratch.Flow, targets)
	}

	catalogs := make(map[string][]models.CatalogItem, len(deviceIDs))
	for _, dev := range deviceIDs {
		list, err := s.fetchCatalog(ctx, req.ItemType, dev, models.DeviceFilter{})
		if err != nil {
			return models.ErrorResult(models.ErrorKindExternal,
				externalGuidance(fmt.Sprintf("look up that %s", req.ItemType), err, "add it again", false))
		}
		catalogs[dev] = list
	}
	items := catalogs[deviceIDs[0]]
	item, err := MatchItem(items, req.ItemID, req.ItemName)
	if err != nil {
		return s.catalogMiss(ctx, id, req, items, err)
	}

	var offered map[string]models.CatalogItem
	if req.ItemType == models.ItemProtection {
		var missing []int
		offered, missing = protectionOffers(&scratch.Flow, targets, catalogs, item.ID)
		if len(missing) > 0 {
			text := fmt.Sprintf("%s isn't offered for the device on %s, so nothing was added. Check the protection plans for that line to see what it can have.",
				item.Name, describeLines(missing))
			return models.NewToolResult(text).AsError(models.ErrorKindValidation).Suggest(models.ToolGetProtection).Build()
		}
	}

	var (
		plan    SelectionPlan
		applied []int
	)
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		if err := guardOpen(sess); err != nil {
			return err
		}
		fc := &sess.Flow
		if fc.LineCount == 0 && req.ItemType != models.ItemProtection {
			if err := setLineCount(sess, 1); err != nil {
				return err
			}
		}

		plan = PlanSelection(fc, req.ItemType, item.ID, lineRequestFrom(req))
		switch plan.Outcome {
		case OutcomeReject:
			return reject(plan.Reason, rejectionTool(req))
		case OutcomePrompt:
			record(sess, models.ToolAddToCart, fmt.Sprintf("parked %s %s pending mode choice", req.ItemType, item.ID))
			return nil
		}

		switch req.ItemType {
		case models.ItemProtection:
			for _, n := range plan.Lines {
				if v := CheckPrerequisite(fc, models.ActionAddProtection, n); !v.Allowed {
					return &verdictDenied{verdict: v}
				}
				offer, ok := offered[fc.Line(n).DeviceID]
				if !ok {
					return reject("The devices on your lines changed while I was adding protection. Please ask again.", models.ToolGetProtection)
				}
				if err := assignProtection(sess, []int{n}, offer); err != nil {
					return err
				}
			}
		default:
			applyItem(sess, req.ItemType, plan.Lines, item)
			fc.Selection(req.ItemType).LastChosenItemID = item.ID
			ClearPending(fc, req.ItemType)
			AdvanceActiveLine(fc, req.ItemType)
		}
		applied = plan.Lines
		fc.AdvanceStage(models.StageConfiguring)
		fc.ResumeStep = ""
		record(sess, models.ToolAddToCart, fmt.Sprintf("added %s %s to %s", req.ItemType, item.ID, describeLines(applied)))
		return nil
	})
	if err != nil {
		return failureResult("add that to your cart", err)
	}

	fc := &sess.Flow
	payload := SelectionPayload{
		ItemType:  req.ItemType,
		Item:      &item,
		Lines:     applied,
		Pending:   plan.Outcome == OutcomePrompt,
		Cart:      sess.Cart,
		Progress:  ComputeProgress(fc, &sess.Cart),
		Completed: modeGated(req.ItemType) && ModeComplete(fc, req.ItemType),
	}
	if plan.Outcome == OutcomePrompt {
		text := fmt.Sprintf("Before I add %s: you have %d lines. Should it go on every line, or would you like to pick a %s for each line?",
			item.Name, fc.LineCount, req.ItemType)
		return models.NewToolResult(text).WithPayload(payload).Suggest(modeTool(req.ItemType)).Build()
	}

	text := fmt.Sprintf("Added %s to %s.", item.Name, describeLines(applied))
	if req.ItemType == models.ItemPlan {
		text = joinText(text, autoSIMNote(fc, applied))
	}
	next, tool := nextAfterSelection(fc, req.ItemType)
	return models.NewToolResult(joinText(text, next)).WithPayload(payload).Suggest(tool).Build()
}

// addSIM assigns a SIM type; no catalog lookup is needed.
func (s *Service) addSIM(ctx context.Context, id string, req models.AddToCartRequest) models.ToolResult {
	simType := req.SimType
	if simType == models.SimNone {
		simType = models.SimESIM
	}
	var lines []int
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		if err := guardOpen(sess); err != nil {
			return err
		}
		fc := &sess.Flow
		if fc.LineCount == 0 {
			if err := setLineCount(sess, 1); err != nil {
				return err
			}
		}
		a := ResolveTargetLines(fc, models.ItemSIM, lineRequestFrom(req))
		if a.Rejected {
			return reject(a.Reason, models.ToolUpdateLineCount)
		}
		assignSIM(sess, a.Lines, simType, "")
		lines = a.Lines
		fc.AdvanceStage(models.StageConfiguring)
		fc.ResumeStep = ""
		record(sess, models.ToolAddToCart, fmt.Sprintf("set %s on %s", simType, describeLines(lines)))
		return nil
	})
	if err != nil {
		return failureResult("set the SIM type", err)
	}
	fc := &sess.Flow
	payload := SelectionPayload{ItemType: models.ItemSIM, Lines: lines, Cart: sess.Cart, Progress: ComputeProgress(fc, &sess.Cart)}
	text := fmt.Sprintf("Set %s to %s.", describeLines(lines), simName(simType))
	next, tool := nextAfterSelection(fc, models.ItemSIM)
	return models.NewToolResult(joinText(text, next)).WithPayload(payload).Suggest(tool).Build()
}

// catalogMiss reports an unresolvable or ambiguous item. A selection that was
// establishing a mode is abandoned so the user starts the choice afresh.
func (s *Service) catalogMiss(ctx context.Context, id string, req models.AddToCartRequest, items []models.CatalogItem, err error) models.ToolResult {
	if !isCatalogMiss(err) {
		return failureResult("look up that item", err)
	}
	if modeGated(req.ItemType) {
		_, uerr := s.registry.Update(ctx, id, func(sess *models.Session) error {
			sel := sess.Flow.Selection(req.ItemType)
			if sel.Mode == models.ModeUnknown && sel.PendingItemID != "" {
				sel.PendingItemID = ""
				sel.LastChosenItemID = ""
			}
			return nil
		})
		if uerr != nil {
			slog.Error("Service.catalogMiss: clearing pending selection failed", "sessionID", id, "error", uerr)
		}
	}

	wanted := req.ItemName
	if wanted == "" {
		wanted = req.ItemID
	}
	var text string
	if errors.Is(err, models.ErrAmbiguousItem) {
		text = fmt.Sprintf("%q matches more than one %s. Which one did you mean?", wanted, req.ItemType)
	} else {
		text = fmt.Sprintf("I couldn't find a %s called %q.", req.ItemType, wanted)
	}
	if len(items) > 0 {
		text = joinText(text, "Available: "+describeItems(items)+".")
	}
	return models.NewToolResult(text).AsError(models.ErrorKindValidation).
		WithPayload(CatalogPayload{Items: items}).Suggest(catalogTool(req.ItemType)).Build()
}

// RemoveFromCart clears one item from a line.
func (s *Service) RemoveFromCart(ctx context.Context, id string, req models.RemoveFromCartRequest) models.ToolResult {
	var (
		removed        *models.CartItem
		lostProtection bool
	)
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		if err := guardOpen(sess); err != nil {
			return err
		}
		if ls := sess.Flow.Line(req.LineNumber); ls != nil && req.ItemType == models.ItemDevice {
			lostProtection = ls.ProtectionSelected
		}
		item, err := removeItem(sess, req.ItemType, req.LineNumber)
		if err != nil {
			return err
		}
		removed = item
		RecomputeActiveLines(&sess.Flow)
		sess.Flow.ResumeStep = ""
		record(sess, models.ToolRemoveFromCart, fmt.Sprintf("removed %s from line %d", req.ItemType, req.LineNumber))
		return nil
	})
	if err != nil {
		return failureResult("remove that item", err)
	}

	name := string(req.ItemType)
	if removed != nil {
		name = removed.Name
	}
	text := fmt.Sprintf("Removed %s from line %d.", name, req.LineNumber)
	if lostProtection {
		text = joinText(text, "Its device protection was removed too.")
	}
	payload := CartPayload{Cart: sess.Cart, Progress: ComputeProgress(&sess.Flow, &sess.Cart)}
	tool := models.ToolGetCart
	if req.ItemType == models.ItemPlan {
		tool = models.ToolGetPlans
	}
	return models.NewToolResult(text).WithPayload(payload).Suggest(tool).Build()
}

// targetDevices lists the distinct devices on lines in line order.
func targetDevices(fc *models.FlowContext, lines []int) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, n := range lines {
		ls := fc.Line(n)
		if ls == nil || seen[ls.DeviceID] {
			continue
		}
		seen[ls.DeviceID] = true
		ids = append(ids, ls.DeviceID)
	}
	if len(ids) == 0 {
		ids = []string{""}
	}
	return ids
}

// protectionOffers finds itemID in each line's device catalog. It returns the
// offer per device and the lines whose device does not carry the item.
func protectionOffers(fc *models.FlowContext, lines []int, catalogs map[string][]models.CatalogItem, itemID string) (map[string]models.CatalogItem, []int) {
	offered := make(map[string]models.CatalogItem)
	var missing []int
	for _, n := range lines {
		dev := fc.Line(n).DeviceID
		if offer, ok := FindByID(catalogs[dev], itemID); ok {
			offered[dev] = offer
		} else {
			missing = append(missing, n)
		}
	}
	return offered, missing
}

func rejectionTool(req models.AddToCartRequest) string {
	if lineRequestFrom(req).Explicit() {
		return models.ToolUpdateLineCount
	}
	if req.ItemType == models.ItemProtection {
		return models.ToolGetDevices
	}
	return models.ToolAddToCart
}

func autoSIMNote(fc *models.FlowContext, lines []int) string {
	for _, n := range lines {
		if ls := fc.Line(n); ls != nil && ls.SimType == models.SimESIM && ls.SimICCID == "" {
			return "Each line gets an eSIM by default; ask for a physical SIM if you prefer one."
		}
	}
	return ""
}

func simName(t models.SimType) string {
	if t == models.SimPSIM {
		return "a physical SIM"
	}
	return "eSIM"
}
