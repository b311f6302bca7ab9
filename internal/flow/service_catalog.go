package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// fetchCatalog loads the catalog for itemType. deviceID scopes protection plans.
func (s *Service) fetchCatalog(ctx context.Context, itemType models.ItemType, deviceID string, filter models.DeviceFilter) ([]models.CatalogItem, error) {
	ctx, cancel := s.external(ctx)
	defer cancel()
	switch itemType {
	case models.ItemDevice:
		return s.catalog.Devices(ctx, filter)
	case models.ItemProtection:
		return s.catalog.Protection(ctx, deviceID)
	default:
		return s.catalog.Plans(ctx)
	}
}

func describeItems(items []models.CatalogItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s (%s)", it.Name, formatPrice(*models.CartItemFromCatalog(it)))
	}
	return strings.Join(parts, "; ")
}

// GetPlans lists service plans and asks for the plan mode when it is unset.
func (s *Service) GetPlans(ctx context.Context, id string, _ models.GetPlansRequest) models.ToolResult {
	plans, err := s.fetchCatalog(ctx, models.ItemPlan, "", models.DeviceFilter{})
	if err != nil {
		return models.ErrorResult(models.ErrorKindExternal, externalGuidance("load the plan catalog", err, "show me the plans", false))
	}

	var ask bool
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		fc := &sess.Flow
		fc.AdvanceStage(models.StagePlanning)
		if fc.LineCount > 1 && fc.PlanSelection.Mode == models.ModeUnknown {
			fc.PlanSelection.Prompted = true
			ask = true
		}
		record(sess, models.ToolGetPlans, "listed plans")
		return nil
	})
	if err != nil {
		return failureResult("list plans", err)
	}

	payload := CatalogPayload{Items: plans, LineCount: sess.Flow.LineCount, Mode: sess.Flow.PlanSelection.Mode}
	text := "Available plans: " + describeItems(plans) + "."
	if ask {
		return models.NewToolResult(joinText(text, fmt.Sprintf("You have %d lines. Would you like the same plan on every line, or a different plan for each line?", sess.Flow.LineCount))).
			WithPayload(payload).Suggest(models.ToolSelectPlanMode).Build()
	}
	return models.NewToolResult(text).WithPayload(payload).Suggest(models.ToolAddToCart).Build()
}

// GetDevices lists devices, optionally filtered by brand.
func (s *Service) GetDevices(ctx context.Context, id string, req models.GetDevicesRequest) models.ToolResult {
	devices, err := s.fetchCatalog(ctx, models.ItemDevice, "", models.DeviceFilter{Brand: req.Brand, Limit: req.Limit})
	if err != nil {
		return models.ErrorResult(models.ErrorKindExternal, externalGuidance("load the device catalog", err, "show me phones", false))
	}
	if req.Brand != "" {
		filtered := devices[:0:0]
		for _, d := range devices {
			if strings.EqualFold(d.Brand, req.Brand) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	if req.Limit > 0 && len(devices) > req.Limit {
		devices = devices[:req.Limit]
	}

	var ask bool
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		fc := &sess.Flow
		if fc.LineCount > 1 && fc.DeviceSelection.Mode == models.ModeUnknown {
			fc.DeviceSelection.Prompted = true
			ask = true
		}
		record(sess, models.ToolGetDevices, "listed devices")
		return nil
	})
	if err != nil {
		return failureResult("list devices", err)
	}

	payload := CatalogPayload{Items: devices, LineCount: sess.Flow.LineCount, Mode: sess.Flow.DeviceSelection.Mode}
	if len(devices) == 0 {
		return models.NewToolResult("No devices matched that search.").WithPayload(payload).Suggest(models.ToolGetDevices).Build()
	}
	text := "Available devices: " + describeItems(devices) + "."
	if ask {
		return models.NewToolResult(joinText(text, "Would you like the same device on every line, or a different device for each line?")).
			WithPayload(payload).Suggest(models.ToolSelectDeviceMode).Build()
	}
	return models.NewToolResult(text).WithPayload(payload).Suggest(models.ToolAddToCart).Build()
}

// GetProtectionPlans lists protection options, checking the line's device first
// when a line is named.
func (s *Service) GetProtectionPlans(ctx context.Context, id string, req models.GetProtectionRequest) models.ToolResult {
	view, err := s.registry.View(ctx, id)
	if err != nil {
		return failureResult("load the session", err)
	}

	deviceID := ""
	if req.LineNumber > 0 {
		verdict := CheckPrerequisite(&view.Flow, models.ActionAddProtection, req.LineNumber)
		if !verdict.Allowed {
			return models.NewToolResult(verdict.Reason).WithPayload(verdict).Suggest(verdictNextTool(verdict)).Build()
		}
		deviceID = view.Flow.Line(req.LineNumber).DeviceID
	} else {
		for _, l := range view.Flow.Lines {
			if l.DeviceSelected {
				deviceID = l.DeviceID
				break
			}
		}
	}

	options, err := s.fetchCatalog(ctx, models.ItemProtection, deviceID, models.DeviceFilter{})
	if err != nil {
		return models.ErrorResult(models.ErrorKindExternal, externalGuidance("load protection plans", err, "show protection options", false))
	}
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		record(sess, models.ToolGetProtection, "listed protection plans")
		return nil
	})
	if err != nil {
		return failureResult("list protection plans", err)
	}

	payload := CatalogPayload{Items: options, LineCount: sess.Flow.LineCount}
	text := "Protection options: " + describeItems(options) + "."
	if deviceID == "" {
		text = joinText(text, "Protection is added per device, so pick a device for the line first.")
		return models.NewToolResult(text).WithPayload(payload).Suggest(models.ToolGetDevices).Build()
	}
	return models.NewToolResult(text).WithPayload(payload).Suggest(models.ToolAddToCart).Build()
}

// SelectMode answers the apply-to-all vs mix-and-match question for plans or
// devices and applies any parked selection.
func (s *Service) SelectMode(ctx context.Context, id string, req models.SelectModeRequest) models.ToolResult {
	itemType := req.Item
	if itemType != models.ItemDevice {
		itemType = models.ItemPlan
	}

	mode := req.Mode
	if mode == "" {
		cctx, cancel := s.external(ctx)
		classified, err := s.classifier.ClassifyMode(cctx, req.Answer)
		cancel()
		if err != nil || !models.IsValidSelectionMode(classified) {
			return models.NewToolResult(fmt.Sprintf("I couldn't tell whether you want the same %s on every line or a different %s per line. Please answer \"same for all\" or \"different for each line\".", itemType, itemType)).
				AsError(models.ErrorKindValidation).Suggest(modeTool(itemType)).Build()
		}
		mode = classified
	}

	// The parked item must be priced before the lock is taken.
	view, err := s.registry.View(ctx, id)
	if err != nil {
		return failureResult("load the session", err)
	}
	sel := view.Flow.Selection(itemType)
	pendingID := sel.PendingItemID
	if pendingID == "" && mode == models.ModeApplyToAll {
		pendingID = sel.LastChosenItemID
	}
	var items []models.CatalogItem
	if pendingID != "" {
		items, err = s.fetchCatalog(ctx, itemType, "", models.DeviceFilter{})
		if err != nil {
			return models.ErrorResult(models.ErrorKindExternal, externalGuidance(fmt.Sprintf("load the %s catalog", itemType), err, "choose the mode again", false))
		}
	}

	var (
		applied *models.CatalogItem
		lines   []int
		dropped string
	)
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
		// The catalog above was fetched for the item seen before the lock.
		sel := fc.Selection(itemType)
		current := sel.PendingItemID
		if current == "" && mode == models.ModeApplyToAll {
			current = sel.LastChosenItemID
		}
		if current != pendingID {
			return reject(fmt.Sprintf("Your %s choice changed while I was updating it. Please answer the question again.", itemType), modeTool(itemType))
		}

		change := ChooseMode(fc, itemType, mode)
		switch {
		case change.Dropped != "":
			dropped = fmt.Sprintf("Every line already has a %s, so I didn't add %s.", itemType, itemName(items, change.Dropped))
		case change.ItemID != "":
			item, ok := FindByID(items, change.ItemID)
			if !ok {
				dropped = fmt.Sprintf("%s is no longer available, so I didn't add it.", change.ItemID)
				break
			}
			applyItem(sess, itemType, change.Lines, item)
			applied, lines = &item, change.Lines
			fc.Selection(itemType).LastChosenItemID = item.ID
		}
		AdvanceActiveLine(fc, itemType)
		fc.AdvanceStage(models.StagePlanning)
		record(sess, modeTool(itemType), fmt.Sprintf("chose %s for %ss", mode, itemType))
		return nil
	})
	if err != nil {
		return failureResult("set the selection mode", err)
	}

	fc := &sess.Flow
	payload := SelectionPayload{
		ItemType:  itemType,
		Item:      applied,
		Lines:     lines,
		Cart:      sess.Cart,
		Progress:  ComputeProgress(fc, &sess.Cart),
		Completed: ModeComplete(fc, itemType),
	}

	var text string
	switch {
	case applied != nil && mode == models.ModeApplyToAll:
		text = fmt.Sprintf("Added %s to all %d lines.", applied.Name, len(lines))
	case applied != nil:
		text = fmt.Sprintf("Added %s to %s.", applied.Name, describeLines(lines))
	case mode == models.ModeApplyToAll:
		text = fmt.Sprintf("Got it, the %s you choose will go on every line.", itemType)
	default:
		text = fmt.Sprintf("Got it, we'll choose a %s for each line.", itemType)
	}
	text = joinText(text, dropped)
	if applied == nil && mode == models.ModeApplyToAll {
		return models.NewToolResult(text).WithPayload(payload).Suggest(catalogTool(itemType)).Build()
	}
	next, tool := nextAfterSelection(fc, itemType)
	return models.NewToolResult(joinText(text, next)).WithPayload(payload).Suggest(tool).Build()
}

// itemName returns the catalog name for id, or id itself when it is not listed.
func itemName(items []models.CatalogItem, id string) string {
	if item, ok := FindByID(items, id); ok {
		return item.Name
	}
	return id
}

// applyItem writes a plan or device selection to lines.
func applyItem(sess *models.Session, itemType models.ItemType, lines []int, item models.CatalogItem) {
	if itemType == models.ItemDevice {
		assignDevice(sess, lines, item)
		return
	}
	assignPlan(sess, lines, item)
}

// isCatalogMiss reports whether err came from item matching rather than the collaborator.
func isCatalogMiss(err error) bool {
	return errors.Is(err, models.ErrItemNotFound) || errors.Is(err, models.ErrAmbiguousItem)
}
