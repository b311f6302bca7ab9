package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// CheckCoverage looks up network coverage. It is a side channel: the main
// flow's position is remembered so the conversation can resume afterwards.
func (s *Service) CheckCoverage(ctx context.Context, id string, req models.CheckCoverageRequest) models.ToolResult {
	if s.coverage == nil {
		return models.ErrorResult(models.ErrorKindExternal, "Coverage lookups aren't available right now. You can continue with your order without it.")
	}
	cctx, cancel := s.external(ctx)
	result, err := s.coverage.CheckCoverage(cctx, req.ZipCode)
	cancel()
	if err != nil {
		slog.Warn("Service.CheckCoverage: lookup failed", "sessionID", id, "zip", req.ZipCode, "error", err)
		return models.ErrorResult(models.ErrorKindExternal,
			externalGuidance("check coverage for "+req.ZipCode, err, "check coverage for "+req.ZipCode, true))
	}

	_, err = s.registry.Update(ctx, id, func(sess *models.Session) error {
		markSideChannel(sess)
		sess.Flow.CoverageChecked = true
		sess.Flow.CoverageZipCode = req.ZipCode
		record(sess, models.ToolCheckCoverage, "checked coverage for "+req.ZipCode)
		return nil
	})
	if err != nil {
		return failureResult("record the coverage check", err)
	}

	var text string
	if result.Covered {
		text = fmt.Sprintf("Good news: %s has coverage", req.ZipCode)
		if len(result.Networks) > 0 {
			text += " on " + strings.Join(result.Networks, ", ")
		}
		if result.SignalLevel != "" {
			text += fmt.Sprintf(" with %s signal", result.SignalLevel)
		}
		text += "."
	} else {
		text = fmt.Sprintf("Coverage in %s is limited. You can still continue with your order.", req.ZipCode)
	}
	return models.NewToolResult(joinText(text, "Shall we pick up where we left off?")).
		WithPayload(result).Suggest(models.ToolResumeFlow).Build()
}

// ValidateDevice checks whether the customer's own device works on the network.
func (s *Service) ValidateDevice(ctx context.Context, id string, req models.ValidateDeviceRequest) models.ToolResult {
	if s.devices == nil {
		return models.ErrorResult(models.ErrorKindExternal, "Device checks aren't available right now. You can continue with your order without it.")
	}
	cctx, cancel := s.external(ctx)
	result, err := s.devices.ValidateIMEI(cctx, req.IMEI)
	cancel()
	if err != nil {
		slog.Warn("Service.ValidateDevice: lookup failed", "sessionID", id, "error", err)
		return models.ErrorResult(models.ErrorKindExternal,
			externalGuidance("check that device", err, "check my phone's IMEI again", true))
	}

	_, err = s.registry.Update(ctx, id, func(sess *models.Session) error {
		markSideChannel(sess)
		record(sess, models.ToolValidateDevice, "validated a device")
		return nil
	})
	if err != nil {
		return failureResult("record the device check", err)
	}

	device := strings.TrimSpace(result.Make + " " + result.Model)
	if device == "" {
		device = "Your device"
	}
	var text string
	switch {
	case result.Compatible && result.ESIMCapable:
		text = fmt.Sprintf("%s is compatible and supports eSIM.", device)
	case result.Compatible:
		text = fmt.Sprintf("%s is compatible but needs a physical SIM card.", device)
	default:
		text = fmt.Sprintf("%s isn't compatible with our network.", device)
		if result.Reason != "" {
			text = joinText(text, result.Reason)
		}
	}
	return models.NewToolResult(text).WithPayload(result).Suggest(models.ToolResumeFlow).Build()
}

// SwapSIM asks the carrier to move an existing line to a new SIM and records
// the new SIM on the line.
func (s *Service) SwapSIM(ctx context.Context, id string, req models.SwapSIMRequest) models.ToolResult {
	if s.sims == nil {
		return models.ErrorResult(models.ErrorKindExternal, "SIM swaps aren't available right now.")
	}
	// Reject an out-of-range line before talking to the carrier.
	if req.LineNumber > 0 {
		view, err := s.registry.View(ctx, id)
		if err != nil {
			return failureResult("load the session", err)
		}
		if req.LineNumber > view.Flow.LineCount {
			return models.NewToolResult(fmt.Sprintf("Line %d isn't part of this order, which has %d line(s).", req.LineNumber, view.Flow.LineCount)).
				AsError(models.ErrorKindValidation).Suggest(models.ToolUpdateLineCount).Build()
		}
	}

	cctx, cancel := s.external(ctx)
	result, err := s.sims.SwapSIM(cctx, models.SIMSwapRequest{CustomerID: req.CustomerID, ICCID: req.ICCID, SimType: req.SimType})
	cancel()
	if err != nil {
		slog.Warn("Service.SwapSIM: swap failed", "sessionID", id, "error", err)
		return models.ErrorResult(models.ErrorKindExternal, externalGuidance("swap the SIM", err, "swap my SIM again", false))
	}

	var line int
	_, err = s.registry.Update(ctx, id, func(sess *models.Session) error {
		markSideChannel(sess)
		if sess.Flow.LineCount > 0 {
			line = req.LineNumber
			if line == 0 {
				line = 1
			}
			assignSIM(sess, []int{line}, req.SimType, req.ICCID)
		}
		record(sess, models.ToolSwapSIM, "swapped SIM")
		return nil
	})
	if err != nil {
		return failureResult("record the SIM swap", err)
	}

	text := fmt.Sprintf("Your SIM swap is %s.", strings.ToLower(result.Status))
	if result.ActivationURL != "" {
		text = joinText(text, "Activate your eSIM at "+result.ActivationURL+".")
	}
	if line > 0 {
		text = joinText(text, fmt.Sprintf("Line %d now uses %s.", line, simName(req.SimType)))
	}
	return models.NewToolResult(text).WithPayload(result).Suggest(models.ToolResumeFlow).Build()
}

// CollectShipping records the shipping address once every line is ready.
func (s *Service) CollectShipping(ctx context.Context, id string, req models.CollectShippingRequest) models.ToolResult {
	addr := req.Address()
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		if err := guardOpen(sess); err != nil {
			return err
		}
		fc := &sess.Flow
		if v := CheckPrerequisite(fc, models.ActionCollectShipping, 0); !v.Allowed {
			return &verdictDenied{verdict: v}
		}
		fc.ShippingAddress = &addr
		if req.ContactPhone != "" {
			fc.ContactPhone = req.ContactPhone
		}
		fc.CheckoutDataCollected = true
		fc.AdvanceStage(models.StageCheckout)
		fc.ResumeStep = ""
		record(sess, models.ToolCollectShipping, "collected shipping address")
		return nil
	})
	if err != nil {
		return failureResult("save the shipping address", err)
	}
	text := fmt.Sprintf("I'll ship to %s, %s, %s %s.", addr.Street, addr.City, addr.State, addr.PostalCode)
	payload := CartPayload{Cart: sess.Cart, Progress: ComputeProgress(&sess.Flow, &sess.Cart)}
	return models.NewToolResult(joinText(text, "Ready to place the order?")).
		WithPayload(payload).WithMeta(models.MetaFlowStage, string(sess.Flow.FlowStage)).
		Suggest(models.ToolCheckout).Build()
}

// Checkout places the order once every prerequisite holds.
func (s *Service) Checkout(ctx context.Context, id string) models.ToolResult {
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		fc := &sess.Flow
		if fc.OrderReference != "" {
			return reject(fmt.Sprintf("Order %s has already been placed.", fc.OrderReference), models.ToolGetFlowStatus)
		}
		if v := CheckPrerequisite(fc, models.ActionCheckout, 0); !v.Allowed {
			return &verdictDenied{verdict: v}
		}
		if !fc.CheckoutDataCollected || fc.ShippingAddress == nil {
			return &verdictDenied{verdict: models.Verdict{
				Reason: "I still need a shipping address before placing the order.",
			}}
		}
		fc.OrderReference = s.newOrderRef()
		fc.AdvanceStage(models.StageCheckout)
		fc.ResumeStep = ""
		record(sess, models.ToolCheckout, "placed order "+fc.OrderReference)
		return nil
	})
	if err != nil {
		res := failureResult("place the order", err)
		if !res.IsError && res.SuggestedNextTool() == "" {
			res = withSuggestion(res, models.ToolCollectShipping)
		}
		return res
	}

	fc := &sess.Flow
	slog.Info("Service.Checkout: order placed", "sessionID", id, "order", fc.OrderReference, "lines", fc.LineCount)
	notified := s.sendConfirmation(ctx, fc.ContactPhone, fc.OrderReference, sess.Cart.Totals)

	text := fmt.Sprintf("Your order is placed! Reference %s. Monthly total $%.2f, due today $%.2f.",
		fc.OrderReference, sess.Cart.Totals.Monthly, sess.Cart.Totals.DueToday)
	if notified {
		text = joinText(text, "A confirmation text is on its way.")
	}
	payload := OrderPayload{
		OrderReference:  fc.OrderReference,
		Totals:          sess.Cart.Totals,
		ShippingAddress: fc.ShippingAddress,
		Notified:        notified,
	}
	return models.NewToolResult(text).WithPayload(payload).WithMeta(models.MetaFlowStage, string(fc.FlowStage)).Build()
}

// sendConfirmation texts the order reference. Failures are logged only; the
// order is already committed.
func (s *Service) sendConfirmation(ctx context.Context, to, ref string, totals models.CartTotals) bool {
	if s.notifier == nil || to == "" {
		return false
	}
	body := fmt.Sprintf("Your LinePilot order %s is confirmed. Monthly: $%.2f. Due today: $%.2f.", ref, totals.Monthly, totals.DueToday)
	nctx, cancel := s.external(ctx)
	defer cancel()
	if err := s.notifier.SendMessage(nctx, to, body); err != nil {
		slog.Warn("Service.sendConfirmation: failed to send", "order", ref, "error", err)
		return false
	}
	return true
}

func withSuggestion(res models.ToolResult, tool string) models.ToolResult {
	if res.Meta == nil {
		res.Meta = make(map[string]interface{})
	}
	res.Meta[models.MetaSuggestedNextTool] = tool
	return res
}
