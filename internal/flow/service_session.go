package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// StartSession creates or resumes a session, optionally discarding its state.
func (s *Service) StartSession(ctx context.Context, id string, req models.StartSessionRequest) models.ToolResult {
	if req.Reset {
		if err := s.registry.Reset(ctx, id); err != nil {
			return failureResult("reset the session", err)
		}
	}
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		record(sess, models.ToolStartSession, "started session")
		return nil
	})
	if err != nil {
		return failureResult("start the session", err)
	}

	fc := &sess.Flow
	payload := SessionPayload{SessionID: sess.ID, FlowStage: fc.FlowStage, Progress: ComputeProgress(fc, &sess.Cart)}
	if fc.LineCount == 0 {
		return models.NewToolResult("Session ready. How many lines would you like on this order?").
			WithPayload(payload).Suggest(models.ToolUpdateLineCount).Build()
	}
	step := nextResumeStep(fc)
	text := fmt.Sprintf("Welcome back. Your order has %d line(s) and %d item(s) in the cart.", fc.LineCount, sess.Cart.Totals.ItemCount)
	return models.NewToolResult(text).WithPayload(payload).Suggest(models.ResumeStepTool[step]).Build()
}

// UpdateLineCount grows or shrinks the number of lines in the order.
func (s *Service) UpdateLineCount(ctx context.Context, id string, req models.UpdateLineCountRequest) models.ToolResult {
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		if err := guardOpen(sess); err != nil {
			return err
		}
		if err := setLineCount(sess, req.LineCount); err != nil {
			return err
		}
		sess.Flow.AdvanceStage(models.StagePlanning)
		sess.Flow.ResumeStep = ""
		record(sess, models.ToolUpdateLineCount, fmt.Sprintf("set line count to %d", req.LineCount))
		return nil
	})
	if err != nil {
		return failureResult("update the line count", err)
	}

	fc := &sess.Flow
	payload := SessionPayload{SessionID: sess.ID, FlowStage: fc.FlowStage, Progress: ComputeProgress(fc, &sess.Cart)}
	text := fmt.Sprintf("Your order now has %d line(s).", fc.LineCount)
	if fc.LineCount > 1 && fc.PlanSelection.Mode == models.ModeUnknown {
		return models.NewToolResult(joinText(text, "Would you like the same plan on every line, or a different plan for each line?")).
			WithPayload(payload).Suggest(models.ToolSelectPlanMode).Build()
	}
	next, tool := nextAfterSelection(fc, models.ItemPlan)
	return models.NewToolResult(joinText(text, next)).WithPayload(payload).Suggest(tool).Build()
}

// GetCart returns the normalized cart and totals.
func (s *Service) GetCart(ctx context.Context, id string) models.ToolResult {
	sess, err := s.registry.View(ctx, id)
	if err != nil {
		return failureResult("load the cart", err)
	}
	payload := CartPayload{Cart: sess.Cart, Progress: ComputeProgress(&sess.Flow, &sess.Cart)}
	return models.NewToolResult(describeCart(sess.Cart)).WithPayload(payload).Build()
}

// ReviewCart summarizes the cart together with the checkout verdict.
func (s *Service) ReviewCart(ctx context.Context, id string) models.ToolResult {
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		record(sess, models.ToolReviewCart, "reviewed cart")
		sess.Flow.ResumeStep = ""
		return nil
	})
	if err != nil {
		return failureResult("review the cart", err)
	}

	fc := &sess.Flow
	verdict := CheckPrerequisite(fc, models.ActionCheckout, 0)
	payload := CartPayload{Cart: sess.Cart, Progress: ComputeProgress(fc, &sess.Cart), Verdict: &verdict}
	if !verdict.Allowed {
		return models.NewToolResult(joinText(describeCart(sess.Cart), verdict.Reason)).
			WithPayload(payload).Suggest(verdictNextTool(verdict)).Build()
	}
	next := models.ToolCollectShipping
	closing := "Everything is ready for checkout. Where should we ship your order?"
	if fc.CheckoutDataCollected {
		next = models.ToolCheckout
		closing = "Everything is ready. Shall I place the order?"
	}
	return models.NewToolResult(joinText(describeCart(sess.Cart), closing)).WithPayload(payload).Suggest(next).Build()
}

// GetFlowStatus reports progress, stage, modes and the resume step.
func (s *Service) GetFlowStatus(ctx context.Context, id string) models.ToolResult {
	sess, err := s.registry.View(ctx, id)
	if err != nil {
		return failureResult("load the flow status", err)
	}
	fc := &sess.Flow
	p := ComputeProgress(fc, &sess.Cart)
	payload := StatusPayload{
		FlowStage:       fc.FlowStage,
		Progress:        p,
		PlanSelection:   fc.PlanSelection,
		DeviceSelection: fc.DeviceSelection,
		ResumeStep:      fc.ResumeStep,
		LastIntent:      fc.LastIntent,
		LastAction:      fc.LastAction,
		CoverageChecked: fc.CoverageChecked,
		OrderReference:  fc.OrderReference,
	}
	text := fmt.Sprintf("Stage: %s. Lines: %d. Plans selected: %d. Devices selected: %d.", fc.FlowStage, fc.LineCount, p.PlansSelected, p.DevicesSelected)
	if p.ReadyForCheckout {
		text = joinText(text, "Ready for checkout.")
	}
	return models.NewToolResult(text).WithPayload(payload).WithMeta(models.MetaFlowStage, string(fc.FlowStage)).
		Suggest(models.ResumeStepTool[nextResumeStep(fc)]).Build()
}

var stepDescriptions = map[string]string{
	models.StepUpdateLineCount: "How many lines would you like on this order?",
	models.StepSelectPlanMode:  "Would you like the same plan on every line, or a different plan for each line?",
	models.StepAddPlan:         "Let's pick your plan.",
	models.StepReviewCart:      "Let's review your cart.",
	models.StepCollectShipping: "Where should we ship your order?",
	models.StepCheckout:        "You're ready to place the order.",
}

// ResumeFlow returns to the step recorded before a side-channel detour.
func (s *Service) ResumeFlow(ctx context.Context, id string) models.ToolResult {
	var step string
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		step = sess.Flow.ResumeStep
		if step == "" {
			step = nextResumeStep(&sess.Flow)
		}
		sess.Flow.ResumeStep = ""
		record(sess, models.ToolResumeFlow, "resumed flow at "+step)
		return nil
	})
	if err != nil {
		return failureResult("resume the flow", err)
	}
	slog.Debug("Service.ResumeFlow", "sessionID", id, "step", step)
	payload := SessionPayload{SessionID: sess.ID, FlowStage: sess.Flow.FlowStage, Progress: ComputeProgress(&sess.Flow, &sess.Cart)}
	return models.NewToolResult("Picking up where we left off. "+stepDescriptions[step]).
		WithPayload(payload).WithMeta("resume_step", step).Suggest(models.ResumeStepTool[step]).Build()
}

// ClearCart empties the cart, or with Reset deletes the whole session state.
func (s *Service) ClearCart(ctx context.Context, id string, req models.ClearCartRequest) models.ToolResult {
	if req.Reset {
		if err := s.registry.Reset(ctx, id); err != nil {
			return failureResult("reset the session", err)
		}
		return models.NewToolResult("Your cart and order details have been cleared. How many lines would you like?").
			WithPayload(SessionPayload{SessionID: id, FlowStage: models.StageInitial, Progress: ComputeProgress(&models.FlowContext{}, nil)}).
			Suggest(models.ToolUpdateLineCount).Build()
	}
	sess, err := s.registry.Update(ctx, id, func(sess *models.Session) error {
		clearSelections(sess)
		record(sess, models.ToolClearCart, "cleared cart")
		return nil
	})
	if err != nil {
		return failureResult("clear the cart", err)
	}
	text := fmt.Sprintf("Your cart is now empty. You still have %d line(s) set up.", sess.Flow.LineCount)
	payload := CartPayload{Cart: sess.Cart, Progress: ComputeProgress(&sess.Flow, &sess.Cart)}
	return models.NewToolResult(text).WithPayload(payload).Suggest(models.ToolGetPlans).Build()
}
