package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/google/uuid"
)

// DefaultExternalTimeout bounds each call to an external collaborator.
const DefaultExternalTimeout = 20 * time.Second

// Service implements the tool operations on top of the Registry. External
// calls always happen before the session lock is taken, so a failing
// collaborator never leaves a half-applied mutation behind.
type Service struct {
	registry   *Registry
	catalog    Catalog
	coverage   CoverageChecker
	devices    DeviceValidator
	sims       SIMSwapper
	notifier   Notifier
	classifier ModeClassifier

	externalTimeout time.Duration
	newOrderRef     func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCoverageChecker sets the coverage collaborator.
func WithCoverageChecker(c CoverageChecker) ServiceOption {
	return func(s *Service) { s.coverage = c }
}

// WithDeviceValidator sets the IMEI compatibility collaborator.
func WithDeviceValidator(v DeviceValidator) ServiceOption {
	return func(s *Service) { s.devices = v }
}

// WithSIMSwapper sets the SIM swap collaborator.
func WithSIMSwapper(sw SIMSwapper) ServiceOption {
	return func(s *Service) { s.sims = sw }
}

// WithNotifier enables order confirmation messages.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithModeClassifier replaces the keyword classifier for free-text mode answers.
func WithModeClassifier(c ModeClassifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithExternalTimeout sets the per-call timeout for external collaborators.
func WithExternalTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.externalTimeout = d
		}
	}
}

// NewService creates a Service. catalog is required; the other collaborators
// are optional and the matching tools report themselves unavailable without them.
func NewService(registry *Registry, catalog Catalog, opts ...ServiceOption) *Service {
	s := &Service{
		registry:        registry,
		catalog:         catalog,
		classifier:      KeywordClassifier{},
		externalTimeout: DefaultExternalTimeout,
		newOrderRef: func() string {
			return "LP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("flow.NewService: created",
		"coverage", s.coverage != nil, "devices", s.devices != nil, "sims", s.sims != nil,
		"notifier", s.notifier != nil, "externalTimeout", s.externalTimeout)
	return s
}

// Registry exposes the session registry for read-only endpoints.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Handle validates req, resolves its session and dispatches to the operation.
// It always returns a result; failures are reported through IsError.
func (s *Service) Handle(ctx context.Context, req models.Request) models.ToolResult {
	if err := req.Validate(); err != nil {
		slog.Debug("Service.Handle: validation failed", "tool", req.ToolName(), "error", err)
		return models.ErrorResult(models.ErrorKindValidation, "Invalid request: "+err.Error())
	}
	id, err := s.registry.Resolve(ctx, req.Session())
	if err != nil {
		slog.Error("Service.Handle: session resolution failed", "tool", req.ToolName(), "error", err)
		return models.ErrorResult(models.ErrorKindInternal, "Session storage is unavailable. Please try again shortly.")
	}

	var res models.ToolResult
	switch r := req.(type) {
	case models.StartSessionRequest:
		res = s.StartSession(ctx, id, r)
	case models.UpdateLineCountRequest:
		res = s.UpdateLineCount(ctx, id, r)
	case models.GetPlansRequest:
		res = s.GetPlans(ctx, id, r)
	case models.GetDevicesRequest:
		res = s.GetDevices(ctx, id, r)
	case models.GetProtectionRequest:
		res = s.GetProtectionPlans(ctx, id, r)
	case models.SelectModeRequest:
		res = s.SelectMode(ctx, id, r)
	case models.AddToCartRequest:
		res = s.AddToCart(ctx, id, r)
	case models.RemoveFromCartRequest:
		res = s.RemoveFromCart(ctx, id, r)
	case models.CheckCoverageRequest:
		res = s.CheckCoverage(ctx, id, r)
	case models.ValidateDeviceRequest:
		res = s.ValidateDevice(ctx, id, r)
	case models.SwapSIMRequest:
		res = s.SwapSIM(ctx, id, r)
	case models.CollectShippingRequest:
		res = s.CollectShipping(ctx, id, r)
	case models.ClearCartRequest:
		res = s.ClearCart(ctx, id, r)
	case models.SessionOnlyRequest:
		res = s.handleSessionOnly(ctx, id, r)
	default:
		res = models.ErrorResult(models.ErrorKindInternal, fmt.Sprintf("Unknown tool %q.", req.ToolName()))
	}
	return withSessionID(res, id)
}

func (s *Service) handleSessionOnly(ctx context.Context, id string, r models.SessionOnlyRequest) models.ToolResult {
	switch r.Tool {
	case models.ToolGetCart:
		return s.GetCart(ctx, id)
	case models.ToolReviewCart:
		return s.ReviewCart(ctx, id)
	case models.ToolGetFlowStatus:
		return s.GetFlowStatus(ctx, id)
	case models.ToolResumeFlow:
		return s.ResumeFlow(ctx, id)
	case models.ToolCheckout:
		return s.Checkout(ctx, id)
	default:
		return models.ErrorResult(models.ErrorKindInternal, fmt.Sprintf("Unknown tool %q.", r.Tool))
	}
}

func withSessionID(res models.ToolResult, id string) models.ToolResult {
	if res.Meta == nil {
		res.Meta = make(map[string]interface{})
	}
	res.Meta[models.MetaSessionID] = id
	return res
}

// external derives the bounded context for a collaborator call.
func (s *Service) external(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.externalTimeout)
}

// rejection aborts an Update with a user-facing validation message.
type rejection struct {
	reason  string
	suggest string
}

func (r *rejection) Error() string { return r.reason }

func reject(reason, suggest string) error {
	return &rejection{reason: reason, suggest: suggest}
}

// verdictDenied aborts an Update because a prerequisite is not met.
type verdictDenied struct {
	verdict models.Verdict
}

func (v *verdictDenied) Error() string { return v.verdict.Reason }

// failureResult converts an error returned from Registry.Update.
func failureResult(op string, err error) models.ToolResult {
	var rj *rejection
	if errors.As(err, &rj) {
		return models.NewToolResult(rj.reason).AsError(models.ErrorKindValidation).Suggest(rj.suggest).Build()
	}
	var vd *verdictDenied
	if errors.As(err, &vd) {
		v := vd.verdict
		return models.NewToolResult(v.Reason).WithPayload(v).Suggest(verdictNextTool(v)).Build()
	}
	switch {
	case models.IsValidationError(err),
		errors.Is(err, models.ErrInvalidLineCount),
		errors.Is(err, models.ErrLineCountReduction),
		errors.Is(err, models.ErrLineOutOfRange),
		errors.Is(err, models.ErrItemNotInCart),
		errors.Is(err, models.ErrNoDevice),
		errors.Is(err, models.ErrAlreadyCheckedOut):
		return models.ErrorResult(models.ErrorKindValidation, describeMutationError(err))
	}
	slog.Error("Service: operation failed", "op", op, "error", err)
	return models.ErrorResult(models.ErrorKindInternal, fmt.Sprintf("Something went wrong while trying to %s. Please try again.", op))
}

func describeMutationError(err error) string {
	switch {
	case errors.Is(err, models.ErrLineCountReduction):
		return fmt.Sprintf("I can't reduce the line count because %s. Remove those items first.", strings.TrimSuffix(err.Error(), ": "+models.ErrLineCountReduction.Error()))
	case errors.Is(err, models.ErrInvalidLineCount):
		return fmt.Sprintf("An order can have between 1 and %d lines.", models.MaxLines)
	case errors.Is(err, models.ErrNoDevice):
		return "Device protection needs a device on the same line. Add a device to that line first."
	default:
		msg := err.Error()
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	}
}

// verdictNextTool suggests how to satisfy a denied prerequisite.
func verdictNextTool(v models.Verdict) string {
	switch v.Code {
	case models.VerdictNoLineCount:
		return models.ToolUpdateLineCount
	case models.VerdictMissingPlans, models.VerdictMissingSIM:
		return models.ToolAddToCart
	case models.VerdictNoDevice:
		return models.ToolGetDevices
	case models.VerdictNoLine:
		return models.ToolUpdateLineCount
	default:
		return ""
	}
}

// record stores the bookkeeping fields every successful operation updates.
func record(sess *models.Session, tool, action string) {
	sess.Flow.LastIntent = tool
	sess.Flow.LastAction = action
}

// guardOpen refuses cart mutations once an order has been placed.
func guardOpen(sess *models.Session) error {
	if sess.Flow.OrderReference != "" {
		return reject(fmt.Sprintf("Order %s has already been placed. Clear the cart to start a new order.", sess.Flow.OrderReference), models.ToolClearCart)
	}
	return nil
}

// nextResumeStep works out where the main flow continues from.
func nextResumeStep(fc *models.FlowContext) string {
	if fc.LineCount <= 0 {
		return models.StepUpdateLineCount
	}
	p := ComputeProgress(fc, nil)
	if len(p.Missing.Plans) > 0 {
		if fc.LineCount > 1 && fc.PlanSelection.Mode == models.ModeUnknown {
			return models.StepSelectPlanMode
		}
		return models.StepAddPlan
	}
	if !fc.CheckoutDataCollected {
		if fc.LastIntent == models.ToolReviewCart {
			return models.StepCollectShipping
		}
		return models.StepReviewCart
	}
	return models.StepCheckout
}

// markSideChannel records the resume step before a side-channel detour.
func markSideChannel(sess *models.Session) {
	if sess.Flow.ResumeStep == "" {
		sess.Flow.ResumeStep = nextResumeStep(&sess.Flow)
	}
}

// Scenario-neutral suggestion after a selection changes the cart.
func nextAfterSelection(fc *models.FlowContext, itemType models.ItemType) (string, string) {
	if modeGated(itemType) && fc.Selection(itemType).Mode == models.ModeMixAndMatch {
		idx := fc.Selection(itemType).ActiveLineIndex
		if idx >= 0 {
			return fmt.Sprintf("Which %s would you like for line %d?", itemType, idx+1), catalogTool(itemType)
		}
		if ModeComplete(fc, itemType) && itemType == models.ItemPlan {
			return "Every line now has a plan, and each line gets an eSIM unless you choose a physical SIM. Review your cart when you're ready.", models.ToolReviewCart
		}
	}
	p := ComputeProgress(fc, nil)
	if len(p.Missing.Plans) > 0 {
		return fmt.Sprintf("Still needed: a plan for %s.", describeLines(p.Missing.Plans)), models.ToolGetPlans
	}
	if p.ReadyForCheckout {
		return "Every line has a plan and a SIM. Add devices or protection, or review your cart.", models.ToolReviewCart
	}
	return "", models.ToolReviewCart
}

func catalogTool(t models.ItemType) string {
	switch t {
	case models.ItemDevice:
		return models.ToolGetDevices
	case models.ItemProtection:
		return models.ToolGetProtection
	default:
		return models.ToolGetPlans
	}
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
