// Package models defines the core data structures for LinePilot.
//
// It includes the per-session aggregate (flow context and cart), catalog items,
// derived progress types and the typed tool requests shared across modules.
package models

import (
	"strconv"
	"time"
)

// MaxLines is the largest number of lines a single order may carry.
const MaxLines = 10

// NoActiveLine marks a selection state with no line awaiting a sequential choice.
const NoActiveLine = -1

// FlowStage tracks the coarse position of a session in the purchase flow.
type FlowStage string

const (
	StageInitial     FlowStage = "initial"
	StagePlanning    FlowStage = "planning"
	StageConfiguring FlowStage = "configuring"
	StageCheckout    FlowStage = "checkout"
)

// stageRank orders stages so the flow never moves backwards implicitly.
var stageRank = map[FlowStage]int{
	StageInitial:     0,
	StagePlanning:    1,
	StageConfiguring: 2,
	StageCheckout:    3,
}

// SelectionMode governs how a plan or device choice propagates across lines.
type SelectionMode string

const (
	ModeUnknown     SelectionMode = "UNKNOWN"
	ModeApplyToAll  SelectionMode = "APPLY_TO_ALL"
	ModeMixAndMatch SelectionMode = "MIX_AND_MATCH"
)

// IsValidSelectionMode reports whether m is one of the user-selectable modes.
func IsValidSelectionMode(m SelectionMode) bool {
	return m == ModeApplyToAll || m == ModeMixAndMatch
}

// SimType is the SIM form factor assigned to a line.
type SimType string

const (
	SimNone SimType = ""
	SimESIM SimType = "ESIM"
	SimPSIM SimType = "PSIM"
)

// IsValidSimType reports whether s names a real SIM type.
func IsValidSimType(s SimType) bool {
	return s == SimESIM || s == SimPSIM
}

// SelectionState is the mode state machine for one item type (plans or devices).
type SelectionState struct {
	Mode             SelectionMode `json:"mode"`
	Prompted         bool          `json:"prompted"`
	PendingItemID    string        `json:"pending_item_id,omitempty"`
	LastChosenItemID string        `json:"last_chosen_item_id,omitempty"`
	ActiveLineIndex  int           `json:"active_line_index"`
}

// NewSelectionState returns the initial state for an item type.
func NewSelectionState() SelectionState {
	return SelectionState{Mode: ModeUnknown, ActiveLineIndex: 0}
}

// LineState is the per-line progress record inside a FlowContext.
type LineState struct {
	LineNumber         int     `json:"line_number"`
	PlanSelected       bool    `json:"plan_selected"`
	PlanID             string  `json:"plan_id,omitempty"`
	DeviceSelected     bool    `json:"device_selected"`
	DeviceID           string  `json:"device_id,omitempty"`
	ProtectionSelected bool    `json:"protection_selected"`
	ProtectionID       string  `json:"protection_id,omitempty"`
	SimType            SimType `json:"sim_type,omitempty"`
	SimICCID           string  `json:"sim_iccid,omitempty"`
}

// HasSelection reports whether anything has been chosen for the line.
func (l LineState) HasSelection() bool {
	return l.PlanSelected || l.DeviceSelected || l.ProtectionSelected || l.SimType != SimNone || l.SimICCID != ""
}

// ShippingAddress is the destination collected before checkout.
type ShippingAddress struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Unit       string `json:"unit,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// FlowContext is the authoritative record of purchase-flow progress for a session.
type FlowContext struct {
	LineCount int         `json:"line_count"`
	Lines     []LineState `json:"lines"`

	PlanSelection   SelectionState `json:"plan_selection"`
	DeviceSelection SelectionState `json:"device_selection"`

	// Derived from Lines during normalization.
	SelectedPlanByLine     map[string]string `json:"selected_plan_by_line,omitempty"`
	SelectedDevicesPerLine map[string]string `json:"selected_devices_per_line,omitempty"`

	LastIntent string    `json:"last_intent,omitempty"`
	LastAction string    `json:"last_action,omitempty"`
	FlowStage  FlowStage `json:"flow_stage"`
	ResumeStep string    `json:"resume_step,omitempty"`

	CoverageChecked bool   `json:"coverage_checked"`
	CoverageZipCode string `json:"coverage_zip_code,omitempty"`

	ShippingAddress       *ShippingAddress `json:"shipping_address,omitempty"`
	ContactPhone          string           `json:"contact_phone,omitempty"`
	CheckoutDataCollected bool             `json:"checkout_data_collected"`
	OrderReference        string           `json:"order_reference,omitempty"`
}

// NewFlowContext returns an unconfigured flow context.
func NewFlowContext() FlowContext {
	return FlowContext{
		Lines:           []LineState{},
		PlanSelection:   NewSelectionState(),
		DeviceSelection: NewSelectionState(),
		FlowStage:       StageInitial,
	}
}

// Selection returns the mode state for the given item type.
func (f *FlowContext) Selection(t ItemType) *SelectionState {
	if t == ItemDevice {
		return &f.DeviceSelection
	}
	return &f.PlanSelection
}

// Line returns the 1-based line, or nil when it does not exist.
func (f *FlowContext) Line(n int) *LineState {
	if n < 1 || n > len(f.Lines) {
		return nil
	}
	return &f.Lines[n-1]
}

// AdvanceStage moves the flow forward to s; it never moves backwards.
func (f *FlowContext) AdvanceStage(s FlowStage) {
	if stageRank[s] > stageRank[f.FlowStage] {
		f.FlowStage = s
	}
}

// LineKey formats a line number as the string key used by the derived maps.
func LineKey(n int) string {
	return strconv.Itoa(n)
}

// Session is the aggregate root owning a flow context and a cart.
type Session struct {
	ID        string      `json:"id"`
	Flow      FlowContext `json:"flow"`
	Cart      Cart        `json:"cart"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewSession returns a fresh aggregate for id.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Flow:      NewFlowContext(),
		Cart:      Cart{Lines: []CartLine{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	c.Flow.Lines = append([]LineState(nil), s.Flow.Lines...)
	c.Flow.SelectedPlanByLine = cloneStringMap(s.Flow.SelectedPlanByLine)
	c.Flow.SelectedDevicesPerLine = cloneStringMap(s.Flow.SelectedDevicesPerLine)
	if s.Flow.ShippingAddress != nil {
		addr := *s.Flow.ShippingAddress
		c.Flow.ShippingAddress = &addr
	}
	c.Cart.Lines = make([]CartLine, len(s.Cart.Lines))
	for i, cl := range s.Cart.Lines {
		c.Cart.Lines[i] = cl.clone()
	}
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
