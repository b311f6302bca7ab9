package models

// Missing lists, per item category, the line numbers lacking that item.
type Missing struct {
	Plans      []int `json:"plans"`
	SIM        []int `json:"sim"`
	Devices    []int `json:"devices"`
	Protection []int `json:"protection"`
}

// Progress is derived per request from a FlowContext and Cart; it is never stored.
type Progress struct {
	LineCount        int     `json:"line_count"`
	Configured       bool    `json:"configured"`
	Missing          Missing `json:"missing"`
	PlansSelected    int     `json:"plans_selected"`
	DevicesSelected  int     `json:"devices_selected"`
	SIMsAssigned     int     `json:"sims_assigned"`
	CartItemCount    int     `json:"cart_item_count"`
	ReadyForCheckout bool    `json:"ready_for_checkout"`
}

// Action names an operation gated by the prerequisite engine.
type Action string

const (
	ActionAddPlan         Action = "add_plan"
	ActionAddDevice       Action = "add_device"
	ActionAddProtection   Action = "add_protection"
	ActionAddSIM          Action = "add_sim"
	ActionCollectShipping Action = "collect_shipping"
	ActionCheckout        Action = "checkout"
)

// VerdictCode identifies which prerequisite failed.
type VerdictCode string

const (
	VerdictOK           VerdictCode = ""
	VerdictNoLineCount  VerdictCode = "line_count"
	VerdictMissingPlans VerdictCode = "plans"
	VerdictMissingSIM   VerdictCode = "sim"
	VerdictNoDevice     VerdictCode = "device"
	VerdictNoLine       VerdictCode = "line"
)

// Verdict is the prerequisite engine's answer for an action.
type Verdict struct {
	Allowed      bool        `json:"allowed"`
	Reason       string      `json:"reason,omitempty"`
	Code         VerdictCode `json:"code,omitempty"`
	MissingLines []int       `json:"missing_lines,omitempty"`
}

// Allow is the verdict for a permitted action.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Resume steps recorded when a side-channel tool interrupts the main flow.
const (
	StepUpdateLineCount = "update_line_count"
	StepSelectPlanMode  = "select_plan_mode"
	StepAddPlan         = "add_plan"
	StepReviewCart      = "review_cart"
	StepCollectShipping = "collect_shipping"
	StepCheckout        = "checkout"
)

// ResumeStepTool maps a resume step to the tool that performs it.
var ResumeStepTool = map[string]string{
	StepUpdateLineCount: ToolUpdateLineCount,
	StepSelectPlanMode:  ToolSelectPlanMode,
	StepAddPlan:         ToolAddToCart,
	StepReviewCart:      ToolReviewCart,
	StepCollectShipping: ToolCollectShipping,
	StepCheckout:        ToolCheckout,
}
