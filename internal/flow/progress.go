// Package flow implements the multi-line purchase flow: progress and
// prerequisite checks, line assignment, selection modes and the operations
// exposed to the conversation driver.
package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// ComputeProgress reports which lines lack which items. It is pure: the same
// flow context and cart always yield an identical Progress.
func ComputeProgress(fc *models.FlowContext, cart *models.Cart) models.Progress {
	p := models.Progress{
		LineCount:  fc.LineCount,
		Configured: fc.LineCount > 0,
		Missing: models.Missing{
			Plans:      []int{},
			SIM:        []int{},
			Devices:    []int{},
			Protection: []int{},
		},
	}

	for n := 1; n <= fc.LineCount; n++ {
		line := fc.Line(n)
		if line == nil {
			// A line slot that was never materialized has nothing selected.
			p.Missing.Plans = append(p.Missing.Plans, n)
			p.Missing.SIM = append(p.Missing.SIM, n)
			p.Missing.Devices = append(p.Missing.Devices, n)
			continue
		}
		if line.PlanSelected {
			p.PlansSelected++
		} else {
			p.Missing.Plans = append(p.Missing.Plans, n)
		}
		if line.SimType != models.SimNone {
			p.SIMsAssigned++
		} else {
			p.Missing.SIM = append(p.Missing.SIM, n)
		}
		if line.DeviceSelected {
			p.DevicesSelected++
			if !line.ProtectionSelected {
				p.Missing.Protection = append(p.Missing.Protection, n)
			}
		} else {
			p.Missing.Devices = append(p.Missing.Devices, n)
		}
	}

	if cart != nil {
		for _, cl := range cart.Lines {
			if cl.LineNumber >= 1 && cl.LineNumber <= fc.LineCount {
				p.CartItemCount += len(cl.Items())
			}
		}
	}

	p.ReadyForCheckout = p.Configured && len(p.Missing.Plans) == 0 && len(p.Missing.SIM) == 0
	return p
}

// CheckPrerequisite decides whether action is currently allowed. line is the
// 1-based target line for per-line actions and ignored otherwise. It never
// errors; a denial is a verdict with a reason.
func CheckPrerequisite(fc *models.FlowContext, action models.Action, line int) models.Verdict {
	switch action {
	case models.ActionAddProtection:
		return checkProtection(fc, line)
	case models.ActionCheckout, models.ActionCollectShipping:
		return checkCheckout(fc)
	default:
		return models.Allow()
	}
}

func checkProtection(fc *models.FlowContext, line int) models.Verdict {
	if line < 1 || line > fc.LineCount {
		return models.Verdict{
			Code:         models.VerdictNoLine,
			Reason:       fmt.Sprintf("Line %d does not exist; this order has %d line(s).", line, fc.LineCount),
			MissingLines: []int{line},
		}
	}
	ls := fc.Line(line)
	if ls == nil || !ls.DeviceSelected {
		return models.Verdict{
			Code:         models.VerdictNoDevice,
			Reason:       fmt.Sprintf("Line %d has no device yet. Device protection needs a device on the same line; add a device to line %d first.", line, line),
			MissingLines: []int{line},
		}
	}
	return models.Allow()
}

// checkCheckout applies the fixed precedence line count → plans → SIM so the
// reported reason always names the most fundamental gap.
func checkCheckout(fc *models.FlowContext) models.Verdict {
	if fc.LineCount <= 0 {
		return models.Verdict{
			Code:   models.VerdictNoLineCount,
			Reason: "The line count has not been set. Tell me how many lines you need before checking out.",
		}
	}
	p := ComputeProgress(fc, nil)
	if len(p.Missing.Plans) > 0 {
		return models.Verdict{
			Code:         models.VerdictMissingPlans,
			Reason:       fmt.Sprintf("Plans are missing for %s. Every line needs a plan before checkout.", describeLines(p.Missing.Plans)),
			MissingLines: p.Missing.Plans,
		}
	}
	if len(p.Missing.SIM) > 0 {
		return models.Verdict{
			Code:         models.VerdictMissingSIM,
			Reason:       fmt.Sprintf("SIM type is missing for %s. Every line needs a SIM before checkout.", describeLines(p.Missing.SIM)),
			MissingLines: p.Missing.SIM,
		}
	}
	return models.Allow()
}

// describeLines renders line numbers as "line 2" or "lines 1, 3".
func describeLines(lines []int) string {
	parts := make([]string, len(lines))
	for i, n := range lines {
		parts[i] = strconv.Itoa(n)
	}
	if len(lines) == 1 {
		return "line " + parts[0]
	}
	return "lines " + strings.Join(parts, ", ")
}
