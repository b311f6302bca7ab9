package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// Structured payloads returned alongside tool text.

type SessionPayload struct {
	SessionID string           `json:"session_id"`
	FlowStage models.FlowStage `json:"flow_stage"`
	Progress  models.Progress  `json:"progress"`
}

type CatalogPayload struct {
	Items     []models.CatalogItem `json:"items"`
	LineCount int                  `json:"line_count"`
	Mode      models.SelectionMode `json:"mode,omitempty"`
}

type CartPayload struct {
	Cart     models.Cart     `json:"cart"`
	Progress models.Progress `json:"progress"`
	Verdict  *models.Verdict `json:"verdict,omitempty"`
}

type SelectionPayload struct {
	ItemType  models.ItemType     `json:"item_type"`
	Item      *models.CatalogItem `json:"item,omitempty"`
	Lines     []int               `json:"lines,omitempty"`
	Pending   bool                `json:"pending,omitempty"`
	Cart      models.Cart         `json:"cart"`
	Progress  models.Progress     `json:"progress"`
	Completed bool                `json:"mode_completed,omitempty"`
}

type StatusPayload struct {
	FlowStage       models.FlowStage      `json:"flow_stage"`
	Progress        models.Progress       `json:"progress"`
	PlanSelection   models.SelectionState `json:"plan_selection"`
	DeviceSelection models.SelectionState `json:"device_selection"`
	ResumeStep      string                `json:"resume_step,omitempty"`
	LastIntent      string                `json:"last_intent,omitempty"`
	LastAction      string                `json:"last_action,omitempty"`
	CoverageChecked bool                  `json:"coverage_checked"`
	OrderReference  string                `json:"order_reference,omitempty"`
}

type OrderPayload struct {
	OrderReference  string                  `json:"order_reference"`
	Totals          models.CartTotals       `json:"totals"`
	ShippingAddress *models.ShippingAddress `json:"shipping_address,omitempty"`
	Notified        bool                    `json:"confirmation_sent"`
}

// describeCart renders the cart as one line per cart line.
func describeCart(cart models.Cart) string {
	if len(cart.Lines) == 0 {
		return "Your cart is empty."
	}
	var b strings.Builder
	for _, cl := range cart.Lines {
		names := make([]string, 0, 4)
		for _, it := range cl.Items() {
			names = append(names, fmt.Sprintf("%s (%s)", it.Name, formatPrice(*it)))
		}
		fmt.Fprintf(&b, "Line %d: %s\n", cl.LineNumber, strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "Monthly total: $%.2f. Due today: $%.2f.", cart.Totals.Monthly, cart.Totals.DueToday)
	return b.String()
}

func formatPrice(it models.CartItem) string {
	if it.Price == 0 {
		return "included"
	}
	if it.PriceType == models.PriceOneTime {
		return fmt.Sprintf("$%.2f one-time", it.Price)
	}
	return fmt.Sprintf("$%.2f/mo", it.Price)
}
