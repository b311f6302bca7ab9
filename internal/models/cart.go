package models

import (
	"math"
	"sort"
)

// ItemType identifies the kind of thing being added to a line.
type ItemType string

const (
	ItemPlan       ItemType = "plan"
	ItemDevice     ItemType = "device"
	ItemProtection ItemType = "protection"
	ItemSIM        ItemType = "sim"
)

// IsValidItemType reports whether t is a cart item type.
func IsValidItemType(t ItemType) bool {
	switch t {
	case ItemPlan, ItemDevice, ItemProtection, ItemSIM:
		return true
	default:
		return false
	}
}

// PriceType distinguishes recurring charges from one-time charges.
type PriceType string

const (
	PriceMonthly PriceType = "monthly"
	PriceOneTime PriceType = "one_time"
)

// CatalogItem is a plan, device or protection offering from the carrier catalog.
type CatalogItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        ItemType          `json:"type"`
	Price       float64           `json:"price"`
	PriceType   PriceType         `json:"price_type"`
	Brand       string            `json:"brand,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// CartItem is a priced selection held in one slot of a cart line.
type CartItem struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Price     float64           `json:"price"`
	PriceType PriceType         `json:"price_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CartItemFromCatalog converts a catalog item into a cart item.
func CartItemFromCatalog(c CatalogItem) *CartItem {
	item := &CartItem{ID: c.ID, Name: c.Name, Price: c.Price, PriceType: c.PriceType}
	if c.Brand != "" {
		item.Metadata = map[string]string{"brand": c.Brand}
	}
	return item
}

// CartLine holds the priced selections for one line number.
type CartLine struct {
	LineNumber int       `json:"line_number"`
	Plan       *CartItem `json:"plan,omitempty"`
	Device     *CartItem `json:"device,omitempty"`
	Protection *CartItem `json:"protection,omitempty"`
	SIM        *CartItem `json:"sim,omitempty"`
}

// Empty reports whether the cart line holds no items.
func (c CartLine) Empty() bool {
	return c.Plan == nil && c.Device == nil && c.Protection == nil && c.SIM == nil
}

// Items returns the non-empty slots of the line in display order.
func (c CartLine) Items() []*CartItem {
	var items []*CartItem
	for _, it := range []*CartItem{c.Plan, c.Device, c.Protection, c.SIM} {
		if it != nil {
			items = append(items, it)
		}
	}
	return items
}

// Slot returns a pointer to the slot for t.
func (c *CartLine) Slot(t ItemType) **CartItem {
	switch t {
	case ItemDevice:
		return &c.Device
	case ItemProtection:
		return &c.Protection
	case ItemSIM:
		return &c.SIM
	default:
		return &c.Plan
	}
}

func (c CartLine) clone() CartLine {
	out := CartLine{LineNumber: c.LineNumber}
	out.Plan = c.Plan.clone()
	out.Device = c.Device.clone()
	out.Protection = c.Protection.clone()
	out.SIM = c.SIM.clone()
	return out
}

func (i *CartItem) clone() *CartItem {
	if i == nil {
		return nil
	}
	c := *i
	c.Metadata = cloneStringMap(i.Metadata)
	return &c
}

// CartTotals summarizes cart pricing.
type CartTotals struct {
	Monthly   float64 `json:"monthly"`
	DueToday  float64 `json:"due_today"`
	ItemCount int     `json:"item_count"`
}

// Cart is the per-session record of priced selections, one entry per line.
type Cart struct {
	Lines  []CartLine `json:"lines"`
	Totals CartTotals `json:"totals"`
}

// Line returns the cart line for n, or nil.
func (c *Cart) Line(n int) *CartLine {
	for i := range c.Lines {
		if c.Lines[i].LineNumber == n {
			return &c.Lines[i]
		}
	}
	return nil
}

// EnsureLine returns the cart line for n, creating it if needed.
func (c *Cart) EnsureLine(n int) *CartLine {
	if l := c.Line(n); l != nil {
		return l
	}
	c.Lines = append(c.Lines, CartLine{LineNumber: n})
	sort.Slice(c.Lines, func(i, j int) bool { return c.Lines[i].LineNumber < c.Lines[j].LineNumber })
	return c.Line(n)
}

// Trim drops empty lines and lines numbered above maxLine, then recomputes totals.
func (c *Cart) Trim(maxLine int) {
	kept := c.Lines[:0]
	for _, l := range c.Lines {
		if l.LineNumber < 1 || l.LineNumber > maxLine || l.Empty() {
			continue
		}
		kept = append(kept, l)
	}
	c.Lines = kept
	c.Recalculate()
}

// Recalculate recomputes totals from the line items.
func (c *Cart) Recalculate() {
	var t CartTotals
	for _, l := range c.Lines {
		for _, it := range l.Items() {
			t.ItemCount++
			if it.PriceType == PriceOneTime {
				t.DueToday += it.Price
			} else {
				t.Monthly += it.Price
			}
		}
	}
	t.Monthly = roundCents(t.Monthly)
	t.DueToday = roundCents(t.DueToday)
	c.Totals = t
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
