package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tool names exposed to the conversation driver.
const (
	ToolStartSession     = "start_session"
	ToolUpdateLineCount  = "update_line_count"
	ToolGetPlans         = "get_plans"
	ToolGetDevices       = "get_devices"
	ToolGetProtection    = "get_protection_plans"
	ToolSelectPlanMode   = "select_plan_mode"
	ToolSelectDeviceMode = "select_device_mode"
	ToolAddToCart        = "add_to_cart"
	ToolRemoveFromCart   = "remove_from_cart"
	ToolGetCart          = "get_cart"
	ToolReviewCart       = "review_cart"
	ToolGetFlowStatus    = "get_flow_status"
	ToolResumeFlow       = "resume_flow"
	ToolCheckCoverage    = "check_coverage"
	ToolValidateDevice   = "validate_device"
	ToolSwapSIM          = "swap_sim"
	ToolCollectShipping  = "collect_shipping"
	ToolCheckout         = "checkout"
	ToolClearCart        = "clear_cart"
)

// Request is implemented by every typed tool request. Each request is decoded
// once at the transport boundary and validated before reaching the flow.
type Request interface {
	ToolName() string
	Session() string
	Validate() error
}

var requestValidate *validator.Validate

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

func init() {
	requestValidate = validator.New()
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = requestValidate.RegisterValidation("zipcode", func(fl validator.FieldLevel) bool {
		return zipPattern.MatchString(fl.Field().String())
	})
	_ = requestValidate.RegisterValidation("imei", func(fl validator.FieldLevel) bool {
		return IsValidIMEI(fl.Field().String())
	})
}

// validateStruct runs tag validation and flattens the first failure into a
// user-facing ValidationError.
func validateStruct(v interface{}) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: describeFieldError(fe)}
	}
	return &ValidationError{Message: err.Error()}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "zipcode":
		return "must be a 5-digit US ZIP code"
	case "imei":
		return "must be a 15-digit IMEI with a valid check digit"
	case "e164":
		return "must be an E.164 phone number such as +15551234567"
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}

// IsValidIMEI checks length and the Luhn check digit.
func IsValidIMEI(imei string) bool {
	if len(imei) != 15 {
		return false
	}
	sum := 0
	for i := 0; i < 15; i++ {
		c := imei[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// StartSessionRequest starts or resumes a conversation session.
type StartSessionRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Existing session to resume; a new one is created when omitted"`
	Reset     bool   `json:"reset,omitempty" jsonschema:"Discard any existing flow state and cart for the session"`
}

func (r StartSessionRequest) ToolName() string { return ToolStartSession }
func (r StartSessionRequest) Session() string  { return r.SessionID }
func (r StartSessionRequest) Validate() error  { return validateStruct(r) }

// UpdateLineCountRequest sets the number of lines in the order.
type UpdateLineCountRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	LineCount int    `json:"line_count" jsonschema:"Number of phone lines (1-10)" validate:"required,min=1,max=10"`
}

func (r UpdateLineCountRequest) ToolName() string { return ToolUpdateLineCount }
func (r UpdateLineCountRequest) Session() string  { return r.SessionID }
func (r UpdateLineCountRequest) Validate() error  { return validateStruct(r) }

// GetPlansRequest lists available service plans.
type GetPlansRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
}

func (r GetPlansRequest) ToolName() string { return ToolGetPlans }
func (r GetPlansRequest) Session() string  { return r.SessionID }
func (r GetPlansRequest) Validate() error  { return validateStruct(r) }

// GetDevicesRequest lists devices, optionally filtered by brand.
type GetDevicesRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	Brand     string `json:"brand,omitempty" jsonschema:"Only return devices from this brand"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of devices to return" validate:"omitempty,min=1,max=50"`
}

func (r GetDevicesRequest) ToolName() string { return ToolGetDevices }
func (r GetDevicesRequest) Session() string  { return r.SessionID }
func (r GetDevicesRequest) Validate() error  { return validateStruct(r) }

// GetProtectionRequest lists device protection options.
type GetProtectionRequest struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	LineNumber int    `json:"line_number,omitempty" jsonschema:"Line whose device protection options should be listed" validate:"omitempty,min=1,max=10"`
}

func (r GetProtectionRequest) ToolName() string { return ToolGetProtection }
func (r GetProtectionRequest) Session() string  { return r.SessionID }
func (r GetProtectionRequest) Validate() error  { return validateStruct(r) }

// SelectModeRequest answers the apply-to-all vs mix-and-match question for
// plans or devices. Either Mode or a free-text Answer must be supplied.
type SelectModeRequest struct {
	SessionID string        `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	Mode      SelectionMode `json:"mode,omitempty" jsonschema:"APPLY_TO_ALL or MIX_AND_MATCH" validate:"omitempty,oneof=APPLY_TO_ALL MIX_AND_MATCH"`
	Answer    string        `json:"answer,omitempty" jsonschema:"The user's own words when no explicit mode was given" validate:"max=500"`

	// Item is set by the transport layer and not part of the tool schema.
	Item ItemType `json:"-"`
}

func (r SelectModeRequest) ToolName() string {
	if r.Item == ItemDevice {
		return ToolSelectDeviceMode
	}
	return ToolSelectPlanMode
}
func (r SelectModeRequest) Session() string { return r.SessionID }
func (r SelectModeRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.Mode == "" && strings.TrimSpace(r.Answer) == "" {
		return &ValidationError{Field: "mode", Message: "or answer is required"}
	}
	return nil
}

// AddToCartRequest adds a plan, device, protection or SIM selection.
type AddToCartRequest struct {
	SessionID   string   `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	ItemType    ItemType `json:"item_type" jsonschema:"plan, device, protection or sim" validate:"required,oneof=plan device protection sim"`
	ItemID      string   `json:"item_id,omitempty" jsonschema:"Catalog identifier of the item"`
	ItemName    string   `json:"item_name,omitempty" jsonschema:"Catalog name of the item when the id is unknown" validate:"max=200"`
	LineNumber  int      `json:"line_number,omitempty" jsonschema:"Target a single line" validate:"omitempty,min=1"`
	LineNumbers []int    `json:"line_numbers,omitempty" jsonschema:"Target several lines" validate:"omitempty,max=10,dive,min=1"`
	ApplyToAll  bool     `json:"apply_to_all,omitempty" jsonschema:"Apply the item to every line"`
	SimType     SimType  `json:"sim_type,omitempty" jsonschema:"ESIM or PSIM for sim items" validate:"omitempty,oneof=ESIM PSIM"`
}

func (r AddToCartRequest) ToolName() string { return ToolAddToCart }
func (r AddToCartRequest) Session() string  { return r.SessionID }
func (r AddToCartRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.ItemType != ItemSIM && strings.TrimSpace(r.ItemID) == "" && strings.TrimSpace(r.ItemName) == "" {
		return &ValidationError{Field: "item_id", Message: "or item_name is required"}
	}
	return nil
}

// HasExplicitTarget reports whether the caller named the target lines.
func (r AddToCartRequest) HasExplicitTarget() bool {
	return r.LineNumber > 0 || len(r.LineNumbers) > 0 || r.ApplyToAll
}

// RemoveFromCartRequest removes an item from a line.
type RemoveFromCartRequest struct {
	SessionID  string   `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	ItemType   ItemType `json:"item_type" jsonschema:"plan, device, protection or sim" validate:"required,oneof=plan device protection sim"`
	LineNumber int      `json:"line_number" jsonschema:"Line to remove the item from" validate:"required,min=1"`
}

func (r RemoveFromCartRequest) ToolName() string { return ToolRemoveFromCart }
func (r RemoveFromCartRequest) Session() string  { return r.SessionID }
func (r RemoveFromCartRequest) Validate() error  { return validateStruct(r) }

// SessionOnlyRequest is used by tools that take nothing but the session.
type SessionOnlyRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`

	// Tool is set by the transport layer and not part of the tool schema.
	Tool string `json:"-"`
}

func (r SessionOnlyRequest) ToolName() string { return r.Tool }
func (r SessionOnlyRequest) Session() string  { return r.SessionID }
func (r SessionOnlyRequest) Validate() error  { return validateStruct(r) }

// CheckCoverageRequest looks up network coverage for a ZIP code.
type CheckCoverageRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	ZipCode   string `json:"zip_code" jsonschema:"5-digit US ZIP code" validate:"required,zipcode"`
}

func (r CheckCoverageRequest) ToolName() string { return ToolCheckCoverage }
func (r CheckCoverageRequest) Session() string  { return r.SessionID }
func (r CheckCoverageRequest) Validate() error  { return validateStruct(r) }

// ValidateDeviceRequest checks whether a customer's own device is compatible.
type ValidateDeviceRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	IMEI      string `json:"imei" jsonschema:"15-digit device IMEI" validate:"required,imei"`
}

func (r ValidateDeviceRequest) ToolName() string { return ToolValidateDevice }
func (r ValidateDeviceRequest) Session() string  { return r.SessionID }
func (r ValidateDeviceRequest) Validate() error  { return validateStruct(r) }

// SwapSIMRequest moves a customer's line to a new SIM.
type SwapSIMRequest struct {
	SessionID  string  `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	CustomerID string  `json:"customer_id" jsonschema:"Carrier customer identifier" validate:"required,max=64"`
	ICCID      string  `json:"iccid" jsonschema:"ICCID of the new SIM (19-20 digits)" validate:"required,numeric,min=19,max=20"`
	SimType    SimType `json:"sim_type" jsonschema:"ESIM or PSIM" validate:"required,oneof=ESIM PSIM"`
	LineNumber int     `json:"line_number,omitempty" jsonschema:"Line to record the new SIM against" validate:"omitempty,min=1"`
}

func (r SwapSIMRequest) ToolName() string { return ToolSwapSIM }
func (r SwapSIMRequest) Session() string  { return r.SessionID }
func (r SwapSIMRequest) Validate() error  { return validateStruct(r) }

// CollectShippingRequest records the shipping address.
type CollectShippingRequest struct {
	SessionID    string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	Name         string `json:"name" jsonschema:"Recipient name" validate:"required,max=120"`
	Street       string `json:"street" jsonschema:"Street address" validate:"required,max=200"`
	Unit         string `json:"unit,omitempty" jsonschema:"Apartment or unit" validate:"max=50"`
	City         string `json:"city" jsonschema:"City" validate:"required,max=100"`
	State        string `json:"state" jsonschema:"Two-letter state code" validate:"required,len=2,alpha"`
	PostalCode   string `json:"postal_code" jsonschema:"5-digit ZIP code" validate:"required,zipcode"`
	ContactPhone string `json:"contact_phone,omitempty" jsonschema:"Phone number for the order confirmation text" validate:"omitempty,e164"`
}

func (r CollectShippingRequest) ToolName() string { return ToolCollectShipping }
func (r CollectShippingRequest) Session() string  { return r.SessionID }
func (r CollectShippingRequest) Validate() error  { return validateStruct(r) }

// Address returns the shipping address carried by the request.
func (r CollectShippingRequest) Address() ShippingAddress {
	return ShippingAddress{
		Name:       strings.TrimSpace(r.Name),
		Street:     strings.TrimSpace(r.Street),
		Unit:       strings.TrimSpace(r.Unit),
		City:       strings.TrimSpace(r.City),
		State:      strings.ToUpper(strings.TrimSpace(r.State)),
		PostalCode: strings.TrimSpace(r.PostalCode),
	}
}

// ClearCartRequest empties the cart, optionally resetting the whole session.
type ClearCartRequest struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session identifier"`
	Reset     bool   `json:"reset,omitempty" jsonschema:"Also discard line count, selection modes and checkout data"`
}

func (r ClearCartRequest) ToolName() string { return ToolClearCart }
func (r ClearCartRequest) Session() string  { return r.SessionID }
func (r ClearCartRequest) Validate() error  { return validateStruct(r) }
