// Package tools exposes the purchase flow as MCP tools.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LinePilot/internal/flow"
	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server identity reported to MCP clients.
const (
	ServerName    = "linepilot"
	ServerVersion = "0.1.0"
)

// Handler executes one typed tool request.
type Handler interface {
	Handle(ctx context.Context, req models.Request) models.ToolResult
}

// Server wraps the MCP server around the flow service.
type Server struct {
	handler Handler
	server  *mcp.Server
}

// NewServer creates the MCP server and registers every tool.
func NewServer(h Handler, version string) *Server {
	if version == "" {
		version = ServerVersion
	}
	s := &Server{handler: h}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server, for mounting on an HTTP handler.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves MCP over stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("tools.Server.Run: serving MCP on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// register adds one tool whose arguments decode into In and convert to a request.
func register[In any](s *Server, name, description string, toRequest func(In) models.Request) {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		return s.call(ctx, name, toRequest(args)), nil, nil
	})
}

func same[R models.Request](r R) models.Request { return r }

// registerTools adds all purchase-flow tools to the MCP server.
func (s *Server) registerTools() {
	register(s, models.ToolStartSession,
		"Start or resume a phone purchase conversation. Call first. Returns the session id to pass to later tools, the current progress and the next step.",
		same[models.StartSessionRequest])

	register(s, models.ToolUpdateLineCount,
		"Set how many phone lines (1-10) the customer wants. Lowering the count is refused while the dropped lines still hold selections.",
		same[models.UpdateLineCountRequest])

	register(s, models.ToolGetPlans,
		"List service plans. With more than one line and no selection mode yet, the result asks whether one plan should cover every line.",
		same[models.GetPlansRequest])

	register(s, models.ToolGetDevices,
		"List phones, optionally filtered by brand. With more than one line and no selection mode yet, the result asks whether one phone should go on every line.",
		same[models.GetDevicesRequest])

	register(s, models.ToolGetProtection,
		"List device protection plans. Pass line_number to see options for the phone on that line; protection needs a phone on the line.",
		same[models.GetProtectionRequest])

	register(s, models.ToolSelectPlanMode,
		"Record whether the chosen plan applies to every line (APPLY_TO_ALL) or each line gets its own (MIX_AND_MATCH). Pass mode, or the customer's own words as answer.",
		func(r models.SelectModeRequest) models.Request { r.Item = models.ItemPlan; return r })

	register(s, models.ToolSelectDeviceMode,
		"Record whether the chosen phone goes on every line (APPLY_TO_ALL) or each line gets its own (MIX_AND_MATCH). Pass mode, or the customer's own words as answer.",
		func(r models.SelectModeRequest) models.Request { r.Item = models.ItemDevice; return r })

	register(s, models.ToolAddToCart,
		"Add a plan, phone, protection plan or SIM to the cart. Without line_number, line_numbers or apply_to_all the target lines follow the selection mode.",
		same[models.AddToCartRequest])

	register(s, models.ToolRemoveFromCart,
		"Remove an item from one line. Removing a phone also removes its protection.",
		same[models.RemoveFromCartRequest])

	register(s, models.ToolGetCart,
		"Show the cart line by line with monthly and due-today totals.",
		sessionOnly(models.ToolGetCart))

	register(s, models.ToolReviewCart,
		"Review the cart before checkout. Reports what is still missing per line, or that the order is ready.",
		sessionOnly(models.ToolReviewCart))

	register(s, models.ToolGetFlowStatus,
		"Report the current stage, per-line progress and the recommended next step.",
		sessionOnly(models.ToolGetFlowStatus))

	register(s, models.ToolResumeFlow,
		"Return to the main purchase flow after a side question such as a coverage or device check.",
		sessionOnly(models.ToolResumeFlow))

	register(s, models.ToolCheckCoverage,
		"Check network coverage for a ZIP code. Does not change the order.",
		same[models.CheckCoverageRequest])

	register(s, models.ToolValidateDevice,
		"Check whether the customer's own phone works on the network, by IMEI.",
		same[models.ValidateDeviceRequest])

	register(s, models.ToolSwapSIM,
		"Move an existing customer line to a new SIM card or eSIM.",
		same[models.SwapSIMRequest])

	register(s, models.ToolCollectShipping,
		"Record the shipping address once every line has a plan and a SIM.",
		same[models.CollectShippingRequest])

	register(s, models.ToolCheckout,
		"Place the order. Requires a plan and SIM on every line and a shipping address.",
		sessionOnly(models.ToolCheckout))

	register(s, models.ToolClearCart,
		"Empty the cart. Pass reset to also forget the line count and selection modes.",
		same[models.ClearCartRequest])
}

func sessionOnly(tool string) func(models.SessionOnlyRequest) models.Request {
	return func(r models.SessionOnlyRequest) models.Request {
		r.Tool = tool
		return r
	}
}

// call runs a request through the handler and converts the outcome.
func (s *Server) call(ctx context.Context, name string, req models.Request) *mcp.CallToolResult {
	start := time.Now()
	res := s.handler.Handle(ctx, req)
	outcome := outcomeOf(res)
	toolCalls.WithLabelValues(name, outcome).Inc()
	toolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	slog.Debug("Server.call: tool handled", "tool", name, "outcome", outcome,
		"sessionID", res.Meta[models.MetaSessionID], "next", res.SuggestedNextTool())
	return ToCallToolResult(res)
}

// Structured is the structuredContent attached to every tool result.
type Structured struct {
	Payload interface{}            `json:"payload,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// ToCallToolResult converts a flow result into the MCP result shape.
func ToCallToolResult(res models.ToolResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: res.Text}},
		StructuredContent: Structured{Payload: res.Payload, Meta: res.Meta},
		IsError:           res.IsError,
	}
}

func outcomeOf(res models.ToolResult) string {
	if !res.IsError {
		if _, ok := res.Payload.(models.Verdict); ok {
			return "denied"
		}
		return "ok"
	}
	if kind, ok := res.Meta[models.MetaErrorKind].(string); ok && kind != "" {
		return kind
	}
	return models.ErrorKindInternal
}

var _ Handler = (*flow.Service)(nil)
