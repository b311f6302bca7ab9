package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/LinePilot/internal/carrier"
	"github.com/BTreeMap/LinePilot/internal/flow"
	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/BTreeMap/LinePilot/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// connect starts an in-memory MCP session against a fresh flow service.
func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	static := carrier.NewStaticCatalog()
	svc := flow.NewService(flow.NewRegistry(store.NewMemoryStore()), static,
		flow.WithCoverageChecker(static), flow.WithDeviceValidator(static), flow.WithSIMSwapper(static))
	srv := NewServer(svc, "test")

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := srv.MCP().Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	return res
}

func text(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func meta(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	sc, ok := res.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("expected structured content object, got %T", res.StructuredContent)
	}
	m, _ := sc["meta"].(map[string]any)
	return m
}

func TestAllToolsRegistered(t *testing.T) {
	cs := connect(t)
	list, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	want := []string{
		models.ToolStartSession, models.ToolUpdateLineCount, models.ToolGetPlans, models.ToolGetDevices,
		models.ToolGetProtection, models.ToolSelectPlanMode, models.ToolSelectDeviceMode, models.ToolAddToCart,
		models.ToolRemoveFromCart, models.ToolGetCart, models.ToolReviewCart, models.ToolGetFlowStatus,
		models.ToolResumeFlow, models.ToolCheckCoverage, models.ToolValidateDevice, models.ToolSwapSIM,
		models.ToolCollectShipping, models.ToolCheckout, models.ToolClearCart,
	}
	got := make(map[string]bool)
	for _, tool := range list.Tools {
		got[tool.Name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(list.Tools) != len(want) {
		t.Errorf("expected %d tools, got %d", len(want), len(list.Tools))
	}
}

func TestApplyToAllOverMCP(t *testing.T) {
	cs := connect(t)

	start := callTool(t, cs, models.ToolStartSession, map[string]any{})
	if start.IsError {
		t.Fatalf("start_session failed: %s", text(start))
	}
	sid, _ := meta(t, start)[models.MetaSessionID].(string)
	if sid == "" {
		t.Fatal("expected a session id in result metadata")
	}

	callTool(t, cs, models.ToolUpdateLineCount, map[string]any{"session_id": sid, "line_count": 2})
	plans := callTool(t, cs, models.ToolGetPlans, map[string]any{"session_id": sid})
	if next := meta(t, plans)[models.MetaSuggestedNextTool]; next != models.ToolSelectPlanMode {
		t.Errorf("expected get_plans to suggest select_plan_mode, got %v", next)
	}

	add := callTool(t, cs, models.ToolAddToCart, map[string]any{"session_id": sid, "item_type": "plan", "item_name": "Unlimited"})
	if add.IsError {
		t.Fatalf("add_to_cart failed: %s", text(add))
	}
	if !strings.Contains(text(add), "every line") {
		t.Errorf("expected the mode question, got %q", text(add))
	}

	mode := callTool(t, cs, models.ToolSelectPlanMode, map[string]any{"session_id": sid, "answer": "apply to all"})
	if mode.IsError {
		t.Fatalf("select_plan_mode failed: %s", text(mode))
	}

	review := callTool(t, cs, models.ToolReviewCart, map[string]any{"session_id": sid})
	if review.IsError {
		t.Fatalf("review_cart failed: %s", text(review))
	}
	if next := meta(t, review)[models.MetaSuggestedNextTool]; next != models.ToolCollectShipping {
		t.Errorf("expected review_cart to suggest collect_shipping, got %v (%s)", next, text(review))
	}
}

func TestValidationErrorsAreToolErrors(t *testing.T) {
	cs := connect(t)
	res := callTool(t, cs, models.ToolCheckCoverage, map[string]any{"zip_code": "12"})
	if !res.IsError {
		t.Fatalf("expected isError for a bad ZIP, got %s", text(res))
	}
	if kind := meta(t, res)[models.MetaErrorKind]; kind != models.ErrorKindValidation {
		t.Errorf("expected validation error kind, got %v", kind)
	}
}

func TestPrerequisiteDenialIsNotAnError(t *testing.T) {
	cs := connect(t)
	start := callTool(t, cs, models.ToolStartSession, map[string]any{})
	sid, _ := meta(t, start)[models.MetaSessionID].(string)

	res := callTool(t, cs, models.ToolCheckout, map[string]any{"session_id": sid})
	if res.IsError {
		t.Fatalf("expected a normal result for an unmet prerequisite, got error %s", text(res))
	}
	sc := res.StructuredContent.(map[string]any)
	payload, ok := sc["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected verdict payload, got %v", sc["payload"])
	}
	if allowed, _ := payload["allowed"].(bool); allowed {
		t.Error("expected allowed=false")
	}
}

func TestToCallToolResult(t *testing.T) {
	res := models.NewToolResult("Line 3 isn't part of this order.").
		AsError(models.ErrorKindValidation).Suggest(models.ToolUpdateLineCount).Build()
	out := ToCallToolResult(res)
	if !out.IsError {
		t.Error("expected IsError to carry over")
	}
	if len(out.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(out.Content))
	}
	if tc, ok := out.Content[0].(*mcp.TextContent); !ok || tc.Text != res.Text {
		t.Errorf("unexpected content %+v", out.Content[0])
	}
	sc := out.StructuredContent.(Structured)
	if sc.Meta[models.MetaSuggestedNextTool] != models.ToolUpdateLineCount {
		t.Errorf("expected suggestion in structured meta, got %v", sc.Meta)
	}
	if outcomeOf(res) != models.ErrorKindValidation {
		t.Errorf("unexpected outcome %q", outcomeOf(res))
	}
	if outcomeOf(models.NewToolResult("ok").Build()) != "ok" {
		t.Error("expected ok outcome")
	}
}
