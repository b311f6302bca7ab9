package models

// Metadata keys attached to tool results.
const (
	MetaSuggestedNextTool = "suggested_next_tool"
	MetaSessionID         = "session_id"
	MetaErrorKind         = "error_kind"
	MetaFlowStage         = "flow_stage"
)

// Error kinds reported in result metadata.
const (
	ErrorKindValidation = "validation"
	ErrorKindExternal   = "external"
	ErrorKindInternal   = "internal"
)

// ToolResult is the uniform outcome of every tool operation. Callers inspect
// IsError rather than relying on control flow.
type ToolResult struct {
	Text    string                 `json:"text"`
	IsError bool                   `json:"is_error,omitempty"`
	Payload interface{}            `json:"payload,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// SuggestedNextTool returns the suggested follow-up tool, if any.
func (r ToolResult) SuggestedNextTool() string {
	s, _ := r.Meta[MetaSuggestedNextTool].(string)
	return s
}

// ToolResultBuilder provides a fluent interface for building tool results.
type ToolResultBuilder struct {
	result ToolResult
}

// NewToolResult starts a result with the given guidance text.
func NewToolResult(text string) *ToolResultBuilder {
	return &ToolResultBuilder{result: ToolResult{Text: text}}
}

// WithPayload sets the structured payload for UI rendering.
func (b *ToolResultBuilder) WithPayload(payload interface{}) *ToolResultBuilder {
	b.result.Payload = payload
	return b
}

// WithMeta sets a metadata key.
func (b *ToolResultBuilder) WithMeta(key string, value interface{}) *ToolResultBuilder {
	if b.result.Meta == nil {
		b.result.Meta = make(map[string]interface{})
	}
	b.result.Meta[key] = value
	return b
}

// Suggest records the tool the driver should call next.
func (b *ToolResultBuilder) Suggest(tool string) *ToolResultBuilder {
	if tool == "" {
		return b
	}
	return b.WithMeta(MetaSuggestedNextTool, tool)
}

// AsError marks the result as an error of the given kind.
func (b *ToolResultBuilder) AsError(kind string) *ToolResultBuilder {
	b.result.IsError = true
	return b.WithMeta(MetaErrorKind, kind)
}

// Build returns the final result.
func (b *ToolResultBuilder) Build() ToolResult {
	return b.result
}

// ErrorResult is a convenience for an error result with no payload.
func ErrorResult(kind, text string) ToolResult {
	return NewToolResult(text).AsError(kind).Build()
}
