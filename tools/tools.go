package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chatrelay/chatrelay/llm"
)

// Result is what every tool execution returns. Tools never panic and
// never return a Go error to the caller: failures are carried in Err.
// Meta is a side channel the orchestrator inspects for directives such
// as an agent or provider switch.
type Result struct {
	OK   bool           `json:"success"`
	Data map[string]any `json:"data,omitempty"`
	Err  string         `json:"error,omitempty"`
	Meta map[string]any `json:"metadata,omitempty"`
}

// Ok builds a successful result.
func Ok(data, meta map[string]any) Result {
	return Result{OK: true, Data: data, Meta: meta}
}

// Fail builds a failed result with the given error text.
func Fail(errText string, meta map[string]any) Result {
	return Result{OK: false, Err: errText, Meta: meta}
}

// Encode renders the result as JSON for inclusion in a tool message.
func (r Result) Encode() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(raw)
}

// Tool is one callable capability exposed to the model.
// ParameterSchema returns a JSON-schema object as a string.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() string
	Execute(ctx context.Context, params map[string]any) Result
}

// Registry holds the available tools. Registration order is preserved
// for schema listings.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas returns the model-facing schemas for the named tools, or for
// every tool when names is nil. Unknown names are skipped; a tool whose
// parameter schema does not parse gets an empty object schema.
func (r *Registry) Schemas(names []string) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := r.order
	if names != nil {
		selected = names
	}
	out := make([]llm.ToolSchema, 0, len(selected))
	for _, name := range selected {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if raw := t.ParameterSchema(); raw != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				slog.Warn("tool_schema_parse_error", "tool", name, "error", err)
			} else {
				params = parsed
			}
		}
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return out
}

func getString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func getInt(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		// JSON numbers decode as float64.
		return int(x)
	default:
		return 0
	}
}
