package models

import "context"

// ToolSpec describes a tool the model may call. Parameters is a JSON
// Schema for the tool's arguments.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is a model-issued request to execute a tool.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallResult is the normalized outcome of a tool invocation. Failures
// never abort a batch; they travel inside the resulting event.
type ToolCallResult struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RecordedToolCall is a sample of a past tool invocation, retained as
// output-shape documentation for codemode programs.
type RecordedToolCall struct {
	Tool   string `json:"tool"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
}

// ToolPolicy attaches behavior to the tools a context rule enables. Match
// is a JSONata expression; an absent matcher matches everything. The
// approval matcher is evaluated against the call object, the codemode
// matcher against the tool descriptor.
type ToolPolicy struct {
	Match            string `json:"match,omitempty"`
	ApprovalRequired bool   `json:"approvalRequired,omitempty"`
	Codemode         *bool  `json:"codemode,omitempty"`
}

// MCPServer declares an MCP-style tool server contributed by a context rule.
type MCPServer struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ContextRule conditionally contributes prompt text, tools and policies to
// a conversation. Match is a JSONata expression evaluated against
// host-provided rule-match data; an absent matcher always matches.
type ContextRule struct {
	Key          string       `json:"key"`
	Prompt       string       `json:"prompt,omitempty"`
	Match        string       `json:"match,omitempty"`
	Tools        []ToolSpec   `json:"tools,omitempty"`
	ToolPolicies []ToolPolicy `json:"toolPolicies,omitempty"`
	MCPServers   []MCPServer  `json:"mcpServers,omitempty"`
}

// Clone deep-copies the rule.
func (r ContextRule) Clone() ContextRule {
	out := r
	if r.Tools != nil {
		out.Tools = make([]ToolSpec, len(r.Tools))
		for i, t := range r.Tools {
			out.Tools[i] = t
			if t.Parameters != nil {
				out.Tools[i].Parameters = cloneAnyMap(t.Parameters)
			}
		}
	}
	if r.ToolPolicies != nil {
		out.ToolPolicies = make([]ToolPolicy, len(r.ToolPolicies))
		for i, p := range r.ToolPolicies {
			out.ToolPolicies[i] = p
			if p.Codemode != nil {
				c := *p.Codemode
				out.ToolPolicies[i].Codemode = &c
			}
		}
	}
	if r.MCPServers != nil {
		out.MCPServers = make([]MCPServer, len(r.MCPServers))
		for i, s := range r.MCPServers {
			out.MCPServers[i] = s
			if s.Headers != nil {
				h := make(map[string]string, len(s.Headers))
				for k, v := range s.Headers {
					h[k] = v
				}
				out.MCPServers[i].Headers = h
			}
		}
	}
	return out
}

// CodemodeFunc is a callable exposed to a codemode program. Input is the
// parsed tool arguments; the returned value is the tool output.
type CodemodeFunc func(ctx context.Context, input map[string]any) (any, error)

// CodemodeEvalResult is what a codemode evaluator returns for one program.
type CodemodeEvalResult struct {
	Result            any                `json:"result,omitempty"`
	ToolCalls         []RecordedToolCall `json:"toolCalls,omitempty"`
	DynamicWorkerCode string             `json:"dynamicWorkerCode,omitempty"`
}

// CodemodeSession is a scoped codemode evaluator. Close must be called on
// every exit path.
type CodemodeSession interface {
	Eval(ctx context.Context, functionCode, statusIndicatorText string) (*CodemodeEvalResult, error)
	Close() error
}
