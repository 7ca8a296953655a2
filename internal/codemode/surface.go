// Package codemode implements the pieces behind the engine's codemode
// substitution: the TypeScript-like type surface shown to the model, and a
// goja-backed evaluator that runs generated programs against the original
// tool surface.
package codemode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/convo/pkg/models"
)

// SurfaceMarker is the placeholder inside PromptFragment that the generated
// type surface replaces.
const SurfaceMarker = "__CODEMODE_TYPE_SURFACE__"

// PromptFragment is the fixed instruction text attached as the "codemode"
// ephemeral prompt fragment when substitution is active.
const PromptFragment = `You can batch several tool calls into a single program by calling the
codemode tool. Write the body as:

  async function codemode() {
    // call the functions below and return a value
  }

Rules:
- Do not use try/catch; let errors propagate.
- Prefer Promise.all for independent calls.
- Always use the return values of the functions you call.
- Hard-code the inputs; do not compute them from the environment.

Available functions:

` + SurfaceMarker + `
`

// GenerateTypeSurface renders the matched tools as TypeScript-like
// declarations, with recorded prior outputs embedded as samples. Tools
// named in exclude are omitted.
func GenerateTypeSurface(tools []models.ToolSpec, samples []models.RecordedToolCall, exclude []string) string {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	latestSample := map[string]models.RecordedToolCall{}
	for _, s := range samples {
		latestSample[s.Tool] = s
	}

	var b strings.Builder
	for _, tool := range tools {
		if _, skip := excluded[tool.Name]; skip {
			continue
		}
		if tool.Description != "" {
			for _, line := range strings.Split(tool.Description, "\n") {
				fmt.Fprintf(&b, "// %s\n", line)
			}
		}
		fmt.Fprintf(&b, "declare function %s(input: %s): Promise<unknown>;\n",
			tool.Name, schemaToType(tool.Parameters, 0))
		if sample, ok := latestSample[tool.Name]; ok {
			if out, err := json.Marshal(sample.Output); err == nil {
				fmt.Fprintf(&b, "// example output: %s\n", truncate(string(out), 400))
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderPromptFragment returns the codemode prompt fragment with the type
// surface for the given tools embedded at the marker.
func RenderPromptFragment(tools []models.ToolSpec, samples []models.RecordedToolCall, exclude []string) string {
	surface := GenerateTypeSurface(tools, samples, exclude)
	return strings.Replace(PromptFragment, SurfaceMarker, surface, 1)
}

func schemaToType(schema map[string]any, depth int) string {
	if depth > 6 || schema == nil {
		return "unknown"
	}
	switch typeName(schema) {
	case "string":
		if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
			parts := make([]string, 0, len(enum))
			for _, v := range enum {
				if s, ok := v.(string); ok {
					parts = append(parts, fmt.Sprintf("%q", s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " | ")
			}
		}
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "null":
		return "null"
	case "array":
		if items, ok := schema["items"].(map[string]any); ok {
			return schemaToType(items, depth+1) + "[]"
		}
		return "unknown[]"
	case "object":
		props, _ := schema["properties"].(map[string]any)
		if len(props) == 0 {
			return "Record<string, unknown>"
		}
		required := map[string]struct{}{}
		if reqs, ok := schema["required"].([]any); ok {
			for _, r := range reqs {
				if s, ok := r.(string); ok {
					required[s] = struct{}{}
				}
			}
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			prop, _ := props[k].(map[string]any)
			opt := "?"
			if _, ok := required[k]; ok {
				opt = ""
			}
			fields = append(fields, fmt.Sprintf("%s%s: %s", k, opt, schemaToType(prop, depth+1)))
		}
		return "{ " + strings.Join(fields, "; ") + " }"
	default:
		return "unknown"
	}
}

func typeName(schema map[string]any) string {
	if s, ok := schema["type"].(string); ok {
		return s
	}
	if _, ok := schema["properties"]; ok {
		return "object"
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
