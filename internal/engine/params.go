package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/convo/pkg/models"
)

// buildResponseParams assembles the responses-API parameter set from an
// augmented state: instructions from the system prompt plus tagged
// ephemeral fragments, input items in stable sort-score order, and the
// runtime tools after codemode substitution.
func buildResponseParams(as *AugmentedState) models.ResponseParams {
	params := models.ResponseParams{
		Model:             as.ModelOpts.Model,
		Instructions:      renderInstructions(as),
		Input:             sortedInputItems(as.InputItems),
		Tools:             renderTools(as.RuntimeTools),
		ToolChoice:        as.ModelOpts.ToolChoice,
		ParallelToolCalls: true,
	}
	if as.ModelOpts.Temperature != nil {
		t := *as.ModelOpts.Temperature
		params.Temperature = &t
	}
	if as.ModelOpts.MaxOutputTokens != nil {
		m := *as.ModelOpts.MaxOutputTokens
		params.MaxOutputTokens = &m
	}
	return params
}

// renderInstructions concatenates the system prompt with each ephemeral
// fragment rendered as a tagged block, in stable key order.
func renderInstructions(as *AugmentedState) string {
	var b strings.Builder
	b.WriteString(as.SystemPrompt)

	keys := make([]string, 0, len(as.EphemeralPromptFragments))
	for k := range as.EphemeralPromptFragments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "\n\n<%s>\n%s\n</%s>", key, as.EphemeralPromptFragments[key], key)
	}
	return b.String()
}

// sortedInputItems orders the transcript by sort score, falling back to
// the original index. The sort is stable so equal scores keep arrival
// order.
func sortedInputItems(items []models.InputItem) []map[string]any {
	type scored struct {
		key  float64
		data map[string]any
	}
	entries := make([]scored, len(items))
	for i, it := range items {
		entries[i] = scored{key: it.SortKey(i), data: it.Data}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].key < entries[b].key
	})
	out := make([]map[string]any, len(entries))
	for i, entry := range entries {
		out[i] = entry.data
	}
	return out
}

func renderTools(tools []RuntimeTool) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		rendered := map[string]any{
			"type": "function",
			"name": tool.Spec.Name,
		}
		if tool.Spec.Description != "" {
			rendered["description"] = tool.Spec.Description
		}
		if tool.Spec.Parameters != nil {
			rendered["parameters"] = tool.Spec.Parameters
		}
		out = append(out, rendered)
	}
	return out
}
