package engine

import (
	"sort"

	"github.com/haasonsaas/convo/internal/match"
	"github.com/haasonsaas/convo/pkg/models"
)

// ContextRuleGroup is the group key for tools contributed by context rules.
const ContextRuleGroup = "context-rule"

// AugmentedState is the per-read derived view: the reduced state plus the
// matcher-resolved context rules, assembled prompt fragments, runtime tools
// and codemode substitution. It is computed fresh on every read and never
// stored.
type AugmentedState struct {
	models.ReducedState

	EnabledContextRules      []models.ContextRule
	EphemeralPromptFragments map[string]string
	ToolSpecs                []models.ToolSpec
	RuntimeTools             []RuntimeTool
	GroupedRuntimeTools      map[string][]RuntimeTool
	MCPServers               []models.MCPServer
	CodemodeEnabledTools     []string
}

// FindRuntimeTool returns the runtime tool with the given name.
func (a *AugmentedState) FindRuntimeTool(name string) (RuntimeTool, bool) {
	for _, t := range a.RuntimeTools {
		if t.Spec.Name == name {
			return t, true
		}
	}
	return RuntimeTool{}, false
}

// EnabledToolPolicies returns the tool policies of all enabled rules.
func (a *AugmentedState) EnabledToolPolicies() []models.ToolPolicy {
	var policies []models.ToolPolicy
	for _, rule := range a.EnabledContextRules {
		policies = append(policies, rule.ToolPolicies...)
	}
	return policies
}

// augment computes the derived view for one state read. Context rules are
// re-evaluated once more after codemode substitution (which can change the
// tool surface rules depend on); substitution itself runs at most once.
func (e *Engine) augment(state models.ReducedState) *AugmentedState {
	as := e.resolveRules(state)
	if e.applyCodemodeSubstitution(as) {
		refreshed := e.resolveRules(state)
		refreshed.RuntimeTools = as.RuntimeTools
		refreshed.GroupedRuntimeTools = as.GroupedRuntimeTools
		refreshed.CodemodeEnabledTools = as.CodemodeEnabledTools
		for k, v := range as.EphemeralPromptFragments {
			if _, ok := refreshed.EphemeralPromptFragments[k]; !ok {
				refreshed.EphemeralPromptFragments[k] = v
			}
		}
		as = refreshed
	}
	return as
}

// resolveRules runs steps 1-5 of the augmentation: evaluate matchers,
// merge prompts, resolve tools, collect MCP servers, flatten groups.
func (e *Engine) resolveRules(state models.ReducedState) *AugmentedState {
	as := &AugmentedState{
		ReducedState:             state,
		EphemeralPromptFragments: map[string]string{},
		GroupedRuntimeTools:      map[string][]RuntimeTool{},
	}

	matchData := e.ruleMatchData(&state)

	keys := make([]string, 0, len(state.ContextRules))
	for k := range state.ContextRules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rule := state.ContextRules[key]
		enabled, err := match.Eval(rule.Match, matchData)
		if err != nil {
			e.log.Warn("context rule matcher failed, rule disabled",
				"rule", rule.Key, "error", err)
			continue
		}
		if !enabled {
			continue
		}
		as.EnabledContextRules = append(as.EnabledContextRules, rule)
		if rule.Prompt != "" {
			as.EphemeralPromptFragments[rule.Key] = rule.Prompt
		}
		as.ToolSpecs = append(as.ToolSpecs, rule.Tools...)
		as.MCPServers = append(as.MCPServers, rule.MCPServers...)
	}

	if len(as.ToolSpecs) > 0 && e.hooks.ToolSpecsToImplementations != nil {
		as.GroupedRuntimeTools[ContextRuleGroup] = e.hooks.ToolSpecsToImplementations(as.ToolSpecs)
	}

	groupNames := make([]string, 0, len(as.GroupedRuntimeTools))
	for g := range as.GroupedRuntimeTools {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)
	for _, g := range groupNames {
		as.RuntimeTools = append(as.RuntimeTools, as.GroupedRuntimeTools[g]...)
	}
	return as
}

// ruleMatchData returns the value rule matchers evaluate against.
func (e *Engine) ruleMatchData(state *models.ReducedState) any {
	if e.hooks.GetRuleMatchData != nil {
		return e.hooks.GetRuleMatchData(state)
	}
	return map[string]any{
		"metadata":     state.Metadata,
		"labels":       state.Labels(),
		"participants": state.Participants,
		"paused":       state.Paused,
	}
}
