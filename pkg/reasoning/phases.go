package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
)

// llmJSON sends system/user prompts and decodes the assistant's JSON
// reply into out. It retries once with a corrective follow-up prompt
// on a malformed reply before reporting failure, at which point the
// caller falls back to its rule-based equivalent (spec §4.5,
// "single-retry-then-fallback").
func (p *Pipeline) llmJSON(ctx context.Context, system, user string, out any) bool {
	if p.llm == nil {
		return false
	}

	raw, err := p.llm.complete(ctx, system, user)
	if err == nil && json.Unmarshal([]byte(extractJSON(raw)), out) == nil {
		return true
	}

	retryPrompt := user + "\n\nYour last reply was not valid JSON. Reply with only the JSON object, no commentary."
	raw, err = p.llm.complete(ctx, system, retryPrompt)
	if err == nil && json.Unmarshal([]byte(extractJSON(raw)), out) == nil {
		return true
	}

	return false
}

const intentAnalysisSystemPrompt = `You are an intent analysis agent. Determine what the user wants, which ` +
	`systems are needed, and the complexity of the request. Respond with only a JSON object.`

func (p *Pipeline) analyzeIntent(ctx context.Context, rc *Context) IntentAnalysis {
	prompt := fmt.Sprintf(
		"USER REQUEST: %q\n\nAVAILABLE TOOLS:\n%s\n\nRespond with JSON: "+
			"{\"intent_type\": one of task_management|version_control|file_management|data_analysis|general_query|conversation, "+
			"\"primary_goal\": string, \"required_systems\": [string], \"specific_actions\": [string], "+
			"\"information_needed\": [string], \"complexity_level\": string, \"estimated_steps\": int, "+
			"\"confidence\": float 0-1, \"reasoning\": string}",
		rc.OriginalText, formatToolsForPrompt(rc.ToolsSnapshot),
	)

	var out IntentAnalysis
	if p.llmJSON(ctx, intentAnalysisSystemPrompt, prompt, &out) && out.IntentType != "" {
		return out
	}
	return fallbackIntentAnalysis(rc.OriginalText)
}

const planGenerationSystemPrompt = `You are a plan generation agent. Create a step-by-step execution plan. ` +
	`Respond with only a JSON object.`

func (p *Pipeline) generatePlan(ctx context.Context, rc *Context) ExecutionPlan {
	intent := rc.IntentAnalysis
	prompt := fmt.Sprintf(
		"USER REQUEST: %q\nINTENT: type=%s goal=%q systems=%v actions=%v\n\n"+
			"Respond with JSON: {\"plan_type\": string, \"steps\": [{\"step_number\": int, \"step_name\": string, "+
			"\"step_type\": tool_call|analysis|processing, \"required_tools\": [string], \"dependencies\": [int], "+
			"\"expected_output\": string, \"error_handling\": string, \"estimated_time_ms\": int}], "+
			"\"success_criteria\": [string], \"fallback_strategies\": [string], \"confidence\": float 0-1}",
		rc.OriginalText, intent.IntentType, intent.PrimaryGoal, intent.RequiredSystems, intent.SpecificActions,
	)

	var out ExecutionPlan
	if p.llmJSON(ctx, planGenerationSystemPrompt, prompt, &out) && len(out.Steps) > 0 {
		return out
	}
	return fallbackPlan(*intent)
}

const sufficiencySystemPrompt = `You are a context sufficiency agent. Decide whether enough information has ` +
	`been collected to answer the user. Respond with only a JSON object.`

func (p *Pipeline) evaluateSufficiency(ctx context.Context, rc *Context) SufficiencyResult {
	prompt := fmt.Sprintf(
		"USER REQUEST: %q\nCOLLECTED CONTEXT (%d items): %s\n\n"+
			"Respond with JSON: {\"is_sufficient\": bool, \"sufficiency_score\": float 0-1, "+
			"\"missing_information\": [string], \"collected_information\": [string], "+
			"\"recommendation\": stop_and_respond|continue_collection|need_clarification, "+
			"\"reasoning\": string, \"confidence\": float 0-1}",
		rc.OriginalText, len(rc.CollectedContext), summarizeCollectedContext(rc.CollectedContext),
	)

	var out SufficiencyResult
	if p.llmJSON(ctx, sufficiencySystemPrompt, prompt, &out) && out.Recommendation != "" {
		return out
	}
	return fallbackSufficiency(rc)
}

const shouldContinueSystemPrompt = `You decide whether plan execution should continue after a step. ` +
	`Respond with only a JSON object {"should_continue": bool}.`

func (p *Pipeline) shouldContinueExecution(ctx context.Context, rc *Context, lastItem ContextItem, remaining int) bool {
	prompt := fmt.Sprintf("LAST STEP RESULT: success=%v tool=%s result=%q\nSTEPS REMAINING: %d",
		lastItem.Success, lastItem.ToolName, truncate(lastItem.Result, 300), remaining)

	var out struct {
		ShouldContinue *bool `json:"should_continue"`
	}
	if p.llmJSON(ctx, shouldContinueSystemPrompt, prompt, &out) && out.ShouldContinue != nil {
		return *out.ShouldContinue
	}
	return fallbackShouldContinue(lastItem, remaining)
}

func formatToolsForPrompt(tools []catalog.ToolEntry) string {
	if len(tools) == 0 {
		return "no tools available"
	}
	limit := len(tools)
	if limit > 15 {
		limit = 15
	}
	var b strings.Builder
	for _, t := range tools[:limit] {
		fmt.Fprintf(&b, "  - %s.%s: %s%s\n", t.ServerName, t.Name, truncate(t.Description, 100), requiredParamsSuffix(t))
	}
	if len(tools) > limit {
		fmt.Fprintf(&b, "  ... and %d more tools\n", len(tools)-limit)
	}
	return b.String()
}

// requiredParamsSuffix surfaces a tool's required input-schema
// parameters in the prompt, so the plan-generation agent knows what
// arguments a tool_call step will need to supply.
func requiredParamsSuffix(t catalog.ToolEntry) string {
	if t.InputSchema == nil || len(t.InputSchema.Required) == 0 {
		return ""
	}
	return fmt.Sprintf(" (requires: %s)", strings.Join(t.InputSchema.Required, ", "))
}

func summarizeCollectedContext(items []ContextItem) string {
	if len(items) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, item := range items {
		status := "ok"
		if !item.Success {
			status = "error"
		}
		fmt.Fprintf(&b, "[%s] %s.%s: %s\n", status, item.ServerName, item.ToolName, truncate(item.Result, 200))
	}
	return b.String()
}
