package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toolmesh/toolmeshd/pkg/invoker"
)

// executePlan iterates the plan's steps in step_number order (spec
// §4.5.3). Dependencies are trivially satisfied by the sequential
// order; after each step the pipeline consults shouldContinueExecution
// and halts early if it returns false.
func (p *Pipeline) executePlan(ctx context.Context, rc *Context, emit func(event, text string)) {
	steps := append([]PlanStep(nil), rc.ExecutionPlan.Steps...)
	sortStepsByNumber(steps)

	for i, step := range steps {
		item := p.executeStep(ctx, rc, step)
		rc.CollectedContext = append(rc.CollectedContext, item)

		if item.Success {
			emit("execution-result", fmt.Sprintf("✅ %s: %s", item.ToolName, truncate(item.Result, 200)))
		} else {
			emit("execution-result", fmt.Sprintf("❌ %s: %s", item.ToolName, truncate(item.Result, 200)))
		}

		remaining := len(steps) - i - 1
		if !p.shouldContinueExecution(ctx, rc, item, remaining) {
			break
		}
	}
}

func (p *Pipeline) executeStep(ctx context.Context, rc *Context, step PlanStep) ContextItem {
	switch step.StepType {
	case StepToolCall:
		return p.executeToolCallStep(ctx, rc, step)
	case StepAnalysis:
		return p.executeAnalysisStep(ctx, step)
	default:
		return p.executeProcessingStep(rc, step)
	}
}

func (p *Pipeline) executeToolCallStep(ctx context.Context, rc *Context, step PlanStep) ContextItem {
	toolName := resolveToolName(p, step)
	if toolName == "" {
		return ContextItem{Success: false, ToolName: step.StepName, Result: "no matching tool found in catalog"}
	}

	started := time.Now()
	res := p.inv.ExecuteTool(ctx, toolName, nil, invoker.Options{})
	elapsed := time.Since(started)

	if !res.Success {
		return ContextItem{
			Success:         false,
			ToolName:        toolName,
			ServerName:      res.ServerName,
			Result:          res.ErrorMessage,
			ExecutionTimeMs: elapsed.Milliseconds(),
		}
	}
	return ContextItem{
		Success:         true,
		ToolName:        toolName,
		ServerName:      res.ServerName,
		Result:          fmt.Sprintf("%v", res.Result),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

// resolveToolName matches the step's required_tools hints to catalog
// entries by substring, the rule-based path spec §4.5.3 allows in
// place of an LLM tool-selection call.
func resolveToolName(p *Pipeline, step PlanStep) string {
	for _, hint := range step.RequiredTools {
		hint = lastSegment(hint)
		for _, entry := range p.cat.SearchTools(hint, false) {
			return entry.Name
		}
	}
	return ""
}

func lastSegment(s string) string {
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func (p *Pipeline) executeAnalysisStep(ctx context.Context, step PlanStep) ContextItem {
	if p.llm == nil {
		return ContextItem{Success: true, ToolName: step.StepName, Result: "analysis skipped: no reasoning model configured"}
	}
	text, err := p.llm.complete(ctx, "You perform free-form analysis for a plan step.", step.ExpectedOutput)
	if err != nil {
		return ContextItem{Success: false, ToolName: step.StepName, Result: err.Error()}
	}
	return ContextItem{Success: true, ToolName: step.StepName, Result: text}
}

func (p *Pipeline) executeProcessingStep(rc *Context, step PlanStep) ContextItem {
	var b strings.Builder
	fmt.Fprintf(&b, "aggregated %d prior results", len(rc.CollectedContext))
	return ContextItem{Success: true, ToolName: step.StepName, Result: b.String()}
}

func sortStepsByNumber(steps []PlanStep) {
	for i := 1; i < len(steps); i++ {
		for j := i; j > 0 && steps[j].StepNumber < steps[j-1].StepNumber; j-- {
			steps[j], steps[j-1] = steps[j-1], steps[j]
		}
	}
}
