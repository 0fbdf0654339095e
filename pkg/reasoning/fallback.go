package reasoning

import "strings"

// keywordDomains maps an intent type to the keywords that score it
// during rule-based fallback, and the systems it implies.
var keywordDomains = []struct {
	intent   IntentType
	keywords []string
	systems  []string
}{
	{IntentTaskManagement, []string{"ticket", "task", "assigned", "issue", "backlog"}, []string{"tasktracker"}},
	{IntentVersionControl, []string{"repository", "repo", "commit", "branch", "pull request", "merge"}, []string{"vcs"}},
	{IntentFileManagement, []string{"file", "directory", "folder", "path", "upload", "download"}, []string{"filesystem"}},
	{IntentDataAnalysis, []string{"analyze", "report", "chart", "metric", "aggregate", "statistics"}, []string{"analytics"}},
}

// fallbackIntentAnalysis scores the request text against each domain's
// keyword set and picks the best match, defaulting to general_query.
func fallbackIntentAnalysis(request string) IntentAnalysis {
	lower := strings.ToLower(request)

	best := IntentAnalysis{
		IntentType:      IntentGeneralQuery,
		PrimaryGoal:     truncate(request, 100),
		SpecificActions: []string{"analyze_request"},
		ComplexityLevel: "moderate",
		EstimatedSteps:  1,
		Confidence:      0.5,
		Reasoning:       "no domain keywords matched; treated as a general query",
	}

	bestScore := 0
	for _, d := range keywordDomains {
		score := 0
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = IntentAnalysis{
				IntentType:        d.intent,
				PrimaryGoal:       truncate(request, 100),
				RequiredSystems:   d.systems,
				SpecificActions:   []string{"analyze_request"},
				InformationNeeded: []string{"user_context"},
				ComplexityLevel:   "moderate",
				EstimatedSteps:    3,
				Confidence:        0.7,
				Reasoning:         "rule-based keyword match",
			}
		}
	}

	return best
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// fallbackPlan builds a deterministic plan per intent type, matching
// the shape a tool-bearing intent would produce.
func fallbackPlan(intent IntentAnalysis) ExecutionPlan {
	if intent.IntentType == IntentTaskManagement {
		return ExecutionPlan{
			PlanType: intent.IntentType,
			Steps: []PlanStep{
				{
					StepNumber:      1,
					StepName:        "authenticate",
					StepType:        StepToolCall,
					RequiredTools:   []string{"authenticate"},
					Dependencies:    nil,
					ExpectedOutput:  "authentication confirmation",
					ErrorHandling:   "retry authentication",
					EstimatedTimeMs: 1000,
				},
				{
					StepNumber:      2,
					StepName:        "find_assigned",
					StepType:        StepToolCall,
					RequiredTools:   []string{"find_assigned"},
					Dependencies:    []int{1},
					ExpectedOutput:  "list of assigned items",
					ErrorHandling:   "fall back to unfiltered listing",
					EstimatedTimeMs: 2000,
				},
				{
					StepNumber:      3,
					StepName:        "format_results",
					StepType:        StepProcessing,
					Dependencies:    []int{2},
					ExpectedOutput:  "formatted result list",
					ErrorHandling:   "return raw data",
					EstimatedTimeMs: 500,
				},
			},
			SuccessCriteria:    []string{"user request fulfilled"},
			FallbackStrategies: []string{"direct response without tool use"},
			Confidence:         0.6,
		}
	}

	return ExecutionPlan{
		PlanType: intent.IntentType,
		Steps: []PlanStep{
			{
				StepNumber:      1,
				StepName:        "process_request",
				StepType:        StepAnalysis,
				ExpectedOutput:  "processed response",
				ErrorHandling:   "standard error response",
				EstimatedTimeMs: 1000,
			},
		},
		SuccessCriteria:    []string{"user request fulfilled"},
		FallbackStrategies: []string{"direct response without tool use"},
		Confidence:         0.6,
	}
}

// fallbackSufficiency applies the simple heuristic the original
// pipeline falls back to: at least two collected items plus both an
// intent and a plan already imply enough context to respond.
func fallbackSufficiency(ctx *Context) SufficiencyResult {
	items := len(ctx.CollectedContext)
	hasIntent := ctx.IntentAnalysis != nil
	hasPlan := ctx.ExecutionPlan != nil

	sufficient := items >= 2 && hasIntent && hasPlan

	score := 0.3 * float64(items)
	if hasIntent {
		score += 0.4
	}
	if hasPlan {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}

	recommendation := RecommendContinueCollection
	missing := []string{"more context needed"}
	if sufficient {
		recommendation = RecommendStopAndRespond
		missing = nil
	}

	return SufficiencyResult{
		IsSufficient:         sufficient,
		SufficiencyScore:     score,
		MissingInformation:   missing,
		CollectedInformation: []string{"collected tool results", "intent analysis", "execution plan"},
		Recommendation:       recommendation,
		Reasoning:            "rule-based heuristic over collected context size and phase completeness",
		Confidence:           0.6,
	}
}

// fallbackShouldContinue is the post-step continuation heuristic used
// when the plan-execution agent's LLM call fails or is disabled: keep
// going while further steps remain, whether or not the step it just
// ran succeeded, and stop once none remain (spec §4.5.3's "on parse
// failure the default is to continue").
func fallbackShouldContinue(lastItem ContextItem, remaining int) bool {
	if remaining == 0 {
		return false
	}
	return true
}
