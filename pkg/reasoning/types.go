// Package reasoning implements the four-phase reasoning pipeline
// (C5): intent analysis, plan generation, plan execution and context
// sufficiency, each backed by an LLM agent with a deterministic
// rule-based fallback, streaming its progress as synthetic SSE
// events ahead of the upstream model's own response.
package reasoning

import "github.com/toolmesh/toolmeshd/pkg/catalog"

// Phase names one state of the pipeline's state machine (spec §4.5).
type Phase string

const (
	PhaseIntentAnalysis    Phase = "intent_analysis"
	PhasePlanGeneration    Phase = "plan_generation"
	PhasePlanExecution     Phase = "plan_execution"
	PhaseContextEvaluation Phase = "context_evaluation"
	PhaseCompletion        Phase = "completion"
)

// IntentType is the closed classification set of spec §4.5.1.
type IntentType string

const (
	IntentTaskManagement IntentType = "task_management"
	IntentVersionControl IntentType = "version_control"
	IntentFileManagement IntentType = "file_management"
	IntentDataAnalysis   IntentType = "data_analysis"
	IntentGeneralQuery   IntentType = "general_query"
	IntentConversation   IntentType = "conversation"
)

// IntentAnalysis is phase 1's output (spec §4.5.1).
type IntentAnalysis struct {
	IntentType        IntentType `json:"intent_type"`
	PrimaryGoal       string     `json:"primary_goal"`
	RequiredSystems   []string   `json:"required_systems"`
	SpecificActions   []string   `json:"specific_actions"`
	InformationNeeded []string   `json:"information_needed"`
	ComplexityLevel   string     `json:"complexity_level"`
	EstimatedSteps    int        `json:"estimated_steps"`
	Confidence        float64    `json:"confidence"`
	Reasoning         string     `json:"reasoning"`
}

// StepType is the closed set of step kinds an execution plan step may
// take (spec §3.6).
type StepType string

const (
	StepToolCall   StepType = "tool_call"
	StepAnalysis   StepType = "analysis"
	StepProcessing StepType = "processing"
)

// PlanStep is one ordered unit of work in an ExecutionPlan.
type PlanStep struct {
	StepNumber      int      `json:"step_number"`
	StepName        string   `json:"step_name"`
	StepType        StepType `json:"step_type"`
	RequiredTools   []string `json:"required_tools"`
	Dependencies    []int    `json:"dependencies"`
	ExpectedOutput  string   `json:"expected_output"`
	ErrorHandling   string   `json:"error_handling"`
	EstimatedTimeMs int64    `json:"estimated_time_ms"`
}

// ExecutionPlan is phase 2's output (spec §3.6).
type ExecutionPlan struct {
	PlanType           IntentType `json:"plan_type"`
	Steps              []PlanStep `json:"steps"`
	SuccessCriteria    []string   `json:"success_criteria"`
	FallbackStrategies []string   `json:"fallback_strategies"`
	Confidence         float64    `json:"confidence"`
}

// ContextItem is one normalized tool-call result folded into
// CollectedContext (spec §3.5).
type ContextItem struct {
	Success         bool   `json:"success"`
	ToolName        string `json:"tool_name"`
	ServerName      string `json:"server_name"`
	Result          string `json:"result"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// PhaseRecord is one entry of the pipeline's ReasoningHistory audit
// trail, capturing what each phase produced for later inspection.
type PhaseRecord struct {
	Phase  Phase
	Output any
}

// Recommendation is phase 4's closed outcome set (spec §4.5.4).
type Recommendation string

const (
	RecommendStopAndRespond     Recommendation = "stop_and_respond"
	RecommendContinueCollection Recommendation = "continue_collection"
	RecommendNeedClarification  Recommendation = "need_clarification"
)

// SufficiencyResult is phase 4's output (spec §4.5.4).
type SufficiencyResult struct {
	IsSufficient          bool           `json:"is_sufficient"`
	SufficiencyScore      float64        `json:"sufficiency_score"`
	MissingInformation    []string       `json:"missing_information"`
	CollectedInformation  []string       `json:"collected_information"`
	Recommendation        Recommendation `json:"recommendation"`
	Reasoning             string         `json:"reasoning"`
	Confidence            float64        `json:"confidence"`
}

// Context is the per-request value threaded through the pipeline
// (spec §3.5). It is constructed at pipeline entry and discarded at
// exit; it never outlives the HTTP response.
type Context struct {
	OriginalText     string
	ToolsSnapshot    []catalog.ToolEntry
	History          []PhaseRecord
	CurrentPhase     Phase
	CollectedContext []ContextItem
	IntentAnalysis   *IntentAnalysis
	ExecutionPlan    *ExecutionPlan
}

func newContext(text string, tools []catalog.ToolEntry) *Context {
	return &Context{
		OriginalText:  text,
		ToolsSnapshot: tools,
		CurrentPhase:  PhaseIntentAnalysis,
	}
}

func (c *Context) record(phase Phase, output any) {
	c.History = append(c.History, PhaseRecord{Phase: phase, Output: output})
}
