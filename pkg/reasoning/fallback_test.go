package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackIntentAnalysis_MatchesTaskManagementKeywords(t *testing.T) {
	out := fallbackIntentAnalysis("show me the tickets assigned to me")
	assert.Equal(t, IntentTaskManagement, out.IntentType)
	assert.Greater(t, out.Confidence, 0.5)
}

func TestFallbackIntentAnalysis_DefaultsToGeneralQuery(t *testing.T) {
	out := fallbackIntentAnalysis("tell me a joke")
	assert.Equal(t, IntentGeneralQuery, out.IntentType)
}

func TestFallbackPlan_TaskManagementHasThreeDependentSteps(t *testing.T) {
	plan := fallbackPlan(IntentAnalysis{IntentType: IntentTaskManagement})
	if assert.Len(t, plan.Steps, 3) {
		assert.Empty(t, plan.Steps[0].Dependencies)
		assert.Equal(t, []int{1}, plan.Steps[1].Dependencies)
		assert.Equal(t, []int{2}, plan.Steps[2].Dependencies)
	}
}

func TestFallbackSufficiency_InsufficientWithFewerThanTwoItems(t *testing.T) {
	rc := newContext("q", nil)
	rc.IntentAnalysis = &IntentAnalysis{}
	rc.ExecutionPlan = &ExecutionPlan{}
	rc.CollectedContext = []ContextItem{{Success: true}}

	out := fallbackSufficiency(rc)
	assert.False(t, out.IsSufficient)
	assert.Equal(t, RecommendContinueCollection, out.Recommendation)
}

func TestFallbackSufficiency_SufficientWithEnoughContext(t *testing.T) {
	rc := newContext("q", nil)
	rc.IntentAnalysis = &IntentAnalysis{}
	rc.ExecutionPlan = &ExecutionPlan{}
	rc.CollectedContext = []ContextItem{{Success: true}, {Success: true}}

	out := fallbackSufficiency(rc)
	assert.True(t, out.IsSufficient)
	assert.Equal(t, RecommendStopAndRespond, out.Recommendation)
}

func TestFallbackShouldContinue_StopsWhenNoStepsRemain(t *testing.T) {
	assert.False(t, fallbackShouldContinue(ContextItem{Success: true}, 0))
}

func TestFallbackShouldContinue_ContinuesOnFailureIfStepsRemain(t *testing.T) {
	assert.True(t, fallbackShouldContinue(ContextItem{Success: false}, 2))
}
