package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/invoker"
)

// Pipeline drives the four-phase reasoning state machine ahead of an
// upstream chat-completions call (spec §4.5).
type Pipeline struct {
	cfg config.Reasoning
	inv *invoker.Invoker
	cat *catalog.Catalog
	llm *llmClient
}

// New constructs a Pipeline. llm is nil when no reasoning model could
// be configured, which forces every phase straight to its rule-based
// fallback.
func New(cfg config.Reasoning, inv *invoker.Invoker, cat *catalog.Catalog, upstreamBaseURL, upstreamAPIKey string) *Pipeline {
	p := &Pipeline{cfg: cfg, inv: inv, cat: cat}
	if cfg.Enabled && cfg.Model != "" {
		p.llm = newLLMClient(upstreamBaseURL, upstreamAPIKey, cfg.Model)
	}
	return p
}

// Run executes the full pipeline for one request, streaming synthetic
// progress events via emit, and returns the request folded with
// collected tool context ready to forward upstream. On any internal
// failure it emits a single error event and returns the original,
// un-augmented request (spec §4.5.5: "the pipeline ... still forwards
// the (un-augmented) request").
func (p *Pipeline) Run(ctx context.Context, req chatapi.Request, emitChunk func(chatapi.Chunk)) (out chatapi.Request) {
	out = req
	if !p.cfg.Enabled {
		return out
	}

	// Every synthetic chunk in one run shares a single stream id, the
	// same way a real provider's chunks all share one completion id.
	streamID := "reasoning-" + uuid.NewString()
	emit := func(_ string, text string) {
		emitChunk(chatapi.ContentChunk(streamID, req.Model, text))
	}

	text := latestUserMessage(req)
	if text == "" {
		return out
	}

	rc := newContext(text, p.cat.AllTools())

	defer func() {
		if r := recover(); r != nil {
			slog.Error("reasoning pipeline panicked", "error", r)
			emit("error", "⚠️ reasoning failed, continuing without it")
			out = req
		}
	}()

	emit("reasoning-start", "🔍 Analyzing...")

	emit("phase", "Analyzing user intent...")
	intent := p.analyzeIntent(ctx, rc)
	rc.IntentAnalysis = &intent
	rc.CurrentPhase = PhasePlanGeneration
	rc.record(PhaseIntentAnalysis, intent)
	emit("phase-result", fmt.Sprintf("intent=%s confidence=%.2f", intent.IntentType, intent.Confidence))

	cyclesAllowed := p.cfg.MaxReplanCycles
	for cycle := 0; ; cycle++ {
		emit("phase", "Creating detailed execution plan...")
		plan := p.generatePlan(ctx, rc)
		rc.ExecutionPlan = &plan
		rc.CurrentPhase = PhasePlanExecution
		rc.record(PhasePlanGeneration, plan)
		emit("phase-result", fmt.Sprintf("plan_type=%s steps=%d confidence=%.2f", plan.PlanType, len(plan.Steps), plan.Confidence))

		emit("phase", "Executing plan...")
		p.executePlan(ctx, rc, emit)
		rc.CurrentPhase = PhaseContextEvaluation
		rc.record(PhasePlanExecution, rc.CollectedContext)

		emit("phase", "Evaluating context...")
		sufficiency := p.evaluateSufficiency(ctx, rc)
		rc.record(PhaseContextEvaluation, sufficiency)
		emit("phase-result", fmt.Sprintf("sufficient=%v score=%.2f recommendation=%s",
			sufficiency.IsSufficient, sufficiency.SufficiencyScore, sufficiency.Recommendation))

		if sufficiency.Recommendation != RecommendContinueCollection || cycle >= cyclesAllowed {
			if sufficiency.Recommendation == RecommendContinueCollection {
				slog.Info("reasoning: continue_collection recommended but replan budget exhausted",
					"cycle", cycle, "max_replan_cycles", cyclesAllowed)
			}
			break
		}
	}

	rc.CurrentPhase = PhaseCompletion
	emit("reasoning-end", "✅ Analysis complete.")

	out = augmentRequest(req, rc.CollectedContext)
	return out
}
