package reasoning

import "strings"

// toolmeshReasoningSentinel marks any text this pipeline generated so
// a later filter pass can recognize and strip it from a multi-turn
// conversation's history before it reaches the upstream model again.
const toolmeshReasoningSentinel = "​toolmesh-reasoning​"

// reasoningMarkers are the overt prefixes this pipeline's own phase
// output and streamed commentary can begin with. Kept deliberately
// small: the filter only needs to catch this pipeline's own scaffolding,
// not every possible string a user or upstream model might produce.
var reasoningMarkers = []string{
	"🧠 **Reasoning**",
	"**Response Analysis:**",
	toolmeshReasoningSentinel,
}

// stripReasoningArtifacts removes any line that opens with one of the
// known reasoning markers or contains the sentinel anywhere (spec
// §4.5.6's filter pass), preventing the
// pipeline's own scaffolding from being folded back into context on a
// later turn.
func stripReasoningArtifacts(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if hasReasoningMarker(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func hasReasoningMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, marker := range reasoningMarkers {
		if strings.HasPrefix(trimmed, marker) || strings.Contains(trimmed, toolmeshReasoningSentinel) {
			return true
		}
	}
	return false
}
