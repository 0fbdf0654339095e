package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReasoningArtifacts_RemovesMarkedLines(t *testing.T) {
	in := "🧠 **Reasoning** about tickets\nplain line kept\n**Response Analysis:** summary"
	out := stripReasoningArtifacts(in)
	assert.Equal(t, "plain line kept", out)
}

func TestStripReasoningArtifacts_RemovesSentinelAnywhereOnLine(t *testing.T) {
	in := "normal text " + toolmeshReasoningSentinel + " trailing\nkeep me"
	out := stripReasoningArtifacts(in)
	assert.Equal(t, "keep me", out)
}

func TestStripReasoningArtifacts_LeavesUnmarkedContentUntouched(t *testing.T) {
	in := "line one\nline two"
	assert.Equal(t, in, stripReasoningArtifacts(in))
}
