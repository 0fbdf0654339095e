package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
)

func TestCountMessages_GrowsWithContent(t *testing.T) {
	short := []chatapi.Message{{Role: "user", Content: "hi"}}
	long := []chatapi.Message{{Role: "user", Content: "hello there, this is a much longer message body"}}

	assert.Greater(t, CountMessages("gpt-4o", long), CountMessages("gpt-4o", short))
}

func TestCountMessages_UnknownModelFallsBackToDefaultEncoding(t *testing.T) {
	n := CountMessages("some-unlisted-model", []chatapi.Message{{Role: "user", Content: "hello"}})
	assert.Positive(t, n)
}

func TestCountMessages_EmptyMessagesIsJustFraming(t *testing.T) {
	assert.Equal(t, 3, CountMessages("gpt-4o", nil))
}
