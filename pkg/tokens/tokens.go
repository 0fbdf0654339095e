// Package tokens estimates the prompt-token cost of an augmented
// request before it is forwarded upstream, so operators can see how
// much of the context budget the reasoning pipeline's tool-result
// folding consumed.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// encodingFor returns the tiktoken encoding for a model, falling back
// to cl100k_base for models tiktoken-go doesn't recognize (most
// non-OpenAI upstream models reached through this proxy).
func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if enc, ok := encodingCache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	encodingCache[model] = enc
	return enc, nil
}

// CountMessages estimates the token cost of a message list using
// OpenAI's per-message overhead convention (3 tokens of framing per
// message, 3 more to prime the reply).
func CountMessages(model string, messages []chatapi.Message) int {
	enc, err := encodingFor(model)
	if err != nil {
		return estimateByLength(messages)
	}
	total := 3
	for _, m := range messages {
		total += 3
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}

// estimateByLength is the degraded-mode fallback when no encoding
// could be loaded at all.
func estimateByLength(messages []chatapi.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Role) + len(m.Content)) / 4
	}
	return total
}
