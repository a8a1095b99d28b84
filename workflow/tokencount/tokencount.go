// Package tokencount estimates token usage for budget tracking and
// compaction decisions. Grounded on the teacher pack's hector
// (pkg/utils/tokens.go) tiktoken-go wrapper, generalized with the provider
// fallback rules from the original implementation's TokenCounter
// (runtime/token_counter.py): Claude/Bedrock models always use cl100k_base,
// OpenAI models try their model-specific encoding first, and anything
// unrecognized falls back to cl100k_base.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokensPerMessage is the per-message overhead charged for role/boundary
// markers, matching the OpenAI cookbook methodology the original counter
// cites.
const tokensPerMessage = 4

// replyPriming is the fixed overhead added once per count for the
// assistant's reply priming tokens.
const replyPriming = 2

// Message is a minimal role/content pair, independent of any provider SDK's
// message type.
type Message struct {
	Role    string
	Content string
}

// Counter estimates token counts for a specific model using a cached
// tiktoken encoding.
type Counter struct {
	model    string
	encoding *tiktoken.Tiktoken
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*tiktoken.Tiktoken)
)

// New returns a Counter for modelID, selecting an encoding the way the
// original TokenCounter does: Claude/Anthropic models and anything
// unrecognized use cl100k_base; other models try their own encoding first.
func New(modelID string) (*Counter, error) {
	enc, err := encodingFor(modelID)
	if err != nil {
		return nil, err
	}
	return &Counter{model: modelID, encoding: enc}, nil
}

func encodingFor(modelID string) (*tiktoken.Tiktoken, error) {
	cacheMu.RLock()
	if enc, ok := cache[modelID]; ok {
		cacheMu.RUnlock()
		return enc, nil
	}
	cacheMu.RUnlock()

	lower := strings.ToLower(modelID)

	var enc *tiktoken.Tiktoken
	var err error
	switch {
	case strings.Contains(lower, "claude"), strings.Contains(lower, "anthropic"):
		enc, err = tiktoken.GetEncoding("cl100k_base")
	case strings.Contains(lower, "gpt-4"), strings.Contains(lower, "gpt-3.5"):
		enc, err = tiktoken.EncodingForModel(modelID)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
	default:
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[modelID] = enc
	cacheMu.Unlock()
	return enc, nil
}

// Count returns the token count of a single string.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list, including per-message
// overhead and reply priming, matching the original counter's methodology.
func (c *Counter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += c.Count(m.Role)
		total += c.Count(m.Content)
	}
	total += replyPriming
	return total
}

// Model returns the model id this Counter was constructed for.
func (c *Counter) Model() string { return c.model }
