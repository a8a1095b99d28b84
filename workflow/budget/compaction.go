package budget

import "context"

// Turn is one exchange in a conversation history subject to compaction.
type Turn struct {
	Role    string
	Content string
}

// Summarizer condenses a slice of turns into a single summary string;
// budget itself stays free of any provider dependency. This module ships no
// Summarizer implementation, and neither the dispatcher nor the pattern
// executors construct or run a Compactor.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

// ContextPolicy mirrors spec.ContextPolicy: whether compaction is enabled,
// what fraction of history becomes a summary, and how many of the most
// recent turns are always preserved verbatim.
type ContextPolicy struct {
	Enabled         bool
	SummaryRatio    float64
	PreservedRecent int
}

// Compactor applies a ContextPolicy to conversation history, replacing the
// oldest portion with a single summary turn while preserving the most
// recent PreservedRecent turns verbatim.
type Compactor struct {
	policy     ContextPolicy
	summarizer Summarizer
}

// NewCompactor constructs a Compactor. summarizer may be nil only if
// policy.Enabled is false.
func NewCompactor(policy ContextPolicy, summarizer Summarizer) *Compactor {
	return &Compactor{policy: policy, summarizer: summarizer}
}

// Compact rewrites turns per policy: the oldest summary_ratio fraction of
// turns (excluding the preserved recent tail) is collapsed into one
// synthetic "system" summary turn prepended to the remaining turns (any
// unsummarized older turns followed by the preserved tail). If
// compaction is disabled, or there are too few turns to usefully compact,
// turns is returned unchanged.
func (c *Compactor) Compact(ctx context.Context, turns []Turn) ([]Turn, error) {
	if !c.policy.Enabled || len(turns) <= c.policy.PreservedRecent {
		return turns, nil
	}

	splitAt := len(turns) - c.policy.PreservedRecent
	if splitAt <= 0 {
		return turns, nil
	}

	ratio := c.policy.SummaryRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	summarizeCount := int(float64(splitAt) * ratio)
	if summarizeCount <= 0 {
		return turns, nil
	}

	toSummarize := turns[:summarizeCount]
	rest := turns[summarizeCount:]

	summary, err := c.summarizer.Summarize(ctx, toSummarize)
	if err != nil {
		return nil, err
	}

	out := make([]Turn, 0, len(rest)+1)
	out = append(out, Turn{Role: "system", Content: summary})
	out = append(out, rest...)
	return out, nil
}
