// Package agent runs a single named agent turn: it resolves the agent's
// system prompt and runtime config from spec.Spec, invokes an opaque
// Invoker, and reports token usage back to the caller. Grounded on the
// teacher's model.Client interface (runtime/agent/model/model.go) -
// simplified from its full multimodal Request/Response shape down to the
// plain system-prompt/messages/text-response contract an external
// provider adapter is expected to implement per the engine's scope - and
// on agents/runtime/runtime/context.go's noop-telemetry-substitution
// constructor idiom.
package agent

import (
	"context"
	"sync"

	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/telemetry"
	"github.com/thomasrohde/strands-workflow/workflow/tokencount"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// Message is a single turn in the conversation sent to an agent.
type Message struct {
	Role    string
	Content string
}

// Request carries everything an Invoker needs to produce one agent turn.
type Request struct {
	AgentName    string
	SystemPrompt string
	Model        string
	Provider     string
	Sampling     map[string]any
	Tools        []string
	Messages     []Message
}

// Usage reports token consumption for one invocation. Zero values mean the
// provider adapter did not report usage, in which case the Runner falls
// back to tokencount estimation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the result of one agent invocation.
type Response struct {
	Content string
	Usage   Usage
}

// Invoker is the opaque seam between the engine and a concrete LLM
// provider. Provider adapters (Bedrock, OpenAI, Anthropic, local runtimes)
// implement this outside the engine; the engine only ever calls through
// this interface, the way the teacher's planner/runtime layers only ever
// call through model.Client.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Runner resolves spec.Agent definitions into Requests and dispatches them
// through an Invoker, caching one token counter per model id so
// repeated turns against the same model reuse one tiktoken encoding.
type Runner struct {
	spec    *spec.Spec
	invoker Invoker
	logger  telemetry.Logger
	tracer  telemetry.Tracer

	mu       sync.Mutex
	counters map[string]*tokencount.Counter
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger overrides the Runner's logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithTracer overrides the Runner's tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Runner) { r.tracer = t } }

// NewRunner constructs a Runner for sp, dispatching through invoker.
func NewRunner(sp *spec.Spec, invoker Invoker, opts ...Option) *Runner {
	r := &Runner{
		spec:     sp,
		invoker:  invoker,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		counters: make(map[string]*tokencount.Counter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke resolves agentName against the spec's Agents map, fills the
// request with the runtime's model/provider/sampling (spec.Agent declares no
// per-agent overrides, so every agent uses the shared runtime), and calls
// through to the Invoker. If the Invoker does not report usage, Invoke estimates it via
// tokencount so budget tracking never silently stalls.
func (r *Runner) Invoke(ctx context.Context, agentName string, messages []Message) (Response, error) {
	def, ok := r.spec.Agents[agentName]
	if !ok {
		return Response{}, werrors.RuntimeFailure(nil, "agent %q is not defined in spec", agentName)
	}

	ctx, span := r.tracer.Start(ctx, "agent.invoke")
	defer span.End()

	req := Request{
		AgentName:    agentName,
		SystemPrompt: def.SystemPrompt,
		Model:        r.spec.Runtime.Model,
		Provider:     r.spec.Runtime.Provider,
		Sampling:     r.spec.Runtime.Sampling,
		Tools:        def.Tools,
		Messages:     messages,
	}

	resp, err := r.invoker.Invoke(ctx, req)
	if err != nil {
		return Response{}, werrors.RuntimeFailure(err, "agent %q invocation failed", agentName)
	}

	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		resp.Usage = r.estimateUsage(req, resp)
	}

	return resp, nil
}

func (r *Runner) estimateUsage(req Request, resp Response) Usage {
	counter := r.counterFor(req.Model)
	if counter == nil {
		return Usage{}
	}

	var tcMessages []tokencount.Message
	tcMessages = append(tcMessages, tokencount.Message{Role: "system", Content: req.SystemPrompt})
	for _, m := range req.Messages {
		tcMessages = append(tcMessages, tokencount.Message{Role: m.Role, Content: m.Content})
	}
	input := counter.CountMessages(tcMessages)
	output := counter.Count(resp.Content)
	return Usage{InputTokens: input, OutputTokens: output}
}

func (r *Runner) counterFor(model string) *tokencount.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[model]; ok {
		return c
	}
	c, err := tokencount.New(model)
	if err != nil {
		r.logger.Warn(context.Background(), "token counter unavailable, usage will read as zero", "model", model, "error", err)
		return nil
	}
	r.counters[model] = c
	return c
}
