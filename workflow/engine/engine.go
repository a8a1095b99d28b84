// Package engine implements the executor dispatcher (spec §4.7): given a
// validated spec and optional resume session id, it validates inputs,
// creates or loads a session, builds the initial template namespace,
// dispatches to the matching pattern executor, finalizes the session, and
// renders any declared artifacts. Grounded on the teacher's Runtime/Options
// wiring shape (agents/runtime/runtime/runtime.go) - generalized from its
// Temporal-workflow registration surface down to a single-process dispatch
// call, since this engine has no external workflow-engine dependency to
// register against.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/thomasrohde/strands-workflow/workflow/agent"
	"github.com/thomasrohde/strands-workflow/workflow/budget"
	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/pattern"
	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/telemetry"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// RunResult is the record Dispatch returns, matching spec §4.7's result
// shape exactly.
type RunResult struct {
	Success          bool
	ExitCode         werrors.ExitCode
	PatternTag       string
	SessionID        string
	LastResponse     string
	Error            string
	Tokens           session.TokenUsage
	StartedAt        time.Time
	CompletedAt      time.Time
	DurationSeconds  float64
	ArtifactsWritten []string
}

// Dispatcher owns everything a dispatch needs beyond the per-call spec and
// inputs: the session store, the provider invoker, and the optional
// telemetry/eventing seams. One Dispatcher is built once per spec and
// reused across runs and resumes.
type Dispatcher struct {
	spec    *spec.Spec
	store   *session.Store
	invoker agent.Invoker

	renderer *template.Renderer
	bus      hooks.Bus
	logger   telemetry.Logger
	tracer   telemetry.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithBus(b hooks.Bus) Option           { return func(d *Dispatcher) { d.bus = b } }
func WithLogger(l telemetry.Logger) Option { return func(d *Dispatcher) { d.logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }
func WithMaxTemplateOutput(n int) Option {
	return func(d *Dispatcher) { d.renderer = template.New(n) }
}

// NewDispatcher constructs a Dispatcher for sp, persisting sessions under
// store and invoking agents through invoker.
func NewDispatcher(sp *spec.Spec, store *session.Store, invoker agent.Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		spec:     sp,
		store:    store,
		invoker:  invoker,
		renderer: template.New(0),
		bus:      hooks.NewBus(),
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates inputs, creates or resumes a session, runs the spec's
// pattern to completion or suspension, and returns the finalized result.
// resumeSessionID may be empty to start a fresh run. On resume, an
// inputs["hitl_response"] value answers the session's active HITL gate
// directly; callers that already loaded the session and set
// Session.HITL.Resolved/Response themselves (as an external operator UI
// might, after its own approval step) are unaffected - resolveSession only
// touches HITL state that is still unresolved.
func (d *Dispatcher) Dispatch(ctx context.Context, inputs map[string]any, resumeSessionID string) RunResult {
	started := time.Now()

	sess, merged, err := d.resolveSession(resumeSessionID, inputs)
	if err != nil {
		return d.finalize(sess, started, "", err)
	}

	ns := template.Namespace{}
	for k, v := range merged {
		ns = ns.With(k, v)
	}

	tracker := budget.NewTracker(budgetPolicy(d.spec.Budgets))
	tracker.Record(sess.TokenUsage.TotalInputTokens, sess.TokenUsage.TotalOutputTokens)

	deps := &pattern.Deps{
		Runner:       agent.NewRunner(d.spec, d.invoker, agent.WithLogger(d.logger), agent.WithTracer(d.tracer)),
		Renderer:     d.renderer,
		Budget:       tracker,
		Bus:          d.bus,
		Session:      sess,
		Store:        d.store,
		Logger:       d.logger,
		WorkflowName: d.spec.Name,
		PatternTag:   string(d.spec.Pattern.Kind),
	}

	sess.Metadata.Status = session.StatusRunning
	if err := d.store.Save(sess); err != nil {
		return d.finalize(sess, started, "", err)
	}
	d.publish(ctx, sess, hooks.WorkflowStart, map[string]any{})

	resp, runErr := pattern.Execute(ctx, deps, d.spec.Pattern, ns)

	if runErr != nil {
		if werrors.IsHITLPause(runErr) {
			sess.Metadata.Status = session.StatusPaused
			_ = d.store.Save(sess)
			return d.finalize(sess, started, resp, runErr)
		}
		sess.Metadata.Status = session.StatusFailed
		_ = d.store.Save(sess)
		d.publish(ctx, sess, hooks.Error, map[string]any{"error": runErr.Error()})
		return d.finalize(sess, started, resp, runErr)
	}

	sess.Metadata.Status = session.StatusCompleted
	sess.LastResponse = resp
	if err := d.store.Save(sess); err != nil {
		return d.finalize(sess, started, resp, err)
	}
	d.publish(ctx, sess, hooks.WorkflowComplete, map[string]any{"response": resp})

	result := d.finalize(sess, started, resp, nil)

	artifacts, err := d.writeArtifacts(ns, sess, resp)
	if err != nil {
		result.Error = err.Error()
	}
	result.ArtifactsWritten = artifacts
	return result
}

// hitlResponseInputKey is the inputs key a caller resuming a paused session
// sets to answer the active HITL gate, per spec §4.5(2)'s "re-entry with a
// hitl_response value". Dispatch consumes it here rather than requiring the
// caller to load the session, mutate Session.HITL directly, and re-save it
// before resuming.
const hitlResponseInputKey = "hitl_response"

func (d *Dispatcher) resolveSession(resumeSessionID string, inputs map[string]any) (*session.Session, map[string]any, error) {
	if resumeSessionID != "" {
		sess, err := d.store.Load(resumeSessionID)
		if err != nil {
			return nil, nil, err
		}
		if err := d.checkSpecMatch(sess); err != nil {
			return sess, nil, err
		}

		rest := inputs
		if hitlResp, ok := inputs[hitlResponseInputKey]; ok {
			if sess.HITL != nil && !sess.HITL.Resolved {
				sess.HITL.Resolved = true
				sess.HITL.Response = fmt.Sprint(hitlResp)
			}
			rest = make(map[string]any, len(inputs))
			for k, v := range inputs {
				if k != hitlResponseInputKey {
					rest[k] = v
				}
			}
		}

		merged := make(map[string]any, len(sess.Variables))
		for k, v := range sess.Variables {
			merged[k] = v
		}
		for k, v := range rest {
			merged[k] = v
		}
		sess.Variables = merged
		return sess, merged, nil
	}

	merged, err := mergeInputs(d.spec.Inputs, inputs)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := yaml.Marshal(d.spec)
	if err != nil {
		return nil, nil, werrors.IO(err, "marshaling spec snapshot")
	}

	sess := session.New(uuid.NewString(), d.spec.Name, string(d.spec.Pattern.Kind), time.Now())
	sess.Variables = merged
	sess.SpecSnapshot = string(snapshot)

	if err := d.store.Create(sess); err != nil {
		return nil, nil, err
	}
	return sess, merged, nil
}

// checkSpecMatch refuses to resume a session against a spec that has
// changed since the session was created - resuming a stale checkpoint
// against a mutated pattern would silently replay stored responses into
// units that no longer exist or mean something different.
func (d *Dispatcher) checkSpecMatch(sess *session.Session) error {
	if sess.SpecSnapshot == "" {
		return nil
	}
	current, err := yaml.Marshal(d.spec)
	if err != nil {
		return werrors.IO(err, "marshaling spec snapshot")
	}
	if specHash(string(current)) != specHash(sess.SpecSnapshot) {
		return werrors.SchemaViolation("/pattern", "spec has changed since session %s was created; resume refused", sess.Metadata.SessionID)
	}
	return nil
}

func specHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// mergeInputs overlays provided inputs onto the spec's declared defaults
// and confirms every required field is bound, returning a structured list
// of the missing names via a single SchemaViolation error.
func mergeInputs(decl spec.Inputs, provided map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(decl.Values)+len(provided))
	for k, v := range decl.Values {
		merged[k] = v
	}
	for k, v := range provided {
		merged[k] = v
	}

	var missing []string
	for _, name := range decl.Required {
		if _, ok := merged[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, werrors.SchemaViolation("/inputs", "missing required input(s): %v", missing)
	}
	return merged, nil
}

func (d *Dispatcher) publish(ctx context.Context, sess *session.Session, typ hooks.EventType, data map[string]any) {
	event := hooks.New(typ, sess.Metadata.SessionID, sess.Metadata.WorkflowName, sess.Metadata.PatternTag, data)
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Warn(ctx, "event subscriber failed", "event", string(typ), "error", err)
	}
}

func budgetPolicy(b *spec.Budgets) budget.Policy {
	if b == nil {
		return budget.Policy{}
	}
	return budget.Policy{MaxTokens: b.MaxTokens, WarnRatio: b.WarnRatio}
}

func (d *Dispatcher) finalize(sess *session.Session, started time.Time, resp string, err error) RunResult {
	completed := time.Now()
	result := RunResult{
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		LastResponse:    resp,
	}
	if sess != nil {
		result.SessionID = sess.Metadata.SessionID
		result.PatternTag = sess.Metadata.PatternTag
		result.Tokens = sess.TokenUsage
	}
	if err == nil {
		result.Success = true
		result.ExitCode = werrors.ExitOK
		return result
	}

	result.Error = err.Error()
	if we, ok := err.(interface{ ExitCode() werrors.ExitCode }); ok {
		result.ExitCode = we.ExitCode()
	} else {
		result.ExitCode = werrors.ExitUnknown
	}
	// success is false on any failure or HITL pause; the paused case is
	// distinguished by ExitCode (ExitHITLPause) and the session's Paused
	// status, not by Success.
	result.Success = false
	return result
}

func (d *Dispatcher) writeArtifacts(ns template.Namespace, sess *session.Session, resp string) ([]string, error) {
	if len(d.spec.Artifacts) == 0 {
		return nil, nil
	}

	finalNS := ns
	for k, v := range sess.Variables {
		finalNS = finalNS.With(k, v)
	}
	finalNS = finalNS.With("last_response", resp)

	var written []string
	for i, a := range d.spec.Artifacts {
		path, err := d.renderer.Render(a.PathTemplate, finalNS)
		if err != nil {
			return written, fmt.Errorf("artifact %d path: %w", i, err)
		}
		body, err := d.renderer.Render(a.BodyTemplate, finalNS)
		if err != nil {
			return written, fmt.Errorf("artifact %d body: %w", i, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, werrors.IO(err, "creating artifact directory for %s", path)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return written, werrors.IO(err, "writing artifact %s", path)
		}
		written = append(written, path)
	}
	return written, nil
}
