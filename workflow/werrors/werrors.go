// Package werrors codifies the closed set of error kinds the engine can
// raise, each mapped to the exit code a host (CLI, REST, builder) should
// surface to its caller. Pattern executors never catch these errors -
// they unwind to the dispatcher, which is the only place that converts
// an error into a finalized session status and a RunResult.
package werrors

import "fmt"

// ExitCode enumerates the dedicated process exit codes the dispatcher
// assigns to each error kind.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitUsage          ExitCode = 2
	ExitSchema         ExitCode = 3
	ExitRuntime        ExitCode = 10
	ExitIO             ExitCode = 12
	ExitUnsupported    ExitCode = 18
	ExitBudgetExceeded ExitCode = 19
	ExitHITLPause      ExitCode = 30
	ExitUnknown        ExitCode = 70
)

// Kind names the category of a workflow error, independent of the message.
type Kind string

const (
	KindSchemaViolation        Kind = "schema_violation"
	KindUnsupportedFeature     Kind = "unsupported_feature"
	KindTemplate               Kind = "template_error"
	KindRuntimeFailure         Kind = "runtime_failure"
	KindStructuredOutputParse  Kind = "structured_output_parse_error"
	KindRouteInvalid           Kind = "route_invalid"
	KindIterationLimitExceeded Kind = "iteration_limit_exceeded"
	KindBudgetExceeded         Kind = "budget_exceeded"
	KindHITLPauseRequested     Kind = "hitl_pause_requested"
	KindSessionLockTimeout     Kind = "session_lock_timeout"
	KindIO                     Kind = "io_error"
)

// WorkflowError is the common shape every engine error satisfies. Callers
// use errors.As to recover the Kind and ExitCode.
type WorkflowError struct {
	Kind    Kind
	Message string
	Path    string // optional JSONPointer-style location, e.g. for schema/unsupported errors
	Err     error
}

func (e *WorkflowError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (at %s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code associated with e.Kind.
func (e *WorkflowError) ExitCode() ExitCode {
	switch e.Kind {
	case KindSchemaViolation:
		return ExitSchema
	case KindUnsupportedFeature:
		return ExitUnsupported
	case KindBudgetExceeded:
		return ExitBudgetExceeded
	case KindHITLPauseRequested:
		return ExitHITLPause
	case KindIO:
		return ExitIO
	case KindSessionLockTimeout:
		return ExitIO
	case KindTemplate, KindRuntimeFailure, KindStructuredOutputParse,
		KindRouteInvalid, KindIterationLimitExceeded:
		return ExitRuntime
	default:
		return ExitUnknown
	}
}

func newErr(kind Kind, format string, args ...any) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SchemaViolation reports that a spec failed JSON-Schema validation at path.
func SchemaViolation(path, format string, args ...any) *WorkflowError {
	e := newErr(KindSchemaViolation, format, args...)
	e.Path = path
	return e
}

// UnsupportedFeature reports that a schema-valid spec uses a feature the
// engine cannot execute. Report renders a short remediation note.
type UnsupportedFeatureError struct {
	*WorkflowError
	Feature string
}

// UnsupportedFeature constructs an UnsupportedFeatureError for the named
// feature at the given location.
func UnsupportedFeature(path, feature, reason string) *UnsupportedFeatureError {
	return &UnsupportedFeatureError{
		WorkflowError: &WorkflowError{
			Kind:    KindUnsupportedFeature,
			Message: reason,
			Path:    path,
		},
		Feature: feature,
	}
}

// Report renders a Markdown remediation blurb describing the unsupported
// feature, its location, and a minimal path to a supported equivalent.
func (e *UnsupportedFeatureError) Report() string {
	return fmt.Sprintf(
		"## Unsupported feature: %s\n\n- Location: `%s`\n- Reason: %s\n\nRemediation: remove or rewrite this part of the spec to use a supported construct before re-running.\n",
		e.Feature, e.Path, e.Message,
	)
}

// Template reports a TemplateError: undefined variable, sandbox violation,
// or parse failure. Fatal to the unit it occurred in.
func Template(format string, args ...any) *WorkflowError {
	return newErr(KindTemplate, format, args...)
}

// RuntimeFailure wraps an agent invocation or provider error.
func RuntimeFailure(err error, format string, args ...any) *WorkflowError {
	e := newErr(KindRuntimeFailure, format, args...)
	e.Err = err
	return e
}

// StructuredOutputParse reports malformed JSON from a router/evaluator/
// orchestrator agent response after retries are exhausted.
func StructuredOutputParse(format string, args ...any) *WorkflowError {
	return newErr(KindStructuredOutputParse, format, args...)
}

// RouteInvalid reports a router choosing an undefined route name.
func RouteInvalid(route string) *WorkflowError {
	return newErr(KindRouteInvalid, "router chose undefined route %q", route)
}

// IterationLimitExceeded reports a graph pattern exceeding max_iterations.
func IterationLimitExceeded(limit int) *WorkflowError {
	return newErr(KindIterationLimitExceeded, "exceeded max_iterations (%d)", limit)
}

// BudgetExceeded reports cumulative tokens exceeding max_tokens.
func BudgetExceeded(cumulative, max int) *WorkflowError {
	return newErr(KindBudgetExceeded, "cumulative tokens %d reached max_tokens %d", cumulative, max)
}

// HITLPauseRequested is not a failure - it unwinds the pattern executor
// cleanly so the dispatcher can checkpoint the session as paused.
func HITLPauseRequested(taskID string) *WorkflowError {
	return newErr(KindHITLPauseRequested, "hitl gate %q requested pause", taskID)
}

// SessionLockTimeout reports a concurrent writer holding the session lock
// past the acquisition timeout.
func SessionLockTimeout(sessionID string, err error) *WorkflowError {
	e := newErr(KindSessionLockTimeout, "timed out acquiring lock for session %q", sessionID)
	e.Err = err
	return e
}

// IO reports an artifact write or session file failure.
func IO(err error, format string, args ...any) *WorkflowError {
	e := newErr(KindIO, format, args...)
	e.Err = err
	return e
}

// IsHITLPause reports whether err is (or wraps) a HITLPauseRequested error.
func IsHITLPause(err error) bool {
	we, ok := asWorkflowError(err)
	return ok && we.Kind == KindHITLPauseRequested
}

func asWorkflowError(err error) (*WorkflowError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if we, ok := err.(*WorkflowError); ok {
			return we, true
		}
		if ufe, ok := err.(*UnsupportedFeatureError); ok {
			return ufe.WorkflowError, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
