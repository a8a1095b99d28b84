// Package template implements the sandboxed prompt-rendering substrate that
// feeds context between pattern executor units. Grounded on the teacher's
// confirmation template renderer (text/template with Option("missingkey=error")
// and a json/quote FuncMap) and its compiled-template cache in
// runtime/agent/runtime/hints - here generalized from a single confirmation
// prompt to the per-pattern context namespaces described in spec §4.1.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// DefaultMaxOutput is the default character cap applied to rendered output.
const DefaultMaxOutput = 200_000

// Namespace is the immutable, pattern-scoped set of variables exposed to a
// template. Each unit produces a new Namespace with one field added - this
// is what makes resume a matter of replaying unit outputs (see §9 DESIGN
// NOTES, "Context namespaces").
type Namespace map[string]any

// With returns a copy of n with key bound to value. The receiver is left
// untouched, so callers can safely retain earlier namespaces (e.g. for
// resume replay) while building the next one.
func (n Namespace) With(key string, value any) Namespace {
	out := make(Namespace, len(n)+1)
	for k, v := range n {
		out[k] = v
	}
	out[key] = value
	return out
}

// Renderer compiles and executes sandboxed templates against a Namespace.
// One Renderer instance owns one compiled-template cache; templates
// themselves are compiled on first use and reused thereafter.
type Renderer struct {
	maxOutput int

	mu    sync.Mutex
	cache map[string]*template.Template
}

// New constructs a Renderer. maxOutput <= 0 selects DefaultMaxOutput.
func New(maxOutput int) *Renderer {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Renderer{
		maxOutput: maxOutput,
		cache:     make(map[string]*template.Template),
	}
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"truncate": func(n int, s string) string {
		if len(s) <= n {
			return s
		}
		return s[:n]
	},
	"count": func(items any) int {
		switch v := items.(type) {
		case []any:
			return len(v)
		case Namespace:
			return len(v)
		case map[string]any:
			return len(v)
		default:
			return 0
		}
	},
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Render compiles src (if not already cached) and executes it against ns.
// Undefined variables fail the render with a TemplateError rather than
// silently producing an empty string, matching the "fail with TemplateError
// on undefined variables" invariant in spec §4.1. Output is truncated to the
// renderer's character cap.
func (r *Renderer) Render(src string, ns Namespace) (string, error) {
	tmpl, err := r.compile(src)
	if err != nil {
		return "", werrors.Template("parse failure: %v", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ns)); err != nil {
		return "", werrors.Template("%v", err)
	}
	out := buf.String()
	if runes := []rune(out); len(runes) > r.maxOutput {
		out = string(runes[:r.maxOutput])
	}
	return out, nil
}

func (r *Renderer) compile(src string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("tmpl").
		Option("missingkey=error").
		Funcs(funcs).
		Parse(src)
	if err != nil {
		return nil, err
	}
	r.cache[src] = t
	return t, nil
}

// Placeholders statically scans src for `{{ name ... }}`-style top-level
// identifiers so a caller can cross-check required inputs before execution
// without actually rendering. This is a best-effort scan, not a full
// template parse. The dispatcher does not call it: its required-input check
// compares the provided inputs against spec.Inputs.Required only.
func Placeholders(src string) []string {
	var names []string
	seen := make(map[string]bool)
	for {
		start := strings.Index(src, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(src[start:], "}}")
		if end < 0 {
			break
		}
		expr := strings.TrimSpace(src[start+2 : start+end])
		expr = strings.TrimPrefix(expr, ".")
		if field := firstIdentifier(expr); field != "" && !seen[field] {
			seen[field] = true
			names = append(names, field)
		}
		src = src[start+end+2:]
	}
	return names
}

func firstIdentifier(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "if ") || strings.HasPrefix(expr, "range ") {
		expr = strings.TrimSpace(expr[strings.IndexByte(expr, ' '):])
	}
	if expr == "" || strings.HasPrefix(expr, "end") || strings.HasPrefix(expr, "else") {
		return ""
	}
	fields := strings.FieldsFunc(expr, func(r rune) bool {
		return r == '.' || r == ' ' || r == '[' || r == ']'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
