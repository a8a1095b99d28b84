package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/template"
)

func TestRenderSubstitutesNamespaceFields(t *testing.T) {
	r := template.New(0)
	ns := template.Namespace{"topic": "invoice disputes"}
	out, err := r.Render("Summarize feedback about {{.topic}}.", ns)
	require.NoError(t, err)
	assert.Equal(t, "Summarize feedback about invoice disputes.", out)
}

func TestRenderFailsOnUndefinedVariable(t *testing.T) {
	r := template.New(0)
	_, err := r.Render("{{.missing}}", template.Namespace{})
	require.Error(t, err)
}

func TestRenderTruncatesOutput(t *testing.T) {
	r := template.New(5)
	out, err := r.Render("{{.body}}", template.Namespace{"body": "0123456789"})
	require.NoError(t, err)
	assert.Equal(t, "01234", out)
}

func TestNamespaceWithDoesNotMutateReceiver(t *testing.T) {
	base := template.Namespace{"a": 1}
	next := base.With("b", 2)
	_, hasB := base["b"]
	assert.False(t, hasB)
	assert.Equal(t, 2, next["b"])
}

func TestPlaceholdersFindsTopLevelFields(t *testing.T) {
	got := template.Placeholders("Hello {{.name}}, your topic is {{.topic}}.")
	assert.ElementsMatch(t, []string{"name", "topic"}, got)
}

func TestPlaceholdersIgnoresControlKeywords(t *testing.T) {
	got := template.Placeholders("{{if .flag}}{{.value}}{{end}}")
	assert.ElementsMatch(t, []string{"flag", "value"}, got)
}
