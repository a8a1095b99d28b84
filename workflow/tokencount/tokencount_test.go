package tokencount_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/tokencount"
)

func TestCountIsPositiveForNonEmptyText(t *testing.T) {
	c, err := tokencount.New("anthropic.claude-3-sonnet-20240229-v1:0")
	require.NoError(t, err)
	assert.Greater(t, c.Count("hello world"), 0)
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	c, err := tokencount.New("gpt-4")
	require.NoError(t, err)

	zero := c.CountMessages(nil)
	assert.Equal(t, 2, zero)

	withOne := c.CountMessages([]tokencount.Message{{Role: "user", Content: "hi"}})
	assert.Greater(t, withOne, zero)
}

func TestUnknownModelFallsBackToCl100kBase(t *testing.T) {
	c, err := tokencount.New("llama2")
	require.NoError(t, err)
	assert.Greater(t, c.Count("test"), 0)
}
