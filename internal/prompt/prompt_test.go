package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/prompt"
)

func TestDecline(t *testing.T) {
	t.Parallel()

	var p prompt.Prompter = prompt.Decline{}

	ok, err := p.Confirm("Overwrite ~/.ssh/config?", "")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := p.Select("Resolve Git-Config", "", []prompt.Option{{Label: "Take local", Value: "local"}})
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestTerminalImplementsPrompter(t *testing.T) {
	t.Parallel()

	var p prompt.Prompter = prompt.NewTerminal()
	assert.NotNil(t, p)
}
