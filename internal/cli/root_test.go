package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := GetRootCmd()

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"start", "search", "remember", "forget", "stats", "verify", "sync"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommandFlags(t *testing.T) {
	root := GetRootCmd()

	for _, flag := range []string{"config", "log-level", "chat"} {
		require.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
	assert.Equal(t, "default", root.PersistentFlags().Lookup("chat").DefValue)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, version, GetRootCmd().Version)
}
