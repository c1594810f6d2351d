package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBareInvocationServes(t *testing.T) {
	cmd, args, err := rootCmd.Find(nil)
	require.NoError(t, err)
	assert.Same(t, rootCmd, cmd)
	assert.Empty(t, args)
	require.NotNil(t, cmd.RunE)
	assert.True(t, cmd.Runnable())
}

func TestSubcommands(t *testing.T) {
	for _, name := range []string{"serve", "migrate", "env"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
