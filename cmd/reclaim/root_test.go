package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()

	flag := cmd.Flags().Lookup("threshold")
	require.NotNil(t, flag)
	assert.Equal(t, (24 * time.Hour).String(), flag.DefValue)

	require.NoError(t, cmd.ParseFlags([]string{"--threshold", "90m"}))
	assert.True(t, cmd.Flags().Changed("threshold"))
	value, err := cmd.Flags().GetDuration("threshold")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, value)
}

func TestRootCommand_RejectsArguments(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
