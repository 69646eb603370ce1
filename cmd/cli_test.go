package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, Version)
}

func TestUnknownCommandFails(t *testing.T) {
	_, _, err := executeCLI(t, "conjure")
	require.Error(t, err)
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	_, _, err := executeCLI(t, "serve", "--config", "/nonexistent/adventure.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
