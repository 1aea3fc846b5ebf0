// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "ragline")
	assert.Contains(t, out, "ingest")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "purge")
	assert.Contains(t, out, "version")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ragline")
}

func TestRootCommand_RejectsMissingConfigFile(t *testing.T) {
	_, err := execute(t, "version", "--config", "/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestPurgeCommand_RequiresConfirmation(t *testing.T) {
	_, err := execute(t, "purge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestSearchCommand_RejectsMalformedFilter(t *testing.T) {
	_, err := execute(t, "search", "what is this", "--filter", "not-a-pair")
	assert.Error(t, err)
}
