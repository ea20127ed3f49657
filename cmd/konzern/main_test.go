package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/cmd/konzern/cli"
)

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, cli.ExitOK, run([]string{"help"}, &stdout, &stderr))
	require.Contains(t, stdout.String(), "usage: konzern")
}

func TestRunUnknownCommand(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	var stdout, stderr bytes.Buffer
	require.Equal(t, cli.ExitError, run([]string{"frobnicate"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), `unknown command "frobnicate"`)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CONSOL_USEFUL_LIFE_YEARS", "0")
	var stdout, stderr bytes.Buffer
	require.Equal(t, cli.ExitError, run([]string{"queue"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "load config")
}
