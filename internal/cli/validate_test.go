package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/compiler"
)

func runValidateCLI(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_BundledScenarios(t *testing.T) {
	out, err := runValidateCLI(t, testOptions("text"), scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+filepath.Join(scenarioDir, "edit_recency.yaml"))
	assert.Contains(t, out, "scenarios valid")
	assert.NotContains(t, out, "FAIL")
}

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "minimal.yaml", minimalScenario)

	out, err := runValidateCLI(t, testOptions("text"), filepath.Join(dir, "minimal.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 scenario valid")
}

func TestValidate_InvalidDocuments(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", minimalScenario)
	writeScenario(t, dir, "bad_step.yaml", `name: bad
description: unknown step kind
steps:
  - do: push_everything
`)
	writeScenario(t, dir, "no_arg.yaml", `name: no_arg
description: redaction without a target
steps:
  - do: push_redaction
`)

	out, err := runValidateCLI(t, testOptions("json"), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrSchemaViolation, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Files, 3)

	byName := map[string]FileValidation{}
	for _, f := range resp.Data.Files {
		byName[filepath.Base(f.Path)] = f
	}
	assert.True(t, byName["good.yaml"].Valid)
	assert.False(t, byName["bad_step.yaml"].Valid)
	require.NotEmpty(t, byName["no_arg.yaml"].Errors)
	assert.Equal(t, compiler.ErrMissingStepArgument, byName["no_arg.yaml"].Errors[0].Code)
}

func TestValidate_TextReportsErrors(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: [unterminated")

	out, err := runValidateCLI(t, testOptions("text"), dir)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL "+filepath.Join(dir, "broken.yaml"))
	assert.Contains(t, out, compiler.ErrScenarioParse)
	assert.Contains(t, out, "1 of 1 scenario invalid")
}

func TestValidate_PathNotFound(t *testing.T) {
	out, err := runValidateCLI(t, testOptions("json"), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidate_RequiresArgument(t *testing.T) {
	_, err := runValidateCLI(t, testOptions("text"))
	require.Error(t, err)
}
