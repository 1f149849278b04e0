package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../../testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

func runScenarioCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"scenario", "run"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScenarioRun_AllPassAgainstGoldens(t *testing.T) {
	out, err := runScenarioCmd(t, scenariosDir, "--golden", goldenDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ drop_commits")
	assert.Contains(t, out, "Scenario Summary: 6 passed, 0 failed, 6 total")
}

func TestScenarioRun_Filter(t *testing.T) {
	out, err := runScenarioCmd(t, scenariosDir, "--filter", "drop_*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ drop_commits")
	assert.Contains(t, out, "✓ drop_conflict_reverts")
	assert.NotContains(t, out, "bulk_reorder")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestScenarioRun_UpdateWritesGoldens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")
	out, err := runScenarioCmd(t, scenariosDir, "--golden", dir, "--update", "--filter", "drop_commits")
	require.NoError(t, err, out)

	got, err := os.ReadFile(filepath.Join(dir, "drop_commits.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "drop_commits.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestScenarioRun_GoldenMismatchFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop_commits.golden"), []byte("# drop_commits\n"), 0o644))

	out, err := runScenarioCmd(t, scenariosDir, "--golden", dir, "--filter", "drop_commits")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ drop_commits")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenarioRun_JSON(t *testing.T) {
	out, err := runScenarioCmd(t, scenariosDir, "--format", "json", "--filter", "bulk_*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "bulk_reorder", resp.Data.Scenarios[0].Name)
}

func TestScenarioRun_CommandErrors(t *testing.T) {
	_, err := runScenarioCmd(t, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")

	_, err = runScenarioCmd(t, scenariosDir, "--update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--update needs --golden")

	_, err = runScenarioCmd(t, scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0o644))
	_, err = runScenarioCmd(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "broken.yaml")
}
