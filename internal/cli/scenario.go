package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/harness"
)

// ScenarioOptions holds flags for the scenario run command.
type ScenarioOptions struct {
	*RootOptions
	Golden string // directory of <name>.golden traces; empty skips comparison
	Update bool   // regenerate golden files
	Filter string // glob over scenario names
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall result of a scenario run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand groups the scenario subcommands.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run YAML scenarios against a throwaway ledger",
	}
	cmd.AddCommand(newScenarioRunCommand(rootOpts))
	return cmd
}

func newScenarioRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run scenario files against a fresh in-memory ledger each.

Each scenario's expectations and assertions are checked. With --golden,
the flow's call trace is also compared against <golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unparseable scenario)`,
		Example: `  perpetua scenario run ./testdata/scenarios
  perpetua scenario run ./testdata/scenarios --filter "drop_*"
  perpetua scenario run ./testdata/scenarios --golden ./internal/harness/testdata/golden --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden traces")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update needs --golden")
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	scenarios, err := harness.LoadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	w := cmd.OutOrStdout()
	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, s := range scenarios {
		if opts.Filter != "" {
			if ok, _ := filepath.Match(opts.Filter, s.Name); !ok {
				continue
			}
		}
		sr := runOne(opts, s, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if opts.Format != "json" {
			printScenarioResult(w, sr)
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

func runOne(opts *ScenarioOptions, s *harness.Scenario, cmd *cobra.Command) ScenarioResult {
	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(
			slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}

	result, err := harness.Run(cmd.Context(), s, runOpts...)
	if err != nil {
		return ScenarioResult{Name: s.Name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}
	sr := ScenarioResult{Name: s.Name, Pass: result.Pass, Errors: result.Errors}
	if opts.Golden == "" {
		return sr
	}

	path := filepath.Join(opts.Golden, s.Name+".golden")
	got := harness.Render(s.Name, result)
	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return failed(sr, fmt.Sprintf("failed to create golden directory: %v", err))
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return failed(sr, fmt.Sprintf("failed to write golden file: %v", err))
		}
		return sr
	}

	want, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No golden file: assertions alone decide.
	case err != nil:
		return failed(sr, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(want, got):
		return failed(sr, "trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}

func failed(sr ScenarioResult, msg string) ScenarioResult {
	sr.Pass = false
	sr.Errors = append(sr.Errors, msg)
	return sr
}

func printScenarioResult(w io.Writer, sr ScenarioResult) {
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
