package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/perpetua/internal/model"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	called := false
	err := formatter.Success(map[string]string{"shelf": "S1"}, func(io.Writer) { called = true })
	require.NoError(t, err)
	assert.False(t, called, "text renderer is skipped in JSON mode")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"shelf": "S1"}, resp.Data)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plain", nil))
	require.NoError(t, formatter.Success(nil, func(w io.Writer) { fmt.Fprintln(w, "rendered") }))
	assert.Equal(t, "plain\nrendered\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("CONFLICT", "move refused", map[string]string{"shelf": "S1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "move refused", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("AUTHORIZATION", "not yours", "S1"))
			assert.Contains(t, buf.String(), "Error [AUTHORIZATION]: not yours")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: S1")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"validation", model.Validationf("add_item", "markdown is empty"), ExitCommandError, "VALIDATION"},
		{"conflict", model.NewError(model.KindConflict, "reorder_item", "PositionConflict"), ExitFailure, "CONFLICT"},
		{"plain", errors.New("boom"), ExitFailure, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("failed", tt.err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("cache: %s", "fresh")
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
	assert.Equal(t, "cache: fresh\n", diag.String())

	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.Equal(t, "cache: fresh\n", diag.String())
}

func TestExitError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open ledger", inner)
	assert.Equal(t, "failed to open ledger: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))
}
