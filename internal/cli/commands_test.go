package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/perpetua/internal/model"
)

// execute runs the root command against the ledger at db and returns
// stdout and stderr.
func execute(t *testing.T, db string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustExecute(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, errOut, err := execute(t, db, args...)
	require.NoError(t, err, "perpetua %v\nstderr: %s", args, errOut)
	return out
}

// seedShelf creates S1 with three markdown items.
func seedShelf(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "ledger.db")
	assert.Equal(t, "Created shelf S1\n", mustExecute(t, db, "shelf", "create", "Reading", "--tag", "books"))
	for i, md := range []string{"a", "b", "c"} {
		out := mustExecute(t, db, "item", "add", "S1", "--markdown", md)
		assert.Contains(t, out, "Added item "+model.ItemID(i+1).String()+" to S1")
	}
	return db
}

func showItems(t *testing.T, db string) []string {
	t.Helper()
	out := mustExecute(t, db, "--format", "json", "shelf", "show", "S1")
	var resp struct {
		Status string              `json:"status"`
		Data   model.ShelfSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	ids := make([]string, len(resp.Data.Items))
	for i, it := range resp.Data.Items {
		ids[i] = it.ID.String()
	}
	return ids
}

func TestShelfLifecycle(t *testing.T) {
	db := seedShelf(t)
	assert.Equal(t, []string{"1", "2", "3"}, showItems(t, db))

	out := mustExecute(t, db, "shelf", "update", "S1", "--title", "Read next")
	assert.Equal(t, "Updated shelf S1\n", out)

	out = mustExecute(t, db, "shelf", "show", "S1")
	assert.Contains(t, out, "S1  Read next  (owner local, private)")
	assert.Contains(t, out, "tags: [books]")
	assert.Contains(t, out, "0. [1] a")

	out = mustExecute(t, db, "shelf", "list")
	assert.Contains(t, out, "S1\tRead next\tprivate")

	out = mustExecute(t, db, "item", "remove", "S1", "2")
	assert.Equal(t, "Removed item 2 from S1\n", out)
	assert.Equal(t, []string{"1", "3"}, showItems(t, db))
}

func TestMoveAndReorder(t *testing.T) {
	db := seedShelf(t)

	assert.Equal(t, "Move committed\n", mustExecute(t, db, "item", "move", "S1", "--from", "2", "--to", "0"))
	assert.Equal(t, []string{"3", "1", "2"}, showItems(t, db))

	assert.Equal(t, "Move committed\n", mustExecute(t, db, "item", "move", "S1", "3", "--ref", "2"))
	assert.Equal(t, []string{"1", "2", "3"}, showItems(t, db))

	out := mustExecute(t, db, "reorder", "S1", "3", "2", "1")
	assert.Contains(t, out, "Reorder committed: 2 of 2 moves")
	assert.Contains(t, out, "order: [3 2 1]")
	assert.Equal(t, []string{"3", "2", "1"}, showItems(t, db))

	out = mustExecute(t, db, "journal", "--shelf", "S1")
	assert.Contains(t, out, "reorder_item")
	assert.Contains(t, out, "-> ok")
}

func TestMove_DeferredWhileRebalancing(t *testing.T) {
	db := seedShelf(t)
	mustExecute(t, db, "ledger", "flag", "S1")

	out, errOut, err := execute(t, db, "item", "move", "S1", "--from", "0", "--to", "2")
	require.NoError(t, err)
	assert.Equal(t, "Move deferred\n", out)
	assert.Contains(t, errOut, "S1 reorder_items")
	assert.Equal(t, []string{"1", "2", "3"}, showItems(t, db))

	mustExecute(t, db, "ledger", "rebalance", "S1")
	assert.Equal(t, "Move committed\n", mustExecute(t, db, "item", "move", "S1", "--from", "0", "--to", "2"))
	assert.Equal(t, []string{"2", "3", "1"}, showItems(t, db))
}

func TestOtherPrincipalNeedsEditRights(t *testing.T) {
	db := seedShelf(t)
	mustExecute(t, db, "ledger", "visibility", "S1", "public")

	_, _, err := execute(t, db, "--as", "bob", "item", "add", "S1", "--markdown", "x")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, model.IsAuthorization(err), "got %v", err)

	mustExecute(t, db, "ledger", "share", "S1", "bob")
	assert.Contains(t, mustExecute(t, db, "--as", "bob", "item", "add", "S1", "--markdown", "x"), "Added item 4")
}

func TestCommandErrors(t *testing.T) {
	db := seedShelf(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"update without fields", []string{"shelf", "update", "S1"}, ExitCommandError, "nothing to update"},
		{"add without content", []string{"item", "add", "S1"}, ExitCommandError, "exactly one of"},
		{"add with two contents", []string{"item", "add", "S1", "--markdown", "a", "--nft", "t"}, ExitCommandError, "exactly one of"},
		{"empty markdown", []string{"item", "add", "S1", "--markdown", ""}, ExitCommandError, "add_item"},
		{"bad item id", []string{"item", "remove", "S1", "x"}, ExitCommandError, "invalid item id"},
		{"move needs a mode", []string{"item", "move", "S1"}, ExitCommandError, "either --from/--to"},
		{"unknown shelf", []string{"shelf", "show", "S404"}, ExitFailure, "failed to read shelf"},
		{"not a permutation", []string{"reorder", "S1", "1", "2"}, ExitCommandError, "not a permutation"},
		{"bad visibility", []string{"ledger", "visibility", "S1", "secret"}, ExitCommandError, "invalid visibility"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, db, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	conf := filepath.Join(dir, "perpetua.cue")
	require.NoError(t, os.WriteFile(conf, []byte(`
identity: principal: "carol"
ledger: path: "`+db+`"
list: page_size: 1
`), 0o644))

	var stdout bytes.Buffer
	for _, title := range []string{"One", "Two"} {
		cmd := NewRootCommand()
		cmd.SetOut(&stdout)
		cmd.SetArgs([]string{"--config", conf, "shelf", "create", title})
		require.NoError(t, cmd.Execute())
	}
	_, err := os.Stat(db)
	require.NoError(t, err, "ledger.path from the config is used")

	stdout.Reset()
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", conf, "shelf", "list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "S1\tOne")
	assert.NotContains(t, stdout.String(), "Two")
	assert.Contains(t, stdout.String(), "next: --cursor")
}

func TestConfigFile_Invalid(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(conf, []byte(`list: page_size: 500`), 0o644))

	_, _, err := execute(t, filepath.Join(t.TempDir(), "l.db"), "--config", conf, "journal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestMetricsFlag(t *testing.T) {
	db := seedShelf(t)
	_, errOut, err := execute(t, db, "--metrics", "shelf", "show", "S1")
	require.NoError(t, err)
	assert.Contains(t, errOut, "perpetua_gateway_calls_total")
	assert.Contains(t, errOut, "perpetua_cache_lookups_total")
}

func TestJournal_Empty(t *testing.T) {
	out := mustExecute(t, filepath.Join(t.TempDir(), "l.db"), "journal")
	assert.Equal(t, "No calls recorded.\n", out)
}
