package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/cmd/changemaster/commands"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := commands.NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func boltArgs(t *testing.T) []string {
	t.Helper()
	return []string{
		"--backend", changemaster.BackendBolt,
		"--path", filepath.Join(t.TempDir(), "changes.db"),
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	assert.NoError(t, err)
	assert.Equal(t, "changemaster version "+commands.Version+"\n", out)
}

func TestIngestAndQuery(t *testing.T) {
	db := boltArgs(t)
	with := func(args ...string) []string {
		return append(args, db...)
	}

	out, err := run(t,
		`{"project":"p","revision":"r1","author":"alice","branch":"main","files":["a.go"]}`,
		with("ingest")...,
	)
	require.NoError(t, err)
	assert.Equal(t, "change 1\n", out)

	out, err = run(t,
		`{"project":"p","revision":"r2","author":"bob","branch":"dev"}`,
		with("ingest", "-")...,
	)
	require.NoError(t, err)
	assert.Equal(t, "change 2\n", out)

	out, err = run(t, "", with("latest")...)
	assert.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, "", with("latest", "--branch", "main")...)
	assert.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, "", with("show", "1")...)
	assert.NoError(t, err)
	assert.Contains(t, out, `"revision": "r1"`)
	assert.Contains(t, out, `"author": "alice"`)

	out, err = run(t, "", with("history")...)
	assert.NoError(t, err)
	assert.Equal(t, "1\tr1\talice\tmain\n2\tr2\tbob\tdev\n", out)

	out, err = run(t, "", with("history", "--since", "1")...)
	assert.NoError(t, err)
	assert.Equal(t, "2\tr2\tbob\tdev\n", out)

	out, err = run(t, "", with("history", "--author", "alice")...)
	assert.NoError(t, err)
	assert.Equal(t, "1\tr1\talice\tmain\n", out)

	out, err = run(t, "", with("prune", "--horizon", "1")...)
	assert.NoError(t, err)
	assert.Equal(t, "removed 1 changes\n", out)

	_, err = run(t, "", with("show", "1")...)
	assert.ErrorIs(t, err, changemaster.ErrChangeNotFound)
}

func TestIngestFile(t *testing.T) {
	db := boltArgs(t)
	file := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(file,
		[]byte(`{"project":"p","revision":42}`), 0o600,
	))

	out, err := run(t, "", append([]string{"ingest", file}, db...)...)
	assert.NoError(t, err)
	assert.Equal(t, "change 1\n", out)
}

func TestIngestMalformed(t *testing.T) {
	_, err := run(t, `{"revision":"r1"}`, append([]string{"ingest"}, boltArgs(t)...)...)
	assert.Error(t, err)

	_, err = run(t, "", append([]string{"ingest", "missing.json"}, boltArgs(t)...)...)
	assert.Error(t, err)
}

func TestPruneWithoutHorizon(t *testing.T) {
	_, err := run(t, "", append([]string{"prune"}, boltArgs(t)...)...)
	assert.ErrorContains(t, err, "change horizon")
}

func TestShowInvalidID(t *testing.T) {
	_, err := run(t, "", append([]string{"show", "abc"}, boltArgs(t)...)...)
	assert.ErrorContains(t, err, "invalid change id")

	_, err = run(t, "", "show", "--backend", changemaster.BackendMemory)
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := run(t, "", "latest", "--backend", "cassandra")
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "changemaster.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"store:\n  backend: sqlite\n  path: "+filepath.Join(dir, "file.db")+"\n",
	), 0o600))

	payload := `{"project":"p","revision":"r1"}`
	out, err := run(t, payload, "ingest", "--config", file)
	require.NoError(t, err)
	assert.Equal(t, "change 1\n", out)

	_, err = os.Stat(filepath.Join(dir, "file.db"))
	assert.NoError(t, err)

	// the environment overrides the file
	t.Setenv("CHANGEMASTER_STORE_PATH", filepath.Join(dir, "env.db"))
	out, err = run(t, "", "latest", "--config", file)
	assert.NoError(t, err)
	assert.Equal(t, "0\n", out)

	// and flags override the environment
	out, err = run(t, "", "latest", "--config", file,
		"--path", filepath.Join(dir, "file.db"),
	)
	assert.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestBadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("store: [\n"), 0o600))

	_, err := run(t, "", "latest", "--config", file)
	assert.ErrorContains(t, err, "parse config")
}
