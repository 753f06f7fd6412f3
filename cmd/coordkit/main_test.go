package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tasks]\nworker_id = \"cli\"\n"), 0o600))

	out := execute(t, "config", "--config", path)
	assert.Contains(t, out, "[tasks]")
	assert.Contains(t, out, `worker_id = "cli"`)
}

func TestDemoCommand(t *testing.T) {
	t.Setenv("COORDKIT_LOG_LEVEL", "error")
	t.Setenv("COORDKIT_TASKS_POLL_INTERVAL", "1ms")

	out := execute(t, "demo", "--tasks", "4")
	assert.Contains(t, out, "total=4 completed=4 failed=0")
}
