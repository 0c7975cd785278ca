package supervisor

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ukvm.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunWithoutRunFlagValidatesAndReturns(t *testing.T) {
	path := writeConfig(t, "")

	err := Run(Options{ConfigPath: path, Run: false})
	assert.NoError(t, err)
}

func TestRunWithMissingConfigReturnsError(t *testing.T) {
	err := Run(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.toml"), Run: false})
	assert.Error(t, err)
}

func TestRunStopsOnSIGTERMWithNoBinds(t *testing.T) {
	path := writeConfig(t, "")

	done := make(chan error, 1)
	go func() { done <- Run(Options{ConfigPath: path, Run: true}) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after SIGTERM")
	}
}
