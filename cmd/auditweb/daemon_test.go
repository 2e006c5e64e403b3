package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPidFileLifecycle(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "auditweb.pid")

	require.NoError(t, writePidFile(pidFile, os.Getpid()))
	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, removePidFile(pidFile))
	require.NoFileExists(t, pidFile)
	require.NoError(t, removePidFile(pidFile))
	require.NoError(t, removePidFile(""))
}

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs([]string{
		"serve", "--daemonize", "--pidfile", "/run/a.pid", "--port", "8080",
		"--logfile=/var/log/a.out", "--config", "a.toml",
	})
	require.Equal(t, []string{"serve", "--port", "8080", "--config", "a.toml"}, got)
}

func TestDaemonSupported(t *testing.T) {
	require.True(t, isDaemonSupported())
}
