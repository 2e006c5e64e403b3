package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/auditweb/internal/audit"
	"github.com/loykin/auditweb/internal/history"
)

// startServer runs a disposable ClickHouse and returns its native-protocol address.
func startServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()
	ctr, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestSink_RecordsRunsAndClears(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()

	sink, err := NewWithOptions(Options{Addr: addr, Table: "audit_runs"})
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	started := time.Now().Add(-3 * time.Second)
	run := history.RunEvent(audit.Result{
		ID:        "run-ch",
		Script:    "/opt/scripts/debian_system_audit.sh",
		LogPath:   "/opt/reports/debian_system_audit_20240101_000000.log",
		ExitCode:  2,
		Output:    "warning: 3 findings\n",
		StartedAt: started,
		Duration:  3 * time.Second,
	}, nil, time.Now())
	require.NoError(t, sink.Send(ctx, run))
	require.NoError(t, sink.Send(ctx, history.ClearEvent(4, time.Now())))

	var (
		outcome  string
		exitCode int32
		ok       bool
		duration int64
	)
	require.NoError(t, sink.conn.QueryRow(ctx,
		"SELECT outcome, exit_code, ok, duration_ms FROM audit_runs WHERE run_id = ?", "run-ch").
		Scan(&outcome, &exitCode, &ok, &duration))
	require.Equal(t, audit.OutcomeNonZeroExit, outcome)
	require.Equal(t, int32(2), exitCode)
	require.False(t, ok)
	require.Equal(t, int64(3000), duration)

	var deleted uint32
	require.NoError(t, sink.conn.QueryRow(ctx,
		"SELECT deleted FROM audit_runs WHERE type = ?", string(history.EventReportsCleared)).
		Scan(&deleted))
	require.Equal(t, uint32(4), deleted)

	// a second sink on the same table reuses the schema
	again, err := New(addr, "audit_runs")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New("invalid-host:9000", "audit_history")
	require.Error(t, err)
}

func TestNew_RejectsTableName(t *testing.T) {
	for _, table := range []string{"bad;DROP", "1table", "a b", "x-y"} {
		_, err := New("localhost:9000", table)
		require.Error(t, err, table)
	}
}
