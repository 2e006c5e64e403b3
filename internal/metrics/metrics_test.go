package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loykin/auditweb/internal/audit"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveRun(audit.OutcomeSuccess, 0, 1.5, true)
	ObserveRun(audit.OutcomeNonZeroExit, 2, 0.5, true)
	ObserveRun(audit.OutcomeNotFound, 0, 0, false)
	IncInflight()
	ObserveClear(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"auditweb_audit_runs_total":           false,
		"auditweb_audit_run_duration_seconds": false,
		"auditweb_audit_last_exit_code":       false,
		"auditweb_audit_runs_in_flight":       false,
		"auditweb_reports_deleted_total":      false,
		"auditweb_reports_clears_total":       false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if v := testutil.ToFloat64(lastExitCode); v != 2 {
		t.Fatalf("last exit code = %v, want 2", v)
	}
	DecInflight()
	if v := testutil.ToFloat64(inflight); v != 0 {
		t.Fatalf("inflight = %v, want 0", v)
	}
}

func TestRunHookClassifies(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(runs.WithLabelValues(audit.OutcomeTimeout))
	RunHook(context.Background(), audit.Result{ExitCode: -9, Duration: time.Second}, audit.ErrTimeout)
	after := testutil.ToFloat64(runs.WithLabelValues(audit.OutcomeTimeout))
	if after-before != 1 {
		t.Fatalf("timeout counter delta = %v", after-before)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	ObserveClear(1)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "auditweb_reports_clears_total") {
		t.Fatalf("metrics output missing clears counter")
	}
}
