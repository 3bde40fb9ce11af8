package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixed(status Status) CheckFunc {
	return func(context.Context) Check {
		return Check{Status: status}
	}
}

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker()

	if hc == nil {
		t.Fatal("NewHealthChecker returned nil")
	}
	if hc.checks == nil || hc.readyChecks == nil || hc.liveChecks == nil {
		t.Error("check maps not initialized")
	}
	if hc.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", hc.timeout, DefaultTimeout)
	}
}

func TestReadinessAndLivenessAreSeparate(t *testing.T) {
	hc := NewHealthChecker()

	readyCalled, liveCalled := 0, 0
	hc.RegisterReadinessCheck("catalog", func(context.Context) Check {
		readyCalled++
		return Check{Status: StatusHealthy}
	})
	hc.RegisterLivenessCheck("api", func(context.Context) Check {
		liveCalled++
		return Check{Status: StatusHealthy}
	})

	hc.CheckLiveness(context.Background())
	if readyCalled != 0 || liveCalled != 1 {
		t.Errorf("after liveness: ready=%d live=%d", readyCalled, liveCalled)
	}

	hc.CheckReadiness(context.Background())
	if readyCalled != 1 || liveCalled != 1 {
		t.Errorf("after readiness: ready=%d live=%d", readyCalled, liveCalled)
	}

	// the aggregate check runs everything
	resp := hc.Check(context.Background())
	if readyCalled != 2 || liveCalled != 2 {
		t.Errorf("after check: ready=%d live=%d", readyCalled, liveCalled)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(resp.Checks))
	}
	if resp.Checks["catalog"].Name != "catalog" {
		t.Errorf("check name not defaulted: %q", resp.Checks["catalog"].Name)
	}
}

func TestCheckStatusAggregation(t *testing.T) {
	tests := []struct {
		name           string
		checkStatuses  []Status
		expectedStatus Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded, StatusHealthy}, StatusDegraded},
		{"one unhealthy", []Status{StatusHealthy, StatusUnhealthy}, StatusUnhealthy},
		{"degraded and unhealthy", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{"no checks", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for i, status := range tt.checkStatuses {
				hc.RegisterCheck(string(rune('a'+i)), fixed(status))
			}

			resp := hc.Check(context.Background())
			if resp.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, resp.Status)
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetTimeout(20 * time.Millisecond)
	hc.RegisterReadinessCheck("archive", DependencyCheck("archive", false, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	resp := hc.CheckReadiness(context.Background())
	if time.Since(start) > time.Second {
		t.Error("check did not honour timeout")
	}
	check := resp.Checks["archive"]
	if check.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", check.Status)
	}
	if check.Duration < 20*time.Millisecond {
		t.Errorf("duration %v shorter than timeout", check.Duration)
	}
}

func TestDependencyCheck(t *testing.T) {
	tests := []struct {
		name           string
		optional       bool
		pingErr        error
		expectedStatus Status
		expectedMsg    string
	}{
		{"connected", false, nil, StatusHealthy, "Connected"},
		{"required failing", false, errors.New("connection refused"), StatusUnhealthy, "connection refused"},
		{"optional failing", true, errors.New("bucket missing"), StatusDegraded, "bucket missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := DependencyCheck("history", tt.optional, func(context.Context) error {
				return tt.pingErr
			})(context.Background())

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if check.Message != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, check.Message)
			}
			if check.Name != "history" {
				t.Errorf("expected name 'history', got %s", check.Name)
			}
		})
	}
}

func TestCatalogCheck(t *testing.T) {
	empty := CatalogCheck(func() []string { return nil })(context.Background())
	if empty.Status != StatusUnhealthy {
		t.Errorf("empty catalog: expected unhealthy, got %s", empty.Status)
	}

	loaded := CatalogCheck(func() []string { return []string{"k2a", "sm2"} })(context.Background())
	if loaded.Status != StatusHealthy {
		t.Errorf("loaded catalog: expected healthy, got %s", loaded.Status)
	}
	if loaded.Details["networks"] != 2 {
		t.Errorf("networks detail = %v, want 2", loaded.Details["networks"])
	}
}

func TestSimulationCheck(t *testing.T) {
	idle := SimulationCheck(func() RunInfo { return RunInfo{} })(context.Background())
	if idle.Message != "Idle" || idle.Status != StatusHealthy {
		t.Errorf("idle check = %+v", idle)
	}

	busy := SimulationCheck(func() RunInfo {
		return RunInfo{Running: true, RunID: "r1", Network: "k2a", T: 1.5}
	})(context.Background())
	if busy.Status != StatusHealthy {
		t.Errorf("running simulation must stay healthy, got %s", busy.Status)
	}
	if busy.Details["run_id"] != "r1" || busy.Details["t"] != 1.5 {
		t.Errorf("unexpected details %v", busy.Details)
	}
}

func TestMemoryCheck(t *testing.T) {
	tests := []struct {
		name           string
		alloc, sys     uint64
		expectedStatus Status
	}{
		{"normal", 50, 100, StatusHealthy},
		{"high", 95, 100, StatusDegraded},
		{"no sys figure", 10, 0, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := MemoryCheck(func() (uint64, uint64) { return tt.alloc, tt.sys })(context.Background())
			if check.Status != tt.expectedStatus {
				t.Errorf("expected %s, got %s", tt.expectedStatus, check.Status)
			}
		})
	}

	alloc, sys := RuntimeMemory()
	if alloc == 0 || sys == 0 {
		t.Error("runtime memory stats are empty")
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		health   int
		ready    int
		liveness int
	}{
		{"healthy", StatusHealthy, http.StatusOK, http.StatusOK, http.StatusOK},
		{"degraded", StatusDegraded, http.StatusOK, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			hc.RegisterReadinessCheck("ready", fixed(tt.status))
			hc.RegisterLivenessCheck("live", fixed(tt.status))

			for _, h := range []struct {
				handler http.HandlerFunc
				want    int
			}{
				{hc.HTTPHandler(), tt.health},
				{hc.ReadinessHandler(), tt.ready},
				{hc.LivenessHandler(), tt.liveness},
			} {
				rec := httptest.NewRecorder()
				h.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
				if rec.Code != h.want {
					t.Errorf("status code = %d, want %d", rec.Code, h.want)
				}
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type = %q", ct)
				}
				var resp Response
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Status != tt.status {
					t.Errorf("body status = %s, want %s", resp.Status, tt.status)
				}
			}
		})
	}
}
