package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/api/middleware"
	"github.com/dd0wney/cluso-gridsim/pkg/archive"
	"github.com/dd0wney/cluso-gridsim/pkg/auth"
	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/engine/enginetest"
	"github.com/dd0wney/cluso-gridsim/pkg/history"
	"github.com/dd0wney/cluso-gridsim/pkg/metrics"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
	"github.com/dd0wney/cluso-gridsim/pkg/sim"
	"github.com/dd0wney/cluso-gridsim/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNetwork = "test"

type fixture struct {
	svc    *sim.Service
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, factory engine.Factory, deps sim.Deps, opts Options) *fixture {
	t.Helper()
	if factory == nil {
		factory = enginetest.Factory(enginetest.New(enginetest.Options{}))
	}

	p := params.Defaults()
	p.Network = testNetwork
	p.TEnd = 1
	p.TapChanger.Enabled = false

	deps.Catalog = engine.NewMemoryCatalog(&engine.ModelData{Name: testNetwork})
	deps.Factory = factory
	deps.Params = params.NewStore(p, nil)

	driver := sim.DefaultDriverConfig()
	driver.MaxStep = 0.25
	svc := sim.NewService(deps, sim.ServiceConfig{
		Driver:    driver,
		Heartbeat: 20 * time.Millisecond,
	})
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	f := &fixture{svc: svc, server: NewServer(svc, opts)}
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// readEvents consumes the update stream until it ends. Keepalive comments
// are counted, not returned.
func (f *fixture) readEvents(t *testing.T) ([]stream.Message, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/simulation_updates", nil)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	var (
		msgs       []stream.Message
		keepalives int
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == ": keepalive":
			keepalives++
		case strings.HasPrefix(line, "data: "):
			var m stream.Message
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
			msgs = append(msgs, m)
		}
	}
	require.NoError(t, ctx.Err(), "stream did not end")
	return msgs, keepalives
}

func types(msgs []stream.Message) []stream.MessageType {
	out := make([]stream.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestNetworks(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, body := f.do(t, http.MethodGet, "/api/networks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, NetworksResponse{Networks: []string{testNetwork}}, decode[NetworksResponse](t, body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestSetParameters(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/set_parameters", `{"t_end": 2.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got := decode[ParametersResponse](t, body)
	assert.Equal(t, statusSuccess, got.Status)
	assert.Equal(t, 2.5, got.Parameters.TEnd)
	assert.Equal(t, 2.5, f.svc.Parameters().TEnd)

	resp, body = f.do(t, http.MethodGet, "/api/parameters", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.5, decode[ParametersResponse](t, body).Parameters.TEnd)
}

func TestSetParametersRejects(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"empty body", "", msgNoData},
		{"empty object", "{}", msgNoData},
		{"null", "null", msgNoData},
		{"not an object", "[1, 2]", ""},
		{"bad type", `{"t_end": "soon"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/set_parameters", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			got := decode[StatusResponse](t, body)
			assert.Equal(t, statusError, got.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			} else {
				assert.NotEmpty(t, got.Message)
			}
		})
	}
	assert.Equal(t, 1.0, f.svc.Parameters().TEnd)
}

func TestStartSimulationStreamsRun(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/start_simulation", `{"t_end": 0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	started := decode[StatusResponse](t, body)
	assert.Equal(t, statusSuccess, started.Status)
	assert.Equal(t, "Simulation started", started.Message)
	assert.NotEmpty(t, started.RunID)

	msgs, _ := f.readEvents(t)
	assert.Equal(t, []stream.MessageType{
		stream.TypeInit, stream.TypeStep, stream.TypeStep, stream.TypeStep, stream.TypeComplete,
	}, types(msgs))

	resp, body = f.do(t, http.MethodGet, "/api/results", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rs := decode[map[string]any](t, body)
	assert.Equal(t, started.RunID, rs["run_id"])
	assert.Equal(t, []any{0.0, 0.25, 0.5}, rs["t"])

	// start does not touch the live parameters
	assert.Equal(t, 1.0, f.svc.Parameters().TEnd)
}

func TestStartSimulationRejects(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"empty body", "", msgNoParameters},
		{"empty object", "{}", msgNoParameters},
		{"negative t_end", `{"t_end": -1}`, ""},
		{"short circuit without window", `{"shortCircuit": {"busId": 2}}`,
			"Short circuit is configured but missing required parameters (startTime, duration, or admittance)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/start_simulation", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			got := decode[StatusResponse](t, body)
			assert.Equal(t, statusError, got.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			}
		})
	}
	assert.False(t, f.svc.Running())
}

func TestStartWhileRunningAndStop(t *testing.T) {
	release := make(chan struct{})
	sys := enginetest.New(enginetest.Options{})
	factory := engine.FactoryFunc(func(*engine.ModelData, map[string]any) (engine.System, error) {
		<-release
		return sys, nil
	})
	f := newFixture(t, factory, sim.Deps{}, Options{})

	resp, _ := f.do(t, http.MethodPost, "/api/start_simulation", `{"t_end": 0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/start_simulation", `{"t_end": 0.5}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, StatusResponse{Status: statusError, Message: msgAlreadyRunning}, decode[StatusResponse](t, body))

	resp, body = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, body)["running"])

	resp, body = f.do(t, http.MethodPost, "/api/stop_simulation", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	close(release)

	msgs, _ := f.readEvents(t)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, stream.Error("Simulation cancelled"), last)

	require.Eventually(t, func() bool { return !f.svc.Running() }, 5*time.Second, 10*time.Millisecond)
	resp, _ = f.do(t, http.MethodPost, "/api/stop_simulation", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/results", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamFailureEndsWithError(t *testing.T) {
	factory := enginetest.Factory(enginetest.New(enginetest.Options{PowerFlowErr: engine.ErrPowerFlow}))
	f := newFixture(t, factory, sim.Deps{}, Options{})

	resp, _ := f.do(t, http.MethodPost, "/api/start_simulation", `{"t_end": 0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs, _ := f.readEvents(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, stream.TypeError, msgs[0].Type)
	assert.Contains(t, msgs[0].Data, "power flow")
}

func TestStreamKeepalive(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/simulation_updates", nil)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": keepalive\n", line)
}

func TestResultsBeforeAnyRun(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, body := f.do(t, http.MethodGet, "/api/results", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	got := decode[ErrorResponse](t, body)
	assert.Equal(t, http.StatusNotFound, got.Code)
	assert.Equal(t, "No results available", got.Message)
}

func TestRunsAndArchive(t *testing.T) {
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	runs := history.NewMemoryStore()
	f := newFixture(t, nil, sim.Deps{Archive: store, History: runs}, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/start_simulation", `{"t_end": 0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runID := decode[StatusResponse](t, body).RunID
	f.readEvents(t)

	require.Eventually(t, func() bool {
		recent, err := runs.Recent(context.Background(), 10)
		return err == nil && len(recent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = f.do(t, http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[RunsResponse](t, body)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, runID, listed.Runs[0].ID)
	assert.Equal(t, metrics.StatusComplete, listed.Runs[0].Status)

	resp, body = f.do(t, http.MethodGet, "/api/results/"+runID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, runID, decode[map[string]any](t, body)["run_id"])

	resp, _ = f.do(t, http.MethodGet, "/api/results/unknown-run", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/results/bad.id", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunsWithoutHistory(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, _ := f.do(t, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/results/abc", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBearerTokenGuard(t *testing.T) {
	tokens, err := auth.NewTokenManager("api-test-secret-with-at-least-32-chars", "", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Issue("operator")
	require.NoError(t, err)
	f := newFixture(t, nil, sim.Deps{}, Options{Tokens: tokens})

	resp, _ := f.do(t, http.MethodPost, "/api/set_parameters", `{"t_end": 3}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/set_parameters", `{"t_end": 3}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/networks", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	resp, _ := f.do(t, http.MethodGet, "/api/start_simulation", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/networks", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{MaxBodyBytes: 16})

	resp, _ := f.do(t, http.MethodPost, "/api/set_parameters", `{"network": "`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{History: history.NewMemoryStore()}, Options{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, body := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "%s: %s", path, body)
	}

	_, body := f.do(t, http.MethodGet, "/health/ready", "")
	ready := decode[map[string]any](t, body)
	checks, ok := ready["checks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, checks, "catalog")
	assert.Contains(t, checks, "history")
	assert.NotContains(t, checks, "archive")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil, sim.Deps{}, Options{})

	f.do(t, http.MethodGet, "/api/networks", "")
	f.server.updateSystemMetrics()

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `gridsim_http_requests_total{method="GET",path="GET /api/networks",status="200"} 1`)
	assert.Contains(t, text, "gridsim_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"http://localhost:3000"}
	f := newFixture(t, nil, sim.Deps{}, Options{CORS: cors})

	resp, _ := f.do(t, http.MethodOptions, "/api/start_simulation", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
	)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
