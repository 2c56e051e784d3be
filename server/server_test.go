package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
	"github.com/meikuraledutech/fluxflow/internal/metrics"
	"github.com/meikuraledutech/fluxflow/memory"
)

// upstream fakes the dashboard service endpoints the routes under test hit.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid username or password"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "grafana_session", Value: "abc"})
		_, _ = w.Write([]byte(`{"message":"Logged in"}`))
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"database":"ok"}`))
	})
	mux.HandleFunc("GET /api/datasources", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"uid":"influx-uid","name":"InfluxDB","type":"influxdb"}]`))
	})
	mux.HandleFunc("POST /api/ds/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"A":{"frames":[{"data":{"values":[["telegraf"]]}}]}}}`))
	})
	mux.HandleFunc("GET /api/dashboards/uid/{uid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Dashboard not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	s       *Server
	presets *memory.PresetStore
	reg     *metrics.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	up := upstream(t)
	reg := metrics.NewRegistry()
	client, err := gateway.NewClient(gateway.ClientConfig{BaseURL: up.URL, Recorder: reg})
	require.NoError(t, err)
	gw, err := gateway.New(gateway.Config{Client: client, Sessions: memory.NewSessionStore(0)})
	require.NoError(t, err)

	presets := memory.NewPresetStore()
	s, err := New(Options{
		Gateway: gw,
		Presets: presets,
		Metrics: reg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return &testServer{s: s, presets: presets, reg: reg}
}

// do sends one request through the app and returns the status and body.
func (ts *testServer) do(t *testing.T, method, path string, body any, cookie string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	resp, err := ts.s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

// login returns the session cookie value issued for ada.
func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": "secret"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	for _, ck := range resp.Cookies() {
		if ck.Name == DefaultCookieName {
			return ck.Value
		}
	}
	t.Fatal("no session cookie issued")
	return ""
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{Presets: memory.NewPresetStore()})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fluxflow_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/auth/check-session", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"Unauthorized"`)

	sid := ts.login(t)
	resp, body = ts.do(t, http.MethodGet, "/auth/check-session", nil, sid)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"loggedIn":true,"username":"ada"}`, string(body))

	resp, body = ts.do(t, http.MethodPost, "/auth/logout", nil, sid)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"logged out"}`, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/auth/check-session", nil, sid)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_Rejected(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"InvalidCredentials"`)
	assert.Empty(t, resp.Cookies())

	resp, _ = ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_RotatesSession(t *testing.T) {
	ts := newTestServer(t)
	first := ts.login(t)

	resp, body := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": "secret"}, first)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/auth/check-session", nil, first)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "previous session is dropped")
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/auth/ping", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"database":"ok"}`, string(body))
}

func TestUpstreamErrorsKeepDetails(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.login(t)

	resp, body := ts.do(t, http.MethodGet, "/grafana/api/dashboards/uid/missing", nil, sid)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "NotFound", out["kind"])
	assert.Equal(t, map[string]any{"message": "Dashboard not found"}, out["details"])
}

func TestListBuckets(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/grafana/influxdb/buckets", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	sid := ts.login(t)
	resp, body := ts.do(t, http.MethodGet, "/grafana/influxdb/buckets", nil, sid)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"buckets":["telegraf"]}`, string(body))
}

func TestCompile(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/graph/compile", fluxflow.NewDefaultGraph("telemetry"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var outputs []fluxflow.Output
	require.NoError(t, json.Unmarshal(body, &outputs))
	assert.Equal(t, []fluxflow.Output{{
		OutputID: fluxflow.AnchorVisualisationID,
		Script:   "from(bucket: \"telemetry\") |> range(start: -1h)\n|> yield(name: \"visualisation\")",
	}}, outputs)
}

func TestCompile_BadBodies(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"not json", `{"nodes":`, http.StatusBadRequest, "ValidationError"},
		{"unknown kind", `{"nodes":[{"id":"0","kind":"table","data":{}}]}`, http.StatusBadRequest, "ValidationError"},
		{
			"unknown aggregate function",
			`{"nodes":[{"id":"2","kind":"aggregation","data":{"function":"mean) |> drop(columns: [\"x\"]"}}]}`,
			http.StatusBadRequest, "ValidationError",
		},
		{
			"range is not a duration",
			`{"nodes":[{"id":"0","kind":"source","data":{"bucket":"b","range":"1h) |> to(bucket: \"stolen\""}}]}`,
			http.StatusBadRequest, "ValidationError",
		},
		{
			"illegal edge",
			`{"nodes":[{"id":"0","kind":"source","data":{"bucket":"b"}}],"edges":[{"source":"0","target":"0"}]}`,
			http.StatusUnprocessableEntity, "ValidationError",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graph/compile", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := ts.s.App().Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			assert.Contains(t, string(body), `"kind":"`+tc.kind+`"`)
		})
	}
}

func TestValidateEdge(t *testing.T) {
	ts := newTestServer(t)
	g := fluxflow.NewDefaultGraph("telemetry")
	filter, err := g.AddNode(fluxflow.Filter{Key: "host", Value: "a"})
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodPost, "/graph/validate-edge", map[string]any{
		"graph": g, "source": fluxflow.AnchorSourceID, "target": filter,
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	resp, body = ts.do(t, http.MethodPost, "/graph/validate-edge", map[string]any{
		"graph": g, "source": fluxflow.AnchorVisualisationID, "target": filter,
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out struct {
		Kind    string            `json:"kind"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ValidationError", out.Kind)
	assert.Equal(t, map[string]string{
		"reason":     "illegal_kind_transition",
		"source":     fluxflow.AnchorVisualisationID,
		"target":     filter,
		"sourceKind": "visualisation",
		"targetKind": "filter",
	}, out.Details)

	_, body = ts.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Contains(t, string(body), `fluxflow_edge_rejections_total{reason="illegal_kind_transition"} 1`)

	resp, _ = ts.do(t, http.MethodPost, "/graph/validate-edge", map[string]any{"source": "0", "target": "1"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRun(t *testing.T) {
	ts := newTestServer(t)
	g := fluxflow.NewDefaultGraph("telegraf")

	resp, _ := ts.do(t, http.MethodPost, "/graph/run", map[string]any{"graph": g, "outputId": "1"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	sid := ts.login(t)
	resp, body := ts.do(t, http.MethodPost, "/graph/run", map[string]any{"graph": g, "outputId": "1"}, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		OutputID string               `json:"outputId"`
		Script   string               `json:"script"`
		Result   *gateway.QueryResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "1", out.OutputID)
	assert.Contains(t, out.Script, `from(bucket: "telegraf")`)
	require.NotNil(t, out.Result)
	assert.Equal(t, [][]any{{"telegraf"}}, out.Result.Frames[0].Data.Values)

	resp, _ = ts.do(t, http.MethodPost, "/graph/run", map[string]any{"graph": g, "outputId": "9"}, sid)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	tampered := json.RawMessage(`{
		"nodes": [
			{"id": "0", "kind": "source", "data": {"bucket": "telegraf", "range": "1h) |> to(bucket: \"stolen\""}},
			{"id": "1", "kind": "visualisation", "data": {}}
		],
		"edges": [{"source": "0", "target": "1"}]
	}`)
	resp, body = ts.do(t, http.MethodPost, "/graph/run", map[string]any{"graph": tampered, "outputId": "1"}, sid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"kind":"ValidationError"`)
}

func TestPresets_RequireSession(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/presets", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/presets", nil, "forged")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPresets_Lifecycle(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.login(t)

	g := fluxflow.NewDefaultGraph("telegraf")
	filter, err := g.AddNode(fluxflow.Filter{Key: "_measurement", Value: "cpu"})
	require.NoError(t, err)
	require.NoError(t, g.RemoveEdge(fluxflow.AnchorSourceID, fluxflow.AnchorVisualisationID))
	_, err = g.AddEdge(fluxflow.AnchorSourceID, filter)
	require.NoError(t, err)
	_, err = g.AddEdge(filter, fluxflow.AnchorVisualisationID)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodPost, "/presets", map[string]any{"id": "cpu", "label": "CPU", "graph": g}, sid)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/presets", map[string]any{"graph": g}, sid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/presets", nil, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []fluxflow.Preset
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "CPU", list[0].Label)
	assert.Len(t, list[0].Nodes, 3)

	resp, body = ts.do(t, http.MethodPost, "/presets/cpu/load", nil, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	loaded := fluxflow.NewGraph()
	require.NoError(t, json.Unmarshal(body, loaded))
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, g.Compile(), loaded.Compile())

	resp, body = ts.do(t, http.MethodPost, "/presets/cpu/merge", fluxflow.NewDefaultGraph("other"), sid)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var merged struct {
		Graph json.RawMessage   `json:"graph"`
		IDMap map[string]string `json:"idMap"`
	}
	require.NoError(t, json.Unmarshal(body, &merged))
	assert.Equal(t, map[string]string{filter: "2"}, merged.IDMap)
	mg := fluxflow.NewGraph()
	require.NoError(t, json.Unmarshal(merged.Graph, mg))
	assert.Equal(t, 3, mg.Len())

	resp, _ = ts.do(t, http.MethodDelete, "/presets/cpu", nil, sid)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	for _, path := range []string{"/presets/cpu", "/presets/cpu/load"} {
		method := http.MethodGet
		if path == "/presets/cpu/load" {
			method = http.MethodPost
		}
		resp, body = ts.do(t, method, path, nil, sid)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Contains(t, string(body), `"kind":"NotFound"`)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/presets/cpu", nil, sid)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "error")
}
