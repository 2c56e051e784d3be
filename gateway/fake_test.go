package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fluxflow/gateway"
	"github.com/meikuraledutech/fluxflow/memory"
)

const testCredential = "grafana_session=abc123; grafana_session_expiry=1700000000"

// fakeGrafana is an in-process stand-in for the upstream dashboard service.
// It records every call and serves the handlers registered on mux.
type fakeGrafana struct {
	srv *httptest.Server
	mux *http.ServeMux

	mu      sync.Mutex
	calls   []string
	scripts []string
	saved   []map[string]any

	// onQuery answers /api/ds/query for one script with a status and the
	// values of a single-column frame.
	onQuery func(script string) (int, []any)
	// onSave, when set, answers /api/dashboards/db instead of the default
	// success document.
	onSave func(body map[string]any) (int, any)
}

func newFakeGrafana(t *testing.T) *fakeGrafana {
	t.Helper()
	f := &fakeGrafana{mux: http.NewServeMux()}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	f.mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["user"] != "ada" || body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid username or password"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "grafana_session", Value: "abc123"})
		http.SetCookie(w, &http.Cookie{Name: "grafana_session_expiry", Value: "1700000000"})
		http.SetCookie(w, &http.Cookie{Name: "redirect_to", Value: ""})
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in"})
	})
	f.mux.HandleFunc("GET /api/datasources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "uid": "prom-uid", "name": "Prometheus", "type": "prometheus"},
			{"id": 2, "uid": "influx-uid", "name": "InfluxDB", "type": "influxdb"},
		})
	})
	f.mux.HandleFunc("POST /api/ds/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Queries []struct {
				RefID      string            `json:"refId"`
				Datasource map[string]string `json:"datasource"`
				Query      string            `json:"query"`
			} `json:"queries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Queries) != 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad query"})
			return
		}
		q := req.Queries[0]
		f.mu.Lock()
		f.scripts = append(f.scripts, q.Query)
		f.mu.Unlock()

		status, values := http.StatusOK, []any{}
		if f.onQuery != nil {
			status, values = f.onQuery(q.Query)
		}
		if status != http.StatusOK {
			writeJSON(w, status, map[string]string{"message": "query failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": map[string]any{
				q.RefID: map[string]any{
					"frames": []any{map[string]any{"data": map[string]any{"values": []any{values}}}},
				},
			},
		})
	})
	f.mux.HandleFunc("POST /api/dashboards/db", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.saved = append(f.saved, body)
		f.mu.Unlock()
		if f.onSave != nil {
			status, out := f.onSave(body)
			writeJSON(w, status, out)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "uid": "new-uid", "version": 1})
	})
	return f
}

func (f *fakeGrafana) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGrafana) seenScripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

func (f *fakeGrafana) lastSaved(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.saved, "no dashboard was saved")
	return f.saved[len(f.saved)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recordedCall struct {
	op     string
	status int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) ObserveUpstream(op string, status int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{op: op, status: status})
}

type harness struct {
	f        *fakeGrafana
	gw       *gateway.Gateway
	sessions *memory.SessionStore
	rec      *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := newFakeGrafana(t)
	rec := &fakeRecorder{}
	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:  f.srv.URL,
		Timeout:  5 * time.Second,
		Recorder: rec,
	})
	require.NoError(t, err)
	sessions := memory.NewSessionStore(0)
	gw, err := gateway.New(gateway.Config{Client: client, Sessions: sessions})
	require.NoError(t, err)
	return &harness{f: f, gw: gw, sessions: sessions, rec: rec}
}

// bind stores a credential for sid without going through login.
func (h *harness) bind(t *testing.T, sid string) {
	t.Helper()
	require.NoError(t, h.sessions.Set(t.Context(), sid, gateway.Binding{Credential: testCredential, Username: "ada"}))
}
