package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dairui1/vdt/internal/config"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/service"
	"github.com/dairui1/vdt/internal/store"
)

type envelope struct {
	IsError bool            `json:"isError"`
	Message string          `json:"message"`
	Hint    string          `json:"hint"`
	Data    json.RawMessage `json:"data"`
}

type staticDriver struct{}

func (staticDriver) Execute(context.Context, model.ReasonerTask, reasoner.ExecContext) (*model.ReasonerResult, error) {
	return &model.ReasonerResult{
		Insights:  []model.Insight{{Title: "pool exhausted", Evidence: []string{}, Confidence: 0.5}},
		Suspects:  []model.SuspectRef{},
		NextSteps: []string{},
	}, nil
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	root := t.TempDir()
	st, err := store.New(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := reasoner.NewRegistry(logging.Discard())
	reg.Add("codex", staticDriver{})
	zero := 0
	svc, err := service.New(service.Options{
		Root:       root,
		Store:      st,
		MaxRetries: &zero,
		Reasoners:  config.DefaultReasoners(),
		Registry:   reg,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	srv := New(svc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, env
}

func writeCapture(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		level := "info"
		if i%2 == 0 {
			level = "error"
		}
		fmt.Fprintf(&sb, `{"ts":%d,"level":%q,"module":"db","func":"query","msg":"q%d","kv":{}}`+"\n", i*500, level, i)
	}
	path := filepath.Join(t.TempDir(), "capture.ndjson")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/sessions", service.StartRequest{Capture: writeCapture(t)})
	if status != http.StatusCreated || env.IsError {
		t.Fatalf("start session: %d %+v", status, env)
	}
	var info service.SessionInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatal(err)
	}
	return info.ID
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestSessions(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)

	status, env := do(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+sid, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, %+v", status, env)
	}
	var info service.SessionInfo
	json.Unmarshal(env.Data, &info)
	if info.ID != sid || info.Capture == "" {
		t.Errorf("info = %+v", info)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/sessions?limit=5", nil)
	var list []model.Session
	json.Unmarshal(env.Data, &list)
	if status != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %v", status, list)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/sessions?limit=abc", nil)
	if status != http.StatusBadRequest || !env.IsError {
		t.Errorf("bad limit = %d %+v", status, env)
	}
}

func TestSessionNotFound(t *testing.T) {
	_, ts := testServer(t)
	status, env := do(t, http.MethodGet, ts.URL+"/api/v1/sessions/nope/chunks", nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	if !env.IsError || env.Hint != fault.Hint(fault.SessionNotFound) {
		t.Errorf("envelope = %+v", env)
	}
}

func TestAnalyzeAndChunks(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)

	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid+"/analyze", nil)
	if status != http.StatusOK || env.IsError {
		t.Fatalf("analyze = %d %+v", status, env)
	}
	var res service.AnalyzeResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Findings.TotalEvents != 8 || !strings.HasSuffix(res.Report, "/analysis/buglens.md") {
		t.Errorf("analyze = %+v", res)
	}

	status, env = do(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid+"/analyze", model.Focus{Module: "nothing"})
	json.Unmarshal(env.Data, &res)
	if status != http.StatusOK || len(res.Findings.Chunks) != 0 {
		t.Errorf("focused analyze = %d %+v", status, res.Findings)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+sid+"/chunks", nil)
	var chunks service.ChunksResult
	json.Unmarshal(env.Data, &chunks)
	if status != http.StatusOK || len(chunks.Chunks) == 0 {
		t.Errorf("chunks = %d %+v", status, chunks)
	}
}

func TestClarify(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)
	url := ts.URL + "/api/v1/sessions/" + sid + "/clarify"

	status, env := do(t, http.MethodPost, url, map[string]any{"selected_ids": []string{"function_db_query"}, "notes": "n"})
	if status != http.StatusOK || env.IsError {
		t.Fatalf("clarify = %d %+v", status, env)
	}

	status, env = do(t, http.MethodPost, url, map[string]any{"selected_ids": []string{"function_db_quer"}})
	if status != http.StatusBadRequest || !env.IsError || !strings.Contains(env.Hint, "function_db_query") {
		t.Errorf("unknown id = %d %+v", status, env)
	}

	status, _ = do(t, http.MethodPost, url, "{bad")
	if status != http.StatusBadRequest {
		t.Errorf("bad body status = %d", status)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+sid+"/errors", nil)
	var errs []model.SessionError
	json.Unmarshal(env.Data, &errs)
	if status != http.StatusOK || len(errs) != 1 || errs[0].Tool != "clarify" {
		t.Errorf("errors = %d %+v", status, errs)
	}
}

func TestScore(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)
	status, env := do(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+sid+"/score", nil)
	var res service.ScoreResult
	json.Unmarshal(env.Data, &res)
	if status != http.StatusOK || !res.HasArtifacts || res.Score < 0 || res.Score > 1 {
		t.Errorf("score = %d %+v", status, res)
	}
}

func TestReasonAndHistory(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)

	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid+"/reason", map[string]any{"task": model.TaskProposePatch})
	if status != http.StatusOK || env.IsError {
		t.Fatalf("reason = %d %+v", status, env)
	}
	var out reasoner.Outcome
	json.Unmarshal(env.Data, &out)
	if out.Backend != "codex" || out.Result == nil || out.Result.Insights[0].Title != "pool exhausted" {
		t.Errorf("outcome = %+v", out)
	}

	status, env = do(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid+"/reason", map[string]any{"task": "summarize"})
	if status != http.StatusBadRequest || !env.IsError {
		t.Errorf("bad task = %d %+v", status, env)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/backends/history?sid="+sid, nil)
	var hist service.HistoryResult
	json.Unmarshal(env.Data, &hist)
	if status != http.StatusOK || len(hist.Attempts) != 1 || hist.Stats[0].Backend != "codex" {
		t.Errorf("history = %d %+v", status, hist)
	}

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/backends/history?since=yesterday", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad since status = %d", status)
	}
}

func TestBackends(t *testing.T) {
	_, ts := testServer(t)
	status, env := do(t, http.MethodGet, ts.URL+"/api/v1/backends", nil)
	var res service.BackendsResult
	json.Unmarshal(env.Data, &res)
	if status != http.StatusOK || len(res.Backends) != 3 {
		t.Fatalf("backends = %d %+v", status, res)
	}
	if res.Backends[0].Name != "codex" || !res.Backends[0].Loaded {
		t.Errorf("codex = %+v", res.Backends[0])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code fault.Code
		want int
	}{
		{fault.SessionNotFound, http.StatusNotFound},
		{fault.InvalidInput, http.StatusBadRequest},
		{fault.MalformedRecord, http.StatusUnprocessableEntity},
		{fault.BackendTimeout, http.StatusGatewayTimeout},
		{fault.BackendExhausted, http.StatusBadGateway},
		{fault.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := statusFor(fault.New(tt.code, "x")); got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestShutdown(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEndSession(t *testing.T) {
	_, ts := testServer(t)
	sid := startSession(t, ts)

	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid+"/end", map[string]any{"conclusion": "query timeout"})
	if status != http.StatusOK || env.IsError {
		t.Fatalf("end: %d %+v", status, env)
	}
	var res service.EndResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Conclusion != "query timeout" || res.SummaryLink != "vdt://sessions/"+sid+"/analysis/summary.md" {
		t.Errorf("end result = %+v", res)
	}
	if _, err := os.Stat(res.SummaryPath); err != nil {
		t.Errorf("summary not written: %v", err)
	}

	status, env = do(t, http.MethodPost, ts.URL+"/api/v1/sessions/nope/end", nil)
	if status != http.StatusNotFound || !env.IsError {
		t.Errorf("missing session: %d %+v", status, env)
	}
}
