package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the mapped body. A key with
// a leading status like "409 POST /x" sets the response code.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}
		if resp, ok := responses["409 "+key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func init() {
	noColor = true
}

func TestLikeCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/like": `{"status":"recorded","likes_since_last_retrain":3,"threshold":25}`,
	})

	err := sendLike(ctx, ts.client(), map[string]any{"record_id": "recA", "structure_id": "recS"})
	if err != nil {
		t.Fatalf("sendLike: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Method != "POST" || req.Path != "/events/like" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", req.Auth)
	}

	var body map[string]any
	json.Unmarshal([]byte(req.Body), &body)
	if body["record_id"] != "recA" || body["structure_id"] != "recS" {
		t.Errorf("body = %v", body)
	}
}

func TestLikeCommand_NoTokenNoAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/like": `{"status":"recorded"}`,
	})
	client := ts.client()
	client.token = ""

	if err := sendLike(ctx, client, map[string]any{}); err != nil {
		t.Fatalf("sendLike: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestBatchCommand_PrintsSummary(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/daily_batch": `{"success":true,"retrain_triggered":false,"ideas_generated":3,"prompts_generated":30,"prompts_written":30,"summary":"3 new structure ideas generated. 30 prompts created."}`,
	})

	var out bytes.Buffer
	if err := runBatch(ctx, ts.client(), &out, true, false); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if !strings.Contains(out.String(), "30 prompts created") {
		t.Errorf("output = %q, want summary", out.String())
	}

	var body map[string]any
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["force_retrain"] != true {
		t.Errorf("force_retrain = %v, want true", body["force_retrain"])
	}
}

func TestBatchCommand_Failure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/daily_batch": `{"success":false,"error":"strategist: server returned 500"}`,
	})

	var out bytes.Buffer
	if err := runBatch(ctx, ts.client(), &out, false, false); err == nil {
		t.Fatal("expected error for failed batch")
	}
}

func TestBatchCommand_InProgressIsNotAnError(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/daily_batch": `{"success":false,"in_progress":true,"summary":"Retrain in progress. Try again later."}`,
	})

	var out bytes.Buffer
	if err := runBatch(ctx, ts.client(), &out, false, false); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
}

func TestBatchCommand_JSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/daily_batch": `{"success":true,"run_id":"run-1"}`,
	})

	var out bytes.Buffer
	if err := runBatch(ctx, ts.client(), &out, false, true); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got["run_id"] != "run-1" {
		t.Errorf("run_id = %v", got["run_id"])
	}
}

func TestGenerateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/manual_generate": `{"success":true,"prompts_generated":20,"prompts_written":20,"renderer":"Midjourney"}`,
	})

	err := runGenerate(ctx, ts.client(), map[string]any{"num_prompts": 20, "renderer": "Midjourney"})
	if err != nil {
		t.Fatalf("runGenerate: %v", err)
	}

	var body map[string]any
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["num_prompts"] != float64(20) || body["renderer"] != "Midjourney" {
		t.Errorf("body = %v", body)
	}
}

func TestGenerateCommand_Failure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /events/manual_generate": `{"success":false,"error":"generate: server returned 502"}`,
	})

	if err := runGenerate(ctx, ts.client(), map[string]any{"num_prompts": 5}); err == nil {
		t.Fatal("expected error for failed generation")
	}
}

func TestRetrainCommand_Conflict(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"409 POST /trigger_retrain": `{"error":{"message":"Retrain already in progress","type":"conflict"}}`,
	})

	err := triggerRetrain(ctx, ts.client())
	if err == nil {
		t.Fatal("expected error on conflict")
	}
	if !strings.Contains(err.Error(), "Retrain already in progress") {
		t.Errorf("error = %v, want server message", err)
	}
}

func TestRetrainCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /trigger_retrain": `{"status":"triggered","message":"Learning cycle started in background"}`,
	})

	if err := triggerRetrain(ctx, ts.client()); err != nil {
		t.Fatalf("triggerRetrain: %v", err)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestScoresCommand_SortedByScore(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /scores": `{"scores":{"low":0.1,"high":0.9,"mid":0.5},"is_fresh":true,"count":3}`,
	})

	var out bytes.Buffer
	if err := showScores(ctx, ts.client(), &out); err != nil {
		t.Fatalf("showScores: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d:\n%s", len(lines), out.String())
	}
	for i, want := range []string{"high", "mid", "low"} {
		if !strings.HasPrefix(lines[i+1], want) {
			t.Errorf("row %d = %q, want prefix %q", i, lines[i+1], want)
		}
	}
}

func TestScoresCommand_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /scores": `{"scores":{},"is_fresh":false,"count":0}`,
	})

	var out bytes.Buffer
	if err := showScores(ctx, ts.client(), &out); err != nil {
		t.Fatalf("showScores: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no table output, got %q", out.String())
	}
}

func TestResetCounterCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /reset_counter": `{"status":"reset","previous_count":7,"likes_since_last_retrain":0}`,
	})

	if err := resetCounter(ctx, ts.client()); err != nil {
		t.Fatalf("resetCounter: %v", err)
	}
	if ts.requests[0].Path != "/reset_counter" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestDecodeJSON_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var v map[string]any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404: not found") {
		t.Errorf("error = %v, want 404 with message", err)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "orchestrator.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestColorize_NoColor(t *testing.T) {
	if got := colorize(colorRed, "plain"); got != "plain" {
		t.Errorf("colorize = %q, want plain text", got)
	}
}
