package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// chatServer answers every completion request with reply and records the requests.
type chatServer struct {
	mu       sync.Mutex
	requests []ChatRequest
	reply    string
	status   int
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.status != 0 {
		http.Error(w, "upstream down", s.status)
		return
	}
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": s.reply}}},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, srv *chatServer) *OpenAIClient {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = ts.URL + "/"
	cfg.APIKey = "sk-test"
	cfg.RequestsPerSecond = 0
	return NewClient(cfg)
}

func TestChat(t *testing.T) {
	srv := &chatServer{reply: "hello"}
	c := newTestClient(t, srv)

	got, err := c.Chat(context.Background(), "sys", "hi", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("reply = %q", got)
	}
	req := srv.requests[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Temperature != 0.3 || req.Stream {
		t.Errorf("unexpected request %+v", req)
	}

	srv.status = http.StatusBadGateway
	if _, err := c.Chat(context.Background(), "", "hi", 0); err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := &chatServer{reply: "ok"}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := Config{BaseURL: ts.URL, APIKey: "sk-test", RequestsPerSecond: 0.001, Burst: 1}
	c := NewClient(cfg)
	if _, err := c.Chat(context.Background(), "", "first", 0); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Chat(ctx, "", "second", 0); err == nil {
		t.Error("second call should be throttled past the deadline")
	}
	if len(srv.requests) != 1 {
		t.Errorf("server saw %d requests, want 1", len(srv.requests))
	}
}

func TestParseCandidates(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
		k     int
		want  []string
	}{
		{"JSONArray", `["a", "b", "c"]`, 2, []string{"a", "b"}},
		{"Fenced", "```json\n[\"first idea\", \"second idea\"]\n```", 3, []string{"first idea", "second idea"}},
		{"FencedNoTag", "```\n[\"x\"]\n```", 3, []string{"x"}},
		{"Lines", "1. check the edges\n2) try small cases\n- give up", 5, []string{"check the edges", "try small cases", "give up"}},
		{"DropsBlanks", `["  ", "kept"]`, 5, []string{"kept"}},
		{"NonStringItems", `[{"step": 1}]`, 5, []string{`{"step":1}`}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseCandidates(tc.reply, tc.k); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseCandidates = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseValueScore(t *testing.T) {
	v, err := ParseValueScore("Sure!\n```json\n{\"progress\": 7, \"promise\": 12, \"confidence\": -1, \"justification\": \"ok\"}\n```")
	if err != nil {
		t.Fatal(err)
	}
	want := tot.ValueScore{Progress: 7, Promise: 10, Confidence: 0, Justification: "ok"}
	if v != want {
		t.Errorf("ParseValueScore = %+v, want %+v", v, want)
	}

	for _, bad := range []string{"no json here", `{"progress": 1}`, `{"progress": "high"}`} {
		if _, err := ParseValueScore(bad); err == nil {
			t.Errorf("ParseValueScore(%q) should fail", bad)
		}
	}
}

// scriptedClient returns canned replies and remembers the last prompt.
type scriptedClient struct {
	reply      string
	err        error
	lastPrompt string
	lastTemp   float64
}

func (c *scriptedClient) Chat(ctx context.Context, systemPrompt, userQuery string, temperature float64) (string, error) {
	c.lastPrompt, c.lastTemp = userQuery, temperature
	return c.reply, c.err
}

func TestThinker(t *testing.T) {
	client := &scriptedClient{reply: `["go left", "go right", "wait"]`}
	th := NewThinker(client, 0.7, 0.2)
	task := tot.Task{Instruction: "escape the maze"}
	path := "escape the maze" + tot.PathSeparator + "look around"

	got, err := th.Propose(context.Background(), task, path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"go left", "go right"}) {
		t.Errorf("Propose = %q", got)
	}
	if !strings.HasPrefix(client.lastPrompt, "Task:\nescape the maze\n") || !strings.Contains(client.lastPrompt, "none") || client.lastTemp != 0.7 {
		t.Errorf("propose prompt = %q (temp %v)", client.lastPrompt, client.lastTemp)
	}

	client.reply = "I cannot score this"
	v, err := th.Score(context.Background(), task, "go left", path)
	if err != nil {
		t.Fatalf("malformed verdict must not fail: %v", err)
	}
	if v.Progress != 0 || !strings.HasPrefix(v.Justification, "parsing error") {
		t.Errorf("Score = %+v", v)
	}

	client.reply = "  Take the left corridor.  "
	answer, err := th.Synthesize(context.Background(), tot.Task{Instruction: "escape the maze"}, []string{"escape the maze", "go left"})
	if err != nil || answer != "Take the left corridor." || client.lastTemp != 0 {
		t.Errorf("Synthesize = %q, %v (temp %v)", answer, err, client.lastTemp)
	}

	client.err = errors.New("offline")
	if _, err := th.Propose(context.Background(), task, path, 2); !errors.Is(err, client.err) {
		t.Errorf("transport errors must propagate: %v", err)
	}
}

func TestThinkerKeepsInstructionWithArrows(t *testing.T) {
	client := &scriptedClient{reply: `["normalize the graph"]`}
	th := NewThinker(client, 0.7, 0.2)
	task := tot.Task{Instruction: "map A -> B -> C onto a DAG", Constraints: "no cycles"}
	path := task.Instruction + tot.PathSeparator + "list the edges"

	if _, err := th.Propose(context.Background(), task, path, 1); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(client.lastPrompt, "Task:\n"+task.Instruction+"\n") || !strings.Contains(client.lastPrompt, "no cycles") {
		t.Errorf("propose prompt = %q", client.lastPrompt)
	}

	client.reply = `{"progress": 5, "promise": 5, "confidence": 5}`
	if _, err := th.Score(context.Background(), task, "list the edges", path); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(client.lastPrompt, "Task:\n"+task.Instruction+"\n") {
		t.Errorf("value prompt = %q", client.lastPrompt)
	}
}

func TestOfflineClientYieldsNoCandidates(t *testing.T) {
	th := NewThinker(OfflineClient{}, 0.7, 0.2)
	got, err := th.Propose(context.Background(), tot.Task{Instruction: "task"}, "task", 3)
	if err != nil || len(got) != 0 {
		t.Errorf("Propose = %q, %v", got, err)
	}
}
