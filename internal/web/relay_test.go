package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"regcollab/internal/config"
	"regcollab/internal/identity"
	"regcollab/internal/store"
)

// fakeSubmitter scripts per-agent replies and records what each agent was
// asked. Safe for concurrent use: relay sessions run in a goroutine.
type fakeSubmitter struct {
	mu      sync.Mutex
	replies map[string][]string
	asked   map[string][]string
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{replies: map[string][]string{}, asked: map[string][]string{}}
}

func (f *fakeSubmitter) Submit(_ context.Context, rec *identity.Record, _, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked[rec.Name] = append(f.asked[rec.Name], message)
	queue := f.replies[rec.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted reply for %s", rec.Name)
	}
	reply := queue[0]
	f.replies[rec.Name] = queue[1:]
	return reply, nil
}

func (f *fakeSubmitter) askCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.asked[name])
}

func newTestServer(t *testing.T, exec *fakeSubmitter) (*Server, *http.ServeMux) {
	t.Helper()
	dir := t.TempDir()

	db, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	statePath := filepath.Join(dir, "agents.json")
	state := `{
		"Liam_Patel": {"name": "Liam_Patel", "agent_id": "a1", "thread_id": "t1"},
		"Sophia_Chen": {"name": "Sophia_Chen", "agent_id": "a2", "thread_id": "t2"}
	}`
	if err := os.WriteFile(statePath, []byte(state), 0o644); err != nil {
		t.Fatalf("write identity state: %v", err)
	}
	agents, err := identity.NewStore(config.IdentityConfig{Path: statePath}, nil, "gpt-4o")
	if err != nil {
		t.Fatalf("failed to create identity store: %v", err)
	}

	srv := NewServer(db, nil, agents, exec, nil, nil, config.WebConfig{}, "test")
	mux := http.NewServeMux()
	srv.registerAPI(mux)
	return srv, mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestRelayEndpointGateAndPersistence(t *testing.T) {
	exec := newFakeSubmitter()
	exec.replies["Liam_Patel"] = []string{"initial analysis", "answer one"}
	exec.replies["Sophia_Chen"] = []string{"seed ack", "follow-up one"}

	srv, mux := newTestServer(t, exec)

	rec := postJSON(t, mux, "/api/relays", `{
		"a": "Liam_Patel", "b": "Sophia_Chen",
		"opening_question": "open question", "seed": "seed text",
		"questions": ["what about scope?"]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create relay: status %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != "awaiting_approval" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	// A's opening turn runs, then the session parks at the gate: B must
	// not be touched until approval.
	waitFor(t, "A's opening turn", func() bool { return exec.askCount("Liam_Patel") == 1 })
	if exec.askCount("Sophia_Chen") != 0 {
		t.Fatal("B must not run before the gate approves")
	}

	rec = postJSON(t, mux, "/api/relays/"+created.ID+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d, body %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "session completion", func() bool {
		sess, err := srv.store.GetSession(created.ID)
		return err == nil && sess != nil && sess.Status == "completed"
	})

	sess, err := srv.store.GetSession(created.ID)
	if err != nil || sess == nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Kind != "relay" {
		t.Errorf("expected relay kind, got %q", sess.Kind)
	}
	if sess.Output != "follow-up one" {
		t.Errorf("expected the last answer as output, got %q", sess.Output)
	}

	messages, err := srv.store.GetSessionMessages(created.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 persisted turns, got %d", len(messages))
	}
	if messages[0].Speaker != "Liam_Patel" || messages[1].Speaker != "Sophia_Chen" {
		t.Errorf("unexpected turn order: %s, %s", messages[0].Speaker, messages[1].Speaker)
	}
}

func TestRelayEndpointValidation(t *testing.T) {
	srv, mux := newTestServer(t, newFakeSubmitter())

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing fields", `{"a": "Liam_Patel"}`, http.StatusBadRequest},
		{"same agents", `{"a": "Liam_Patel", "b": "Liam_Patel", "opening_question": "q", "seed": "s"}`, http.StatusBadRequest},
		{"unknown strategy", `{"a": "Liam_Patel", "b": "Sophia_Chen", "opening_question": "q", "seed": "s", "strategy": "bogus"}`, http.StatusBadRequest},
		{"unknown agent", `{"a": "Nobody", "b": "Sophia_Chen", "opening_question": "q", "seed": "s"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(t, mux, "/api/relays", tt.body); rec.Code != tt.code {
				t.Errorf("status %d, want %d", rec.Code, tt.code)
			}
		})
	}

	if rec := postJSON(t, mux, "/api/relays/nope/approve", ""); rec.Code != http.StatusNotFound {
		t.Errorf("approve of unknown relay: status %d, want 404", rec.Code)
	}

	srv.exec = nil
	if rec := postJSON(t, mux, "/api/relays", `{"a": "Liam_Patel", "b": "Sophia_Chen", "opening_question": "q", "seed": "s"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without executor: status %d, want 503", rec.Code)
	}
}
