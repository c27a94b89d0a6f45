package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"regcollab/internal/config"
	"regcollab/internal/remote"
)

// fakeService counts remote calls so tests can assert what Ensure did and
// did not touch.
type fakeService struct {
	mu            sync.Mutex
	agents        int
	updates       int
	threads       int
	uploads       []string
	vectorStores  int
	failUpload    bool
	failCreate    bool
	lastResources *remote.ToolResources
}

func (f *fakeService) CreateAgent(_ context.Context, params remote.AgentParams) (*remote.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, errors.New("create refused")
	}
	f.agents++
	return &remote.Agent{ID: fmt.Sprintf("agent-%d", f.agents), Name: params.Name}, nil
}

func (f *fakeService) UpdateAgent(_ context.Context, agentID string, _ []remote.ToolDefinition, resources *remote.ToolResources) (*remote.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.lastResources = resources
	return &remote.Agent{ID: agentID}, nil
}

func (f *fakeService) CreateThread(context.Context) (*remote.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return &remote.Thread{ID: fmt.Sprintf("thread-%d", f.threads)}, nil
}

func (f *fakeService) CreateMessage(context.Context, string, string, string) (*remote.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) ListMessages(context.Context, string) ([]remote.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) CreateRun(context.Context, string, string) (*remote.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) GetRun(context.Context, string, string) (*remote.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) UploadFile(_ context.Context, path string) (*remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return nil, errors.New("upload refused")
	}
	f.uploads = append(f.uploads, path)
	return &remote.File{ID: "file-" + filepath.Base(path)}, nil
}

func (f *fakeService) CreateVectorStore(_ context.Context, name string, fileIDs []string) (*remote.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorStores++
	return &remote.VectorStore{ID: fmt.Sprintf("vs-%d", f.vectorStores), Name: name}, nil
}

func newTestStore(t *testing.T, svc remote.AgentService) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(config.IdentityConfig{Path: filepath.Join(dir, "agents.json")}, svc, "gpt-4o")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestEnsureCreatesOnce(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	rec, err := s.Ensure(ctx, "Liam_Patel", "sme role", nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if rec.AgentID == "" || rec.ThreadID == "" {
		t.Errorf("expected remote ids on record, got %+v", rec)
	}

	// Same name, same (empty) document set: no remote traffic.
	again, err := s.Ensure(ctx, "Liam_Patel", "sme role", nil)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.AgentID != rec.AgentID || again.ThreadID != rec.ThreadID {
		t.Error("re-ensure must return the same identity")
	}
	if svc.agents != 1 || svc.threads != 1 {
		t.Errorf("expected exactly one create, got %d agents, %d threads", svc.agents, svc.threads)
	}
}

func TestEnsureWithDocuments(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)

	rec, err := s.Ensure(context.Background(), "Liam_Patel", "sme role", []string{"docs/b.pdf", "docs/a.pdf", "docs/b.pdf"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if rec.VectorStoreID == "" {
		t.Error("expected a vector store id")
	}
	// Sorted, de-duplicated.
	if len(rec.Documents) != 2 || rec.Documents[0] != "docs/a.pdf" || rec.Documents[1] != "docs/b.pdf" {
		t.Errorf("unexpected document set: %v", rec.Documents)
	}
	if len(svc.uploads) != 2 {
		t.Errorf("expected 2 uploads, got %v", svc.uploads)
	}
}

func TestEnsureRegrounds(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	first, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/a.pdf"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	second, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/c.pdf"})
	if err != nil {
		t.Fatalf("reground: %v", err)
	}

	// Identity is preserved; the grounding set is the merged union.
	if second.AgentID != first.AgentID || second.ThreadID != first.ThreadID {
		t.Error("regrounding must not mint a new identity")
	}
	if second.VectorStoreID == first.VectorStoreID {
		t.Error("regrounding must build a fresh index")
	}
	if len(second.Documents) != 2 || second.Documents[0] != "docs/a.pdf" || second.Documents[1] != "docs/c.pdf" {
		t.Errorf("unexpected merged set: %v", second.Documents)
	}
	if svc.updates != 1 {
		t.Errorf("expected one agent update, got %d", svc.updates)
	}
	// The whole merged set is re-uploaded for the new index.
	if len(svc.uploads) != 3 {
		t.Errorf("expected 3 uploads total, got %v", svc.uploads)
	}
	if svc.lastResources == nil || svc.lastResources.FileSearch == nil ||
		len(svc.lastResources.FileSearch.VectorStoreIDs) != 1 ||
		svc.lastResources.FileSearch.VectorStoreIDs[0] != second.VectorStoreID {
		t.Error("update must attach the new vector store")
	}
}

func TestEnsureSubsetIsNoOp(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/a.pdf", "docs/b.pdf"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	before := svc.vectorStores

	// A subset of the stored grounding adds nothing: no rebuild.
	if _, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/a.pdf"}); err != nil {
		t.Fatalf("ensure subset: %v", err)
	}
	if svc.vectorStores != before {
		t.Error("subset request must not rebuild the index")
	}
}

func TestEnsureBasenameConflict(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"q1/report.pdf"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	_, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"q2/report.pdf"})
	var gErr *GroundingError
	if !errors.As(err, &gErr) {
		t.Fatalf("expected *GroundingError, got %v", err)
	}
	if gErr.Agent != "Liam_Patel" {
		t.Errorf("unexpected agent in error: %s", gErr.Agent)
	}

	// The stored record is untouched.
	rec, ok := s.Get("Liam_Patel")
	if !ok || len(rec.Documents) != 1 || rec.Documents[0] != "q1/report.pdf" {
		t.Errorf("prior grounding must survive a conflicting request, got %+v", rec)
	}
}

func TestEnsureRemoteFailureLeavesStateIntact(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/a.pdf"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	svc.failUpload = true
	if _, err := s.Ensure(ctx, "Liam_Patel", "sme role", []string{"docs/b.pdf"}); err == nil {
		t.Fatal("expected upload failure to surface")
	}

	rec, _ := s.Get("Liam_Patel")
	if len(rec.Documents) != 1 || rec.Documents[0] != "docs/a.pdf" {
		t.Errorf("failed reground must not change the record, got %v", rec.Documents)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	svc := &fakeService{}
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")

	s, err := NewStore(config.IdentityConfig{Path: path}, svc, "gpt-4o")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rec, err := s.Ensure(context.Background(), "Sophia_Chen", "analyst role", nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	reopened, err := NewStore(config.IdentityConfig{Path: path}, svc, "gpt-4o")
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.Get("Sophia_Chen")
	if !ok {
		t.Fatal("expected record after restart")
	}
	if got.AgentID != rec.AgentID || got.ThreadID != rec.ThreadID {
		t.Errorf("persisted record differs: %+v vs %+v", got, rec)
	}

	// The reopened store must not re-create on Ensure either.
	before := svc.agents
	if _, err := reopened.Ensure(context.Background(), "Sophia_Chen", "analyst role", nil); err != nil {
		t.Fatalf("ensure after restart: %v", err)
	}
	if svc.agents != before {
		t.Error("restart must not mint a new agent")
	}
}

func TestNewStoreRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(config.IdentityConfig{Path: path}, &fakeService{}, "gpt-4o"); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestListSorted(t *testing.T) {
	svc := &fakeService{}
	s := newTestStore(t, svc)
	ctx := context.Background()

	for _, name := range []string{"Sophia_Chen", "Ava_Thompson", "Liam_Patel"} {
		if _, err := s.Ensure(ctx, name, "role", nil); err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
	}

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[0].Name != "Ava_Thompson" || list[1].Name != "Liam_Patel" || list[2].Name != "Sophia_Chen" {
		t.Errorf("expected sorted order, got %v", []string{list[0].Name, list[1].Name, list[2].Name})
	}
}
