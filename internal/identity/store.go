package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"regcollab/internal/config"
	"regcollab/internal/remote"
)

// Record maps a logical agent name to its remote identity. Records are
// additive: agents are long-lived collaborators and are never deleted.
type Record struct {
	Name          string   `json:"name"`
	AgentID       string   `json:"agent_id"`
	ThreadID      string   `json:"thread_id"`
	VectorStoreID string   `json:"vector_store_id,omitempty"`
	Documents     []string `json:"documents,omitempty"`
	Role          string   `json:"role,omitempty"`
}

// GroundingError marks a grounding request that cannot be applied. The
// persisted prior state is left untouched when it is returned.
type GroundingError struct {
	Agent  string
	Reason string
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("grounding %s: %s", e.Agent, e.Reason)
}

// Store is the durable registry of agent identities. State lives in a
// single JSON file, loaded once at construction and rewritten after every
// mutation with write-to-temp-then-rename semantics.
type Store struct {
	path  string
	svc   remote.AgentService
	model string

	mu      sync.Mutex // guards records and the state file
	records map[string]*Record

	lockMu    sync.Mutex
	nameLocks map[string]*sync.Mutex
}

func NewStore(cfg config.IdentityConfig, svc remote.AgentService, model string) (*Store, error) {
	s := &Store{
		path:      cfg.Path,
		svc:       svc,
		model:     model,
		records:   make(map[string]*Record),
		nameLocks: make(map[string]*sync.Mutex),
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read identity state: %w", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parse identity state: %w", err)
	}
	for name, rec := range s.records {
		if rec.Name == "" {
			rec.Name = name
		}
	}
	return s, nil
}

// nameLock returns the mutex serializing grounding updates for one agent
// name. Different names may be grounded concurrently.
func (s *Store) nameLock(name string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[name] = l
	}
	return l
}

func (s *Store) Get(name string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, false
	}
	cp := *rec
	cp.Documents = append([]string(nil), rec.Documents...)
	return &cp, true
}

func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		cp.Documents = append([]string(nil), rec.Documents...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ensure makes sure a logical agent exists remotely and is grounded on the
// given documents. Re-invocation with an identical document set is a no-op;
// a changed set merges the documents and rebuilds the retrieval index on
// the existing agent identity. The prior record stays intact if any remote
// step fails.
func (s *Store) Ensure(ctx context.Context, name, role string, documents []string) (*Record, error) {
	l := s.nameLock(name)
	l.Lock()
	defer l.Unlock()

	existing, ok := s.Get(name)
	if !ok {
		return s.create(ctx, name, role, documents)
	}

	merged, err := mergeDocuments(name, existing.Documents, documents)
	if err != nil {
		return nil, err
	}
	if equalSets(merged, existing.Documents) {
		return existing, nil
	}
	return s.reground(ctx, existing, merged)
}

func (s *Store) create(ctx context.Context, name, role string, documents []string) (*Record, error) {
	merged, err := mergeDocuments(name, nil, documents)
	if err != nil {
		return nil, err
	}

	rec := &Record{Name: name, Role: role}

	params := remote.AgentParams{
		Name:         name,
		Model:        s.model,
		Instructions: role,
	}

	if len(merged) > 0 {
		vsID, err := s.buildIndex(ctx, name, merged)
		if err != nil {
			return nil, err
		}
		rec.VectorStoreID = vsID
		rec.Documents = merged
		params.Tools, params.ToolResources = remote.FileSearchTool(vsID)
	}

	agent, err := s.svc.CreateAgent(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", name, err)
	}
	rec.AgentID = agent.ID

	thread, err := s.svc.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread for %s: %w", name, err)
	}
	rec.ThreadID = thread.ID

	if err := s.commit(rec); err != nil {
		return nil, err
	}
	slog.Info("agent created", "name", name, "agent_id", rec.AgentID, "thread_id", rec.ThreadID, "documents", len(rec.Documents))
	return s.copyOf(rec), nil
}

func (s *Store) reground(ctx context.Context, existing *Record, merged []string) (*Record, error) {
	vsID, err := s.buildIndex(ctx, existing.Name, merged)
	if err != nil {
		return nil, err
	}

	tools, resources := remote.FileSearchTool(vsID)
	if _, err := s.svc.UpdateAgent(ctx, existing.AgentID, tools, resources); err != nil {
		return nil, fmt.Errorf("attach index to %s: %w", existing.Name, err)
	}

	// All remote calls succeeded, commit the fully merged state.
	rec := *existing
	rec.VectorStoreID = vsID
	rec.Documents = merged
	if err := s.commit(&rec); err != nil {
		return nil, err
	}
	slog.Info("agent regrounded", "name", rec.Name, "vector_store", vsID, "documents", len(merged))
	return s.copyOf(&rec), nil
}

// buildIndex uploads every document of the merged set and builds a fresh
// retrieval index over them.
func (s *Store) buildIndex(ctx context.Context, name string, documents []string) (string, error) {
	fileIDs := make([]string, 0, len(documents))
	for _, doc := range documents {
		f, err := s.svc.UploadFile(ctx, doc)
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", doc, err)
		}
		fileIDs = append(fileIDs, f.ID)
	}

	vs, err := s.svc.CreateVectorStore(ctx, name+"_vectorstore", fileIDs)
	if err != nil {
		return "", fmt.Errorf("build index for %s: %w", name, err)
	}
	return vs.ID, nil
}

func (s *Store) commit(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.records[rec.Name]
	s.records[rec.Name] = rec
	if err := s.persistLocked(); err != nil {
		// Roll the in-memory map back so memory and disk stay in sync.
		if hadPrev {
			s.records[rec.Name] = prev
		} else {
			delete(s.records, rec.Name)
		}
		return err
	}
	return nil
}

// persistLocked rewrites the whole state file. Callers hold s.mu.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".agents-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *Store) copyOf(rec *Record) *Record {
	cp := *rec
	cp.Documents = append([]string(nil), rec.Documents...)
	return &cp
}

// mergeDocuments combines the stored and requested sets into a sorted,
// de-duplicated list. Two different paths with the same base name cannot
// be indexed together and abort the merge.
func mergeDocuments(name string, stored, requested []string) ([]string, error) {
	seen := make(map[string]struct{})
	base := make(map[string]string)
	var merged []string

	for _, doc := range append(append([]string(nil), stored...), requested...) {
		if _, ok := seen[doc]; ok {
			continue
		}
		b := filepath.Base(doc)
		if prev, ok := base[b]; ok && prev != doc {
			return nil, &GroundingError{
				Agent:  name,
				Reason: fmt.Sprintf("conflicting paths for %s: %s vs %s", b, prev, doc),
			}
		}
		seen[doc] = struct{}{}
		base[b] = doc
		merged = append(merged, doc)
	}

	sort.Strings(merged)
	return merged, nil
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
