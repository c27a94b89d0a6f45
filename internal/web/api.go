package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"regcollab/internal/pipeline"
	"regcollab/internal/schedule"
	"regcollab/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agent identities
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{name}", s.getAgent)

	// Group sessions
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.getSessionMessages)

	// Two-party relays
	mux.HandleFunc("POST /api/relays", s.createRelay)
	mux.HandleFunc("POST /api/relays/{id}/approve", s.approveRelay)

	// Pipeline runs
	mux.HandleFunc("GET /api/pipelines", s.listPipelineRuns)
	mux.HandleFunc("POST /api/pipelines", s.createPipelineRun)
	mux.HandleFunc("GET /api/pipelines/{id}", s.getPipelineRun)

	// Scheduled tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.agents.List())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agents.Get(r.PathValue("name"))
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.groups == nil {
		jsonError(w, "no group roster configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Task == "" {
		jsonError(w, "task is required", http.StatusBadRequest)
		return
	}

	sessionID := uuid.New().String()
	if err := s.store.SaveSession(&store.Session{ID: sessionID, Kind: "group", Task: body.Task, Status: "running"}); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Use a background context so the session outlives the HTTP request.
	go func() {
		result, err := s.groups.RunSession(context.Background(), sessionID, body.Task)
		if err != nil {
			_ = s.store.CompleteSession(sessionID, "failed", "", err.Error())
			return
		}
		_ = s.store.CompleteSession(sessionID, "completed", result.Output, result.Reason)
	}()

	jsonResponse(w, map[string]string{"id": sessionID, "status": "running"})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sess)
}

func (s *Server) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.GetSessionMessages(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, messages)
}

func (s *Server) listPipelineRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListPipelineRuns(100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) createPipelineRun(w http.ResponseWriter, r *http.Request) {
	var item pipeline.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil || item.Project == "" || item.Schedule == "" {
		jsonError(w, "project and schedule are required", http.StatusBadRequest)
		return
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	run := &store.PipelineRun{ID: item.ID, Project: item.Project, Schedule: item.Schedule, Status: "running"}
	if err := s.store.SavePipelineRun(run); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go func() {
		result, err := s.pipelines.Process(context.Background(), item)
		if err != nil {
			_ = s.store.UpdatePipelineRun(run.ID, "failed", nil)
			return
		}
		payload, _ := json.Marshal(result)
		_ = s.store.UpdatePipelineRun(run.ID, "completed", payload)
	}()

	jsonResponse(w, map[string]string{"id": run.ID, "status": "running"})
}

func (s *Server) getPipelineRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetPipelineRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "pipeline run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string            `json:"name"`
		Schedule string            `json:"schedule"`
		Item     pipeline.WorkItem `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}
	if _, err := schedule.Parse(body.Schedule); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	item, _ := json.Marshal(body.Item)
	task := &store.ScheduledTask{
		ID:        uuid.New().String(),
		Name:      body.Name,
		Schedule:  body.Schedule,
		Item:      string(item),
		Status:    "active",
		NextRunAt: schedule.NextRun(body.Schedule),
	}
	if err := s.store.SaveTask(task); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"version":   s.version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"agents":    len(s.agents.List()),
		"nats_port": s.bus.Port(),
	})
}
