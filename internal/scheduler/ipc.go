package scheduler

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"regcollab/internal/natsbus"
	"regcollab/internal/schedule"
	"regcollab/internal/store"
)

type ipcRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ipcResponse struct {
	OK    bool                  `json:"ok,omitempty"`
	Error string                `json:"error,omitempty"`
	ID    string                `json:"id,omitempty"`
	Tasks []store.ScheduledTask `json:"tasks,omitempty"`
}

// serveIPC answers task management requests from the rcpipe CLI over the
// bus.
func (s *Scheduler) serveIPC() {
	if s.natsClient == nil {
		return
	}

	_, err := s.natsClient.Subscribe(natsbus.TopicTasksIPC, func(msg *nats.Msg) {
		var req ipcRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(msg, ipcResponse{Error: "invalid request"})
			return
		}
		s.reply(msg, s.handleIPC(req))
	})
	if err != nil {
		slog.Error("scheduler ipc subscribe failed", "error", err)
	}
}

func (s *Scheduler) handleIPC(req ipcRequest) ipcResponse {
	switch req.Type {
	case "create":
		var p struct {
			Name     string          `json:"name"`
			Schedule string          `json:"schedule"`
			Item     json.RawMessage `json:"item"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return ipcResponse{Error: "invalid payload"}
		}
		if _, err := schedule.Parse(p.Schedule); err != nil {
			return ipcResponse{Error: err.Error()}
		}
		task := &store.ScheduledTask{
			ID:        uuid.New().String(),
			Name:      p.Name,
			Schedule:  p.Schedule,
			Item:      string(p.Item),
			Status:    "active",
			NextRunAt: schedule.NextRun(p.Schedule),
		}
		if err := s.store.SaveTask(task); err != nil {
			return ipcResponse{Error: err.Error()}
		}
		return ipcResponse{OK: true, ID: task.ID}

	case "list":
		tasks, err := s.store.ListTasks()
		if err != nil {
			return ipcResponse{Error: err.Error()}
		}
		return ipcResponse{OK: true, Tasks: tasks}

	case "delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return ipcResponse{Error: "invalid payload"}
		}
		if err := s.store.DeleteTask(p.ID); err != nil {
			return ipcResponse{Error: err.Error()}
		}
		return ipcResponse{OK: true, ID: p.ID}

	default:
		return ipcResponse{Error: "unknown request type: " + req.Type}
	}
}

func (s *Scheduler) reply(msg *nats.Msg, resp ipcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("ipc respond failed", "error", err)
	}
}
