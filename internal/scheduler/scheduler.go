package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"regcollab/internal/config"
	"regcollab/internal/natsbus"
	"regcollab/internal/pipeline"
	"regcollab/internal/schedule"
	"regcollab/internal/store"
)

// Runner executes one pipeline run. *pipeline.Driver satisfies it.
type Runner interface {
	Process(ctx context.Context, item pipeline.WorkItem) (*pipeline.Result, error)
}

// Scheduler fires due pipeline tasks on a poll loop and records each run.
type Scheduler struct {
	store        *store.Store
	runner       Runner
	natsClient   *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, runner Runner, bus *natsbus.Bus, cfg config.SchedulerConfig) *Scheduler {
	sched := &Scheduler{
		store:        s,
		runner:       runner,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}

	if bus != nil {
		client, err := natsbus.NewClient(bus)
		if err != nil {
			slog.Error("scheduler nats client failed", "error", err)
		} else {
			sched.natsClient = client
		}
	}

	return sched
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	s.serveIPC()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	tasks, err := s.store.GetDueTasks(time.Now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task store.ScheduledTask) {
	slog.Info("executing scheduled pipeline", "id", task.ID, "name", task.Name)

	var item pipeline.WorkItem
	if err := json.Unmarshal([]byte(task.Item), &item); err != nil {
		slog.Error("invalid work item on task", "id", task.ID, "error", err)
		_ = s.store.UpdateTaskStatus(task.ID, "failed")
		return
	}

	run := &store.PipelineRun{ID: task.ID + "-" + time.Now().UTC().Format("20060102T150405"), Project: item.Project, Schedule: item.Schedule, Status: "running"}
	if item.ID == "" {
		item.ID = run.ID
	}
	_ = s.store.SavePipelineRun(run)

	result, err := s.runner.Process(ctx, item)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		_ = s.store.UpdatePipelineRun(run.ID, "failed", nil)
		slog.Error("scheduled pipeline failed", "id", task.ID, "error", err)
	} else {
		lastStatus = "success"
		payload, _ := json.Marshal(result)
		_ = s.store.UpdatePipelineRun(run.ID, "completed", payload)
	}

	nextRun := schedule.NextRun(task.Schedule)
	if err := s.store.UpdateTaskRun(task.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", task.ID, "error", err)
	}

	if s.natsClient != nil {
		_ = s.natsClient.PublishEvent(natsbus.TopicEventsTask, "task_executed", map[string]any{
			"id":     task.ID,
			"name":   task.Name,
			"status": lastStatus,
		})
	}

	// One-off tasks with no next run are done.
	if nextRun == nil {
		if err := s.store.UpdateTaskStatus(task.ID, "completed"); err != nil {
			slog.Error("failed to complete task", "id", task.ID, "error", err)
		}
	}
}
