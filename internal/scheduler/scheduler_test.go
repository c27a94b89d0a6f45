package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"regcollab/internal/config"
	"regcollab/internal/pipeline"
	"regcollab/internal/store"
)

type fakeRunner struct {
	items []pipeline.WorkItem
	err   error
}

func (f *fakeRunner) Process(_ context.Context, item pipeline.WorkItem) (*pipeline.Result, error) {
	f.items = append(f.items, item)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{RunID: item.ID, Item: item, Raw: "done"}, nil
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, runner, nil, config.SchedulerConfig{PollInterval: time.Second}), s
}

func dueTask(t *testing.T, s *store.Store, id string) store.ScheduledTask {
	t.Helper()
	past := time.Now().Add(-time.Minute).UTC()
	item, _ := json.Marshal(pipeline.WorkItem{Project: "BACEN", Schedule: "FR Y-9C"})
	task := store.ScheduledTask{
		ID:        id,
		Name:      "quarterly",
		Schedule:  `{"kind":"cron","cron_expr":"0 6 * * 1"}`,
		Item:      string(item),
		Status:    "active",
		NextRunAt: &past,
	}
	if err := s.SaveTask(&task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	return task
}

func TestExecuteSuccess(t *testing.T) {
	runner := &fakeRunner{}
	sched, db := newTestScheduler(t, runner)
	task := dueTask(t, db, "t1")

	sched.execute(context.Background(), task)

	if len(runner.items) != 1 {
		t.Fatalf("expected 1 pipeline run, got %d", len(runner.items))
	}
	if runner.items[0].Project != "BACEN" {
		t.Errorf("unexpected work item: %+v", runner.items[0])
	}
	// The pre-created pipeline run record is completed with the result.
	runs, err := db.ListPipelineRuns(10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("expected 1 completed run, got %+v", runs)
	}
	if len(runs[0].Result) == 0 {
		t.Error("expected a result payload")
	}

	got, _ := db.GetTask("t1")
	if got.LastStatus != "success" {
		t.Errorf("expected success, got %s", got.LastStatus)
	}
	if got.NextRunAt == nil {
		t.Error("cron task must get a next run")
	}
	if got.Status != "active" {
		t.Errorf("cron task stays active, got %s", got.Status)
	}
}

func TestExecuteFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("remote down")}
	sched, db := newTestScheduler(t, runner)
	task := dueTask(t, db, "t1")

	sched.execute(context.Background(), task)

	runs, _ := db.ListPipelineRuns(10)
	if len(runs) != 1 || runs[0].Status != "failed" {
		t.Fatalf("expected 1 failed run, got %+v", runs)
	}

	got, _ := db.GetTask("t1")
	if got.LastStatus != "error" || got.LastError != "remote down" {
		t.Errorf("unexpected task state: %+v", got)
	}
	// Failures do not stop the schedule.
	if got.NextRunAt == nil {
		t.Error("failed cron task must still get a next run")
	}
}

func TestExecuteOneOffCompletes(t *testing.T) {
	runner := &fakeRunner{}
	sched, db := newTestScheduler(t, runner)

	past := time.Now().Add(-time.Minute).UTC()
	at := time.Now().Add(-time.Second).UnixMilli()
	item, _ := json.Marshal(pipeline.WorkItem{Schedule: "once-off"})
	task := store.ScheduledTask{
		ID:       "t1",
		Name:     "one shot",
		Schedule: fmt.Sprintf(`{"kind":"once","at_ms":%d}`, at),
		Item:     string(item), Status: "active", NextRunAt: &past,
	}
	_ = db.SaveTask(&task)

	sched.execute(context.Background(), task)

	got, _ := db.GetTask("t1")
	if got.Status != "completed" {
		t.Errorf("one-off task must complete, got %s", got.Status)
	}
}

func TestExecuteInvalidItem(t *testing.T) {
	runner := &fakeRunner{}
	sched, db := newTestScheduler(t, runner)

	past := time.Now().Add(-time.Minute).UTC()
	task := store.ScheduledTask{
		ID: "t1", Name: "broken", Schedule: `{"kind":"cron","cron_expr":"* * * * *"}`,
		Item: "not json", Status: "active", NextRunAt: &past,
	}
	_ = db.SaveTask(&task)

	sched.execute(context.Background(), task)

	if len(runner.items) != 0 {
		t.Error("invalid item must not reach the pipeline")
	}
	got, _ := db.GetTask("t1")
	if got.Status != "failed" {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestHandleIPCCreateListDelete(t *testing.T) {
	sched, db := newTestScheduler(t, &fakeRunner{})

	payload, _ := json.Marshal(map[string]any{
		"name":     "quarterly",
		"schedule": `{"kind":"cron","cron_expr":"0 6 * * 1"}`,
		"item":     pipeline.WorkItem{Project: "BACEN", Schedule: "FR Y-9C"},
	})
	resp := sched.handleIPC(ipcRequest{Type: "create", Payload: payload})
	if !resp.OK || resp.ID == "" {
		t.Fatalf("create failed: %+v", resp)
	}

	task, _ := db.GetTask(resp.ID)
	if task == nil || task.Status != "active" || task.NextRunAt == nil {
		t.Fatalf("unexpected stored task: %+v", task)
	}

	list := sched.handleIPC(ipcRequest{Type: "list"})
	if !list.OK || len(list.Tasks) != 1 {
		t.Fatalf("list failed: %+v", list)
	}

	delPayload, _ := json.Marshal(map[string]string{"id": resp.ID})
	del := sched.handleIPC(ipcRequest{Type: "delete", Payload: delPayload})
	if !del.OK {
		t.Fatalf("delete failed: %+v", del)
	}
	if task, _ := db.GetTask(resp.ID); task != nil {
		t.Error("expected task gone after delete")
	}
}

func TestHandleIPCRejectsBadSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeRunner{})

	payload, _ := json.Marshal(map[string]any{
		"name":     "bad",
		"schedule": `{"kind":"cron","cron_expr":"nope"}`,
	})
	resp := sched.handleIPC(ipcRequest{Type: "create", Payload: payload})
	if resp.OK || resp.Error == "" {
		t.Errorf("expected schedule validation error, got %+v", resp)
	}
}

func TestHandleIPCUnknownType(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeRunner{})
	resp := sched.handleIPC(ipcRequest{Type: "bogus"})
	if resp.Error == "" {
		t.Error("expected error for unknown request type")
	}
}
