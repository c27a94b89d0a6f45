package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"regcollab/internal/identity"
	"regcollab/internal/remote"
)

// NoResponse is returned when a run completes but the thread holds no
// usable assistant text. It is a value, not an error: callers decide
// whether an empty turn is fatal.
const NoResponse = "[No response found]"

// RunError is the terminal failure of a submitted turn. It is never
// silently retried; re-submitting would append a duplicate message to the
// conversation.
type RunError struct {
	ThreadID  string
	RunID     string
	Status    remote.RunStatus
	LastError string
}

func (e *RunError) Error() string {
	if e.LastError != "" {
		return fmt.Sprintf("run %s on thread %s: %s: %s", e.RunID, e.ThreadID, e.Status, e.LastError)
	}
	return fmt.Sprintf("run %s on thread %s: %s", e.RunID, e.ThreadID, e.Status)
}

// Executor submits one message to one agent's thread and blocks until the
// remote run reaches a terminal state. At most one run is outstanding per
// thread at any time.
type Executor struct {
	svc          remote.AgentService
	pollInterval time.Duration

	mu          sync.Mutex
	threadLocks map[string]*sync.Mutex
}

func NewExecutor(svc remote.AgentService, pollInterval time.Duration) *Executor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Executor{
		svc:          svc,
		pollInterval: pollInterval,
		threadLocks:  make(map[string]*sync.Mutex),
	}
}

func (e *Executor) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		e.threadLocks[threadID] = l
	}
	return l
}

// Submit appends message to the agent's thread as role, runs the agent and
// returns the newest assistant text. There is no internal timeout; bound
// the call with the context deadline if needed.
func (e *Executor) Submit(ctx context.Context, rec *identity.Record, role, message string) (string, error) {
	l := e.threadLock(rec.ThreadID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.svc.CreateMessage(ctx, rec.ThreadID, role, message); err != nil {
		return "", fmt.Errorf("append message to %s: %w", rec.Name, err)
	}

	run, err := e.svc.CreateRun(ctx, rec.ThreadID, rec.AgentID)
	if err != nil {
		return "", fmt.Errorf("start run for %s: %w", rec.Name, err)
	}

	status, lastError, err := e.awaitTerminal(ctx, rec.ThreadID, run.ID)
	if err != nil {
		return "", err
	}
	if status != remote.StatusCompleted {
		return "", &RunError{ThreadID: rec.ThreadID, RunID: run.ID, Status: status, LastError: lastError}
	}

	return e.latestAssistantText(ctx, rec.ThreadID)
}

// awaitTerminal polls run status on a fixed interval until a terminal
// state shows up. Poll errors are treated as transient: the same status
// read is safe to repeat on the next tick.
func (e *Executor) awaitTerminal(ctx context.Context, threadID, runID string) (remote.RunStatus, string, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
			run, err := e.svc.GetRun(ctx, threadID, runID)
			if err != nil {
				slog.Warn("run status poll failed, retrying", "thread", threadID, "run", runID, "error", err)
				continue
			}
			if run.Status.Terminal() {
				return run.Status, run.LastError, nil
			}
		}
	}
}

// latestAssistantText finds the newest assistant message whose first
// content block is text. Message order comes from the creation timestamp;
// the remote listing order is not trusted.
func (e *Executor) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	messages, err := e.svc.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("list messages on %s: %w", threadID, err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != remote.RoleAssistant {
			continue
		}
		if len(msg.Content) > 0 && msg.Content[0].Type == "text" {
			return msg.Content[0].Text.Value, nil
		}
	}
	return NoResponse, nil
}
