package group

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"regcollab/internal/identity"
	"regcollab/internal/remote"
)

// Submitter executes one blocking agent turn. *turn.Executor satisfies it.
type Submitter interface {
	Submit(ctx context.Context, rec *identity.Record, role, message string) (string, error)
}

// Member is one roster seat of a group session.
type Member struct {
	Record *identity.Record
	Role   string
}

// TurnListener observes every appended transcript entry.
type TurnListener func(sessionID, speaker, content string)

// ContextFetcher supplies a source-attributed context block for a query.
// *search.Provider satisfies it.
type ContextFetcher interface {
	Fetch(ctx context.Context, query string, pathFilters []string) (string, error)
}

// Result is the outcome of a finished group session: the full transcript
// plus the payload carved out between the closing markers.
type Result struct {
	SessionID  string     `json:"session_id"`
	Transcript Transcript `json:"transcript"`
	Output     string     `json:"output"`
	Reason     string     `json:"reason"`
}

// Orchestrator drives an arbitrary roster of agents through repeated
// turns: a selector picks each speaker, a composite condition decides when
// the session is done, and the transcript is mined for the final output.
type Orchestrator struct {
	exec      Submitter
	roster    map[string]Member
	order     []string
	selector  Selector
	condition Condition
	markers   Markers

	contexts     ContextFetcher // optional
	contextPaths []string

	listenerMu sync.RWMutex
	listeners  []TurnListener
}

func NewOrchestrator(exec Submitter, members []Member, selector Selector, condition Condition, markers Markers) (*Orchestrator, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("group orchestrator: empty roster")
	}

	roster := make(map[string]Member, len(members))
	order := make([]string, 0, len(members))
	for _, m := range members {
		if _, dup := roster[m.Record.Name]; dup {
			return nil, fmt.Errorf("group orchestrator: duplicate roster name %s", m.Record.Name)
		}
		roster[m.Record.Name] = m
		order = append(order, m.Record.Name)
	}

	if markers.Start == "" || markers.End == "" {
		markers = DefaultMarkers()
	}

	return &Orchestrator{
		exec:      exec,
		roster:    roster,
		order:     order,
		selector:  selector,
		condition: condition,
		markers:   markers,
	}, nil
}

// WithContext attaches an optional context provider consulted once per
// session to prime the opening task.
func (o *Orchestrator) WithContext(fetcher ContextFetcher, paths []string) *Orchestrator {
	o.contexts = fetcher
	o.contextPaths = paths
	return o
}

func (o *Orchestrator) OnTurn(l TurnListener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, l)
}

func (o *Orchestrator) notify(sessionID, speaker, content string) {
	o.listenerMu.RLock()
	defer o.listenerMu.RUnlock()
	for _, l := range o.listeners {
		l(sessionID, speaker, content)
	}
}

// Run executes one collaborative session over the given task. Turns are
// strictly sequential; the session ends as soon as any termination rule
// fires or the selector yields no speaker.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	return o.RunSession(ctx, uuid.New().String(), task)
}

// RunSession is Run with a caller-chosen session id, so callers that
// persist the session before starting it can correlate the two.
func (o *Orchestrator) RunSession(ctx context.Context, sessionID, task string) (*Result, error) {
	slog.Info("group session started", "session", sessionID, "roster", len(o.order))

	if o.contexts != nil {
		block, err := o.contexts.Fetch(ctx, task, o.contextPaths)
		if err != nil {
			return nil, fmt.Errorf("session %s: context: %w", sessionID, err)
		}
		if block != "" {
			task = fmt.Sprintf("Use the following context from research data:\n\n==== START CONTEXT ====\n%s\n==== END CONTEXT ====\n%s", block, task)
		}
	}

	transcript := Transcript{{Speaker: "user", Content: task}}
	o.notify(sessionID, "user", task)

	reason, done := o.condition.Satisfied(transcript)
	for !done {
		speaker, err := o.selector.SelectNext(ctx, transcript, o.order)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		if speaker == "" {
			reason = "selector yielded no speaker"
			break
		}
		member, ok := o.roster[speaker]
		if !ok {
			return nil, fmt.Errorf("session %s: selector picked unknown agent %s", sessionID, speaker)
		}

		// Relay the entries the speaker has not seen yet.
		prompt := transcript.Since(speaker).Text()
		reply, err := o.exec.Submit(ctx, member.Record, remote.RoleUser, prompt)
		if err != nil {
			return nil, fmt.Errorf("session %s: turn for %s: %w", sessionID, speaker, err)
		}

		transcript = append(transcript, Entry{Speaker: speaker, Content: reply})
		o.notify(sessionID, speaker, reply)
		slog.Debug("group turn", "session", sessionID, "speaker", speaker, "messages", len(transcript))

		reason, done = o.condition.Satisfied(transcript)
	}

	output := Extract(transcript.Text(), o.markers)
	slog.Info("group session finished", "session", sessionID, "messages", len(transcript), "reason", reason)

	return &Result{
		SessionID:  sessionID,
		Transcript: transcript,
		Output:     output,
		Reason:     reason,
	}, nil
}
