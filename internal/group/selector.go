package group

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"regcollab/internal/identity"
	"regcollab/internal/remote"
)

// Selector picks the next speaker of a session. Returning an empty name
// means no eligible speaker remains and the session should end.
type Selector interface {
	SelectNext(ctx context.Context, t Transcript, roster []string) (string, error)
}

// RoundRobin walks the roster in order, one speaker per turn.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func (r *RoundRobin) SelectNext(_ context.Context, _ Transcript, roster []string) (string, error) {
	if len(roster) == 0 {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := roster[r.next%len(roster)]
	r.next++
	return name, nil
}

// ModelSelector delegates the choice to a designated picker agent: it
// shows the roster and the fresh transcript tail and expects one roster
// name back.
type ModelSelector struct {
	exec         Submitter
	picker       *identity.Record
	descriptions map[string]string
	tail         int
}

func NewModelSelector(exec Submitter, picker *identity.Record, descriptions map[string]string) *ModelSelector {
	return &ModelSelector{
		exec:         exec,
		picker:       picker,
		descriptions: descriptions,
		tail:         6,
	}
}

func (s *ModelSelector) SelectNext(ctx context.Context, t Transcript, roster []string) (string, error) {
	reply, err := s.exec.Submit(ctx, s.picker, remote.RoleUser, s.prompt(t, roster))
	if err != nil {
		return "", fmt.Errorf("select next speaker: %w", err)
	}

	// The picker is free-form text; accept the first roster name mentioned.
	lowered := strings.ToLower(reply)
	best, bestIdx := "", len(lowered)+1
	for _, name := range roster {
		if idx := mentionIndex(lowered, strings.ToLower(name)); idx >= 0 && idx < bestIdx {
			best, bestIdx = name, idx
		}
	}
	if best == "" {
		return "", fmt.Errorf("select next speaker: no roster name in %q", reply)
	}
	return best, nil
}

func (s *ModelSelector) prompt(t Transcript, roster []string) string {
	var sb strings.Builder
	sb.WriteString("You are coordinating a team conversation. The participants are:\n")
	for _, name := range roster {
		if desc := s.descriptions[name]; desc != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", name, firstLine(desc))
		} else {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
	}

	tail := t
	if len(tail) > s.tail {
		tail = tail[len(tail)-s.tail:]
	}
	sb.WriteString("\nRecent conversation:\n")
	sb.WriteString(tail.Text())
	sb.WriteString("\n\nReply with the name of the single participant who should speak next. Name only.")
	return sb.String()
}

// mentionIndex finds name in text as a standalone word. An occurrence
// embedded in a longer identifier-like token is not a mention, so a reply
// naming nobody cannot accidentally select a short roster name.
func mentionIndex(text, name string) int {
	if name == "" {
		return -1
	}
	for from := 0; ; {
		idx := strings.Index(text[from:], name)
		if idx < 0 {
			return -1
		}
		idx += from
		if !identByte(text, idx-1) && !identByte(text, idx+len(name)) {
			return idx
		}
		from = idx + 1
	}
}

func identByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
