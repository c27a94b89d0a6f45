package group

import (
	"fmt"
	"strings"
)

// Condition decides whether a session is finished. Conditions are
// evaluated after every appended message.
type Condition interface {
	Satisfied(t Transcript) (reason string, done bool)
}

// TokenCondition fires when the most recent message mentions the
// termination token anywhere in its text. An empty token disables the
// condition.
type TokenCondition struct {
	Token string
}

func (c TokenCondition) Satisfied(t Transcript) (string, bool) {
	if c.Token == "" {
		return "", false
	}
	last, ok := t.Last()
	if !ok {
		return "", false
	}
	if strings.Contains(last.Content, c.Token) {
		return fmt.Sprintf("termination token %q mentioned", c.Token), true
	}
	return "", false
}

// MaxMessagesCondition fires when the transcript has reached the
// configured message count.
type MaxMessagesCondition struct {
	Max int
}

func (c MaxMessagesCondition) Satisfied(t Transcript) (string, bool) {
	if c.Max > 0 && len(t) >= c.Max {
		return fmt.Sprintf("message cap %d reached", c.Max), true
	}
	return "", false
}

// AnyCondition is the short-circuit disjunction of its members.
type AnyCondition []Condition

func (cs AnyCondition) Satisfied(t Transcript) (string, bool) {
	for _, c := range cs {
		if reason, done := c.Satisfied(t); done {
			return reason, true
		}
	}
	return "", false
}
