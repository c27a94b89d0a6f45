package group

import (
	"fmt"
	"strings"
)

// Entry is one (speaker, message) pair of a collaborative session.
type Entry struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Transcript is the ordered history of a whole session.
type Transcript []Entry

func (t Transcript) Last() (Entry, bool) {
	if len(t) == 0 {
		return Entry{}, false
	}
	return t[len(t)-1], true
}

// Text renders the transcript as speaker-attributed plain text, the form
// the output extractor operates on.
func (t Transcript) Text() string {
	var sb strings.Builder
	for i, e := range t {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", e.Speaker, e.Content)
	}
	return sb.String()
}

// Since returns the entries appended after the given speaker last spoke.
// When the speaker never spoke, the whole transcript is returned.
func (t Transcript) Since(speaker string) Transcript {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Speaker == speaker {
			return t[i+1:]
		}
	}
	return t
}
