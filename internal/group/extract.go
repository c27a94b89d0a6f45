package group

import "strings"

// Markers are the literal sentinel phrases bounding the final deliverable
// inside a free-form transcript.
type Markers struct {
	Start string
	End   string
}

func DefaultMarkers() Markers {
	return Markers{
		Start: "SUMMARY END, TASK OUTPUT START",
		End:   "TASK OUTPUT END, TERMINATE",
	}
}

// Extract carves the final payload out of a transcript.
//
// Grammar, in fallback tiers:
//  1. start marker followed by end marker: the trimmed substring strictly
//     between them.
//  2. start marker only: everything after it, trimmed.
//  3. neither marker: the input unchanged, so the caller can diagnose the
//     malformed closing message instead of getting an error.
func Extract(transcript string, m Markers) string {
	_, after, found := strings.Cut(transcript, m.Start)
	if !found {
		return transcript
	}
	if inner, _, ok := strings.Cut(after, m.End); ok {
		return strings.TrimSpace(inner)
	}
	return strings.TrimSpace(after)
}
