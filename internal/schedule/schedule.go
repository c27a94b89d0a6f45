package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule describes when a task fires. Exactly one of the kind-specific
// fields is meaningful.
type Schedule struct {
	Kind       string `json:"kind"`        // "cron", "interval", "once"
	CronExpr   string `json:"cron_expr"`   // Cron expression (if kind=cron)
	IntervalMs int64  `json:"interval_ms"` // Interval in ms (if kind=interval)
	AtMs       int64  `json:"at_ms"`       // Unix ms timestamp (if kind=once)
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	switch s.Kind {
	case "cron":
		if !gronx.New().IsValid(s.CronExpr) {
			return nil, fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case "interval":
		if s.IntervalMs <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
	case "once":
		if s.AtMs <= 0 {
			return nil, fmt.Errorf("once schedule needs at_ms")
		}
	default:
		return nil, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return &s, nil
}

// NextRun computes the next firing time, or nil when the schedule is
// exhausted (a one-off in the past, or an invalid spec).
func NextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	now := time.Now()
	var next time.Time

	switch s.Kind {
	case "cron":
		t, err := gronx.NextTick(s.CronExpr, false)
		if err != nil {
			return nil
		}
		next = t
	case "interval":
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case "once":
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	}

	return &next
}
