package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"regcollab/internal/group"
	"regcollab/internal/identity"
	"regcollab/internal/remote"
)

// WorkItem is one unit of pipeline work: a report schedule with the
// documents the subject-matter expert must be grounded on.
type WorkItem struct {
	ID        string   `json:"id"`
	Project   string   `json:"project"`
	Schedule  string   `json:"schedule"`
	Documents []string `json:"documents,omitempty"`
}

// StepResult records one sequential pipeline step.
type StepResult struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Result is the outcome of one pipeline run over a work item.
type Result struct {
	RunID      string         `json:"run_id"`
	Item       WorkItem       `json:"item"`
	Extraction map[string]any `json:"extraction,omitempty"`
	Raw        string         `json:"raw"`
	Parsed     bool           `json:"parsed"`
	Questions  string         `json:"questions"`
	Answers    string         `json:"answers"`
	Steps      []StepResult   `json:"steps"`
}

// Grounder ensures an agent identity exists and is grounded on documents.
// *identity.Store satisfies it.
type Grounder interface {
	Ensure(ctx context.Context, name, role string, documents []string) (*identity.Record, error)
}

// ContextFetcher supplies a source-attributed context block for a query.
// *search.Provider satisfies it.
type ContextFetcher interface {
	Fetch(ctx context.Context, query string, pathFilters []string) (string, error)
}

// Driver chains SME → analyst → SME exchanges around a single work item.
// Every step is a sequential, blocking turn: step N's prompt is built from
// step N-1's output.
type Driver struct {
	grounder     Grounder
	exec         group.Submitter
	contexts     ContextFetcher // optional
	contextPaths []string

	smeName     string
	smeRole     string
	analystName string
	analystRole string
}

func NewDriver(grounder Grounder, exec group.Submitter, smeName, smeRole, analystName, analystRole string) *Driver {
	return &Driver{
		grounder:    grounder,
		exec:        exec,
		smeName:     smeName,
		smeRole:     smeRole,
		analystName: analystName,
		analystRole: analystRole,
	}
}

// WithContext attaches an optional context provider consulted before the
// extraction step.
func (d *Driver) WithContext(fetcher ContextFetcher, paths []string) *Driver {
	d.contexts = fetcher
	d.contextPaths = paths
	return d
}

// Process runs the full pipeline for one work item.
func (d *Driver) Process(ctx context.Context, item WorkItem) (*Result, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	res := &Result{RunID: item.ID, Item: item}
	slog.Info("pipeline started", "run", res.RunID, "project", item.Project, "schedule", item.Schedule)

	// Step 1: grounding plus an acknowledgement-only priming turn.
	sme, err := d.grounder.Ensure(ctx, d.smeName, d.smeRole, item.Documents)
	if err != nil {
		return nil, fmt.Errorf("ground %s: %w", d.smeName, err)
	}
	priming := fmt.Sprintf("New documents for project %q have been attached to your grounding set. Acknowledge only; no analysis yet.", item.Project)
	if _, err := d.step(ctx, res, "prime", sme, priming); err != nil {
		return nil, err
	}

	// Step 2: structured extraction.
	extractionPrompt, err := d.extractionPrompt(ctx, item)
	if err != nil {
		return nil, err
	}
	raw, err := d.step(ctx, res, "extract", sme, extractionPrompt)
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	res.Extraction, res.Parsed = parseStructured(raw)
	if !res.Parsed {
		slog.Warn("extraction response is not valid JSON, keeping raw text", "run", res.RunID)
	}

	// Step 3: the analyst reviews the extraction and asks back.
	analyst, err := d.grounder.Ensure(ctx, d.analystName, d.analystRole, nil)
	if err != nil {
		return nil, fmt.Errorf("ground %s: %w", d.analystName, err)
	}
	questionsPrompt := fmt.Sprintf(
		"The regulatory SME produced the following structured requirements for %s %s:\n\n%s\n\nList the clarifying questions you need answered before writing the business requirements document.",
		item.Project, item.Schedule, raw)
	questions, err := d.step(ctx, res, "questions", analyst, questionsPrompt)
	if err != nil {
		return nil, err
	}
	res.Questions = questions

	// Step 4: the SME answers the analyst's questions.
	answersPrompt := fmt.Sprintf("The business analyst has these clarifying questions about %s %s:\n\n%s\n\nAnswer each question, citing references where possible.",
		item.Project, item.Schedule, questions)
	answers, err := d.step(ctx, res, "answers", sme, answersPrompt)
	if err != nil {
		return nil, err
	}
	res.Answers = answers

	slog.Info("pipeline finished", "run", res.RunID, "steps", len(res.Steps), "parsed", res.Parsed)
	return res, nil
}

func (d *Driver) step(ctx context.Context, res *Result, name string, rec *identity.Record, prompt string) (string, error) {
	reply, err := d.exec.Submit(ctx, rec, remote.RoleUser, prompt)
	if err != nil {
		return "", fmt.Errorf("pipeline step %s: %w", name, err)
	}
	res.Steps = append(res.Steps, StepResult{Name: name, Prompt: prompt, Response: reply})
	return reply, nil
}

func (d *Driver) extractionPrompt(ctx context.Context, item WorkItem) (string, error) {
	prompt := fmt.Sprintf(
		`For project %q, schedule %q: review the entity structure and chart of accounts in your grounding set, identify the reporting scope, the line items to be reported with their MDRM numbers, and propose transformation, filter and validation rules for the business analyst to document. Respond in well-structured JSON only.`,
		item.Project, item.Schedule)

	if d.contexts == nil {
		return prompt, nil
	}
	block, err := d.contexts.Fetch(ctx, item.Schedule, d.contextPaths)
	if err != nil {
		return "", fmt.Errorf("context for %s: %w", item.Schedule, err)
	}
	if block == "" {
		return prompt, nil
	}
	return fmt.Sprintf("Use the following context from research data:\n\n==== START CONTEXT ====\n%s\n==== END CONTEXT ====\n%s", block, prompt), nil
}

// parseStructured decodes a nested key/value JSON object out of an agent
// reply, tolerating a fenced code block around it.
func parseStructured(raw string) (map[string]any, bool) {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, false
	}
	return out, true
}
