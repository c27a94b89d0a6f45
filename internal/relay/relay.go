package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"regcollab/internal/group"
	"regcollab/internal/identity"
	"regcollab/internal/remote"
)

// State names the phases of a two-party relay session.
type State string

const (
	StateInitialAsk State = "A_INITIAL_ASK"
	StateAwaitGate  State = "AWAIT_HUMAN_GATE"
	StateSeed       State = "B_SEED"
	StateQALoop     State = "B_QA_LOOP"
	StateDone       State = "DONE"
)

// Gate blocks the session until an external confirmation arrives. It
// models a manual review checkpoint, never an automatic transition.
type Gate interface {
	Approve(ctx context.Context) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context) error

func (f GateFunc) Approve(ctx context.Context) error { return f(ctx) }

// Signal is one externally supplied next-question event. Done ends the
// question/answer loop.
type Signal struct {
	Text string
	Done bool
}

// QuestionSource feeds the Q/A loop. lastAnswer is B's most recent output,
// offered so interactive sources can display it.
type QuestionSource interface {
	Next(ctx context.Context, lastAnswer string) (Signal, error)
}

// QuestionFunc adapts a function to the QuestionSource interface.
type QuestionFunc func(ctx context.Context, lastAnswer string) (Signal, error)

func (f QuestionFunc) Next(ctx context.Context, lastAnswer string) (Signal, error) {
	return f(ctx, lastAnswer)
}

// TurnListener observes every appended transcript entry, so callers can
// persist or stream turns as they happen.
type TurnListener func(speaker, content string)

// Strategy decides what actually gets relayed to agent A each round.
type Strategy int

const (
	// StrategySupplied relays the externally supplied question text verbatim.
	StrategySupplied Strategy = iota
	// StrategyRelayAnswer discards the supplied text and relays B's last
	// answer instead.
	StrategyRelayAnswer
)

// Session drives a fixed pair of agents through an interactive
// question/answer cycle, relaying each agent's output as the next agent's
// input. Both threads stay open and reusable after the loop ends.
type Session struct {
	exec      group.Submitter
	a, b      *identity.Record
	gate      Gate
	questions QuestionSource
	strategy  Strategy
	onTurn    TurnListener

	mu    sync.Mutex
	state State
}

func NewSession(exec group.Submitter, a, b *identity.Record, gate Gate, questions QuestionSource, strategy Strategy) *Session {
	return &Session{
		exec:      exec,
		a:         a,
		b:         b,
		gate:      gate,
		questions: questions,
		strategy:  strategy,
		state:     StateInitialAsk,
	}
}

func (s *Session) OnTurn(l TurnListener) {
	s.onTurn = l
}

func (s *Session) record(transcript group.Transcript, speaker, content string) group.Transcript {
	if s.onTurn != nil {
		s.onTurn(speaker, content)
	}
	return append(transcript, group.Entry{Speaker: speaker, Content: content})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes the relay: opening question to A, human gate, seed to B,
// then the externally driven Q/A loop. The returned transcript holds both
// agents' turns in order.
func (s *Session) Run(ctx context.Context, openingQuestion, seed string) (group.Transcript, error) {
	var transcript group.Transcript

	s.setState(StateInitialAsk)
	answerA, err := s.exec.Submit(ctx, s.a, remote.RoleUser, openingQuestion)
	if err != nil {
		return transcript, fmt.Errorf("initial ask to %s: %w", s.a.Name, err)
	}
	transcript = s.record(transcript, s.a.Name, answerA)
	slog.Info("relay initial answer", "agent", s.a.Name)

	s.setState(StateAwaitGate)
	if err := s.gate.Approve(ctx); err != nil {
		return transcript, fmt.Errorf("human gate: %w", err)
	}

	s.setState(StateSeed)
	answerB, err := s.exec.Submit(ctx, s.b, remote.RoleUser, seed)
	if err != nil {
		return transcript, fmt.Errorf("seed to %s: %w", s.b.Name, err)
	}
	transcript = s.record(transcript, s.b.Name, answerB)

	s.setState(StateQALoop)
	for {
		sig, err := s.questions.Next(ctx, answerB)
		if err != nil {
			return transcript, fmt.Errorf("next question: %w", err)
		}
		if sig.Done {
			break
		}

		question := sig.Text
		if s.strategy == StrategyRelayAnswer {
			question = answerB
		}

		answerA, err = s.exec.Submit(ctx, s.a, remote.RoleUser, question)
		if err != nil {
			return transcript, fmt.Errorf("question to %s: %w", s.a.Name, err)
		}
		transcript = s.record(transcript, s.a.Name, answerA)

		answerB, err = s.exec.Submit(ctx, s.b, remote.RoleUser, answerA)
		if err != nil {
			return transcript, fmt.Errorf("relay to %s: %w", s.b.Name, err)
		}
		transcript = s.record(transcript, s.b.Name, answerB)
	}

	s.setState(StateDone)
	slog.Info("relay session done", "a", s.a.Name, "b", s.b.Name, "turns", len(transcript))
	return transcript, nil
}
