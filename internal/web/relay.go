package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"regcollab/internal/relay"
	"regcollab/internal/store"
)

// relayState tracks one HTTP-driven relay session parked at its approval
// gate. Entries are removed when the session finishes.
type relayState struct {
	approval chan struct{}
	approve  sync.Once
}

type relayRequest struct {
	A         string   `json:"a"`
	B         string   `json:"b"`
	Opening   string   `json:"opening_question"`
	Seed      string   `json:"seed"`
	Questions []string `json:"questions"`
	Strategy  string   `json:"strategy"`
	Rounds    int      `json:"rounds"`
}

func (s *Server) createRelay(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		jsonError(w, "no turn executor configured", http.StatusServiceUnavailable)
		return
	}

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.A == "" || req.B == "" || req.Opening == "" || req.Seed == "" {
		jsonError(w, "a, b, opening_question and seed are required", http.StatusBadRequest)
		return
	}
	if req.A == req.B {
		jsonError(w, "a and b must differ", http.StatusBadRequest)
		return
	}

	var strategy relay.Strategy
	switch req.Strategy {
	case "", "supplied":
		strategy = relay.StrategySupplied
	case "relay_answer":
		strategy = relay.StrategyRelayAnswer
	default:
		jsonError(w, "unknown strategy "+req.Strategy, http.StatusBadRequest)
		return
	}

	aRec, ok := s.agents.Get(req.A)
	if !ok {
		jsonError(w, "agent not found: "+req.A, http.StatusNotFound)
		return
	}
	bRec, ok := s.agents.Get(req.B)
	if !ok {
		jsonError(w, "agent not found: "+req.B, http.StatusNotFound)
		return
	}

	questions := req.Questions
	if strategy == relay.StrategyRelayAnswer && len(questions) == 0 {
		// The supplied texts are discarded under this strategy; rounds
		// alone determines the loop length.
		questions = make([]string, req.Rounds)
	}

	id := uuid.New().String()
	if err := s.store.SaveSession(&store.Session{ID: id, Kind: "relay", Task: req.Opening, Status: "awaiting_approval"}); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	st := &relayState{approval: make(chan struct{})}
	s.relayMu.Lock()
	s.relays[id] = st
	s.relayMu.Unlock()

	gate := relay.GateFunc(func(ctx context.Context) error {
		select {
		case <-st.approval:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	sess := relay.NewSession(s.exec, aRec, bRec, gate, queueQuestions(questions), strategy)
	sess.OnTurn(func(speaker, content string) {
		if err := s.store.SaveSessionMessage(&store.SessionMessage{SessionID: id, Speaker: speaker, Content: content}); err != nil {
			slog.Error("save relay message", "session", id, "error", err)
		}
	})

	// Background context: the session outlives the HTTP request.
	go func() {
		defer func() {
			s.relayMu.Lock()
			delete(s.relays, id)
			s.relayMu.Unlock()
		}()

		tr, err := sess.Run(context.Background(), req.Opening, req.Seed)
		if err != nil {
			_ = s.store.CompleteSession(id, "failed", "", err.Error())
			return
		}
		var output string
		if last, ok := tr.Last(); ok {
			output = last.Content
		}
		_ = s.store.CompleteSession(id, "completed", output, "relay finished")
	}()

	jsonResponse(w, map[string]string{"id": id, "status": "awaiting_approval"})
}

func (s *Server) approveRelay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.relayMu.Lock()
	st, ok := s.relays[id]
	s.relayMu.Unlock()
	if !ok {
		jsonError(w, "relay not found or already finished", http.StatusNotFound)
		return
	}

	st.approve.Do(func() { close(st.approval) })
	jsonResponse(w, map[string]string{"id": id, "status": "approved"})
}

// queueQuestions replays a fixed list of question texts, then signals done.
func queueQuestions(texts []string) relay.QuestionSource {
	i := 0
	return relay.QuestionFunc(func(context.Context, string) (relay.Signal, error) {
		if i >= len(texts) {
			return relay.Signal{Done: true}, nil
		}
		text := texts[i]
		i++
		return relay.Signal{Text: text}, nil
	})
}
