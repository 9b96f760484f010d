package refine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dverbeek/memwarden/internal/memory"
)

// State is a session's lifecycle position. Completed and RolledBack are
// terminal: once reached, every further command fails with a terminated
// error, search included.
type State string

const (
	StateActive     State = memory.SessionActive
	StateCompleted  State = memory.SessionCompleted
	StateRolledBack State = memory.SessionRolledBack
)

// Session is one guarded refinement pass over the store. All commands go
// through Execute, which serializes dispatch: a session has exactly one
// writer.
type Session struct {
	mu      sync.Mutex
	store   *memory.Store
	breaker Breaker

	id            string
	preMass       int
	maxMutations  int
	maxContent    int
	state         State
	mutationCount int
	stats         Stats
}

// View is a point-in-time copy of a session's externally visible state.
type View struct {
	ID             string  `json:"id"`
	State          State   `json:"state"`
	PreSessionMass int     `json:"pre_session_mass"`
	Threshold      float64 `json:"threshold"`
	MutationCount  int     `json:"mutation_count"`
	MaxMutations   int     `json:"max_mutations"`
	Stats          Stats   `json:"stats"`
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a consistent copy of the session's visible state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:             s.id,
		State:          s.state,
		PreSessionMass: s.preMass,
		Threshold:      s.breaker.Threshold,
		MutationCount:  s.mutationCount,
		MaxMutations:   s.maxMutations,
		Stats:          s.stats,
	}
}

// Execute runs one command through the session. Dispatch order: terminal
// check first, then the mutation cap for counted kinds, then input
// validation, then the transactional store apply. After every counted
// mutation the retention breaker is re-evaluated against the live core
// mass; a trip rolls the whole session back and the triggering call
// returns the rollback outcome instead of a success.
func (s *Session) Execute(cmd Command) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil, terminatedErr("session %s is %s; no further operations are accepted", s.id, s.state)
	}

	switch c := cmd.(type) {
	case Search:
		return s.search(c)
	case Consolidate:
		return s.consolidate(c)
	case Update:
		return s.update(c)
	case Delete:
		return s.delete(c)
	case Protect:
		return s.protect(c)
	case Complete:
		return s.complete(c)
	default:
		return nil, validationErr("unknown command type %T", cmd)
	}
}

func (s *Session) search(c Search) (Outcome, error) {
	// Refinement curates core memories, so that is what search sees
	// unless the caller asks for journal entries explicitly.
	kind := c.Kind
	if kind == "" {
		kind = memory.KindCore
	} else if err := memory.ValidateKind(kind); err != nil {
		return nil, validationErr("%v", err)
	}
	results, err := s.store.SearchMemories(c.Query, memory.SearchOptions{Kind: kind, Limit: c.Limit})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	s.stats.Searches++
	return SearchOutcome{Type: TypeSearchResults, Results: results}, nil
}

func (s *Session) consolidate(c Consolidate) (Outcome, error) {
	if err := s.checkCap(); err != nil {
		return nil, err
	}
	ids := dedupe(c.IDs)
	if len(ids) < 2 {
		return nil, constraintErr("consolidation needs at least two distinct memory ids, got %d", len(ids))
	}
	if err := s.checkContent(c.Content); err != nil {
		return nil, err
	}

	merged, err := s.store.ApplyConsolidate(s.id, ids, c.Content)
	if err != nil {
		return nil, classify(err)
	}
	s.mutationCount++
	s.stats.Consolidations++
	return s.afterMutation(ConsolidateOutcome{Type: TypeConsolidated, Memory: *merged, Discarded: ids})
}

func (s *Session) update(c Update) (Outcome, error) {
	if err := s.checkCap(); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, validationErr("memory id is required")
	}
	if err := s.checkContent(c.Content); err != nil {
		return nil, err
	}

	updated, err := s.store.ApplyUpdate(s.id, c.ID, c.Content)
	if err != nil {
		return nil, classify(err)
	}
	s.mutationCount++
	s.stats.Updates++
	return s.afterMutation(UpdateOutcome{Type: TypeUpdated, Memory: *updated})
}

func (s *Session) delete(c Delete) (Outcome, error) {
	if err := s.checkCap(); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, validationErr("memory id is required")
	}

	if _, err := s.store.ApplyDelete(s.id, c.ID); err != nil {
		return nil, classify(err)
	}
	s.mutationCount++
	s.stats.Deletions++
	return s.afterMutation(DeleteOutcome{Type: TypeDeleted, ID: c.ID})
}

func (s *Session) protect(c Protect) (Outcome, error) {
	if c.ID == "" {
		return nil, validationErr("memory id is required")
	}

	if _, err := s.store.ApplyProtect(s.id, c.ID); err != nil {
		return nil, classify(err)
	}
	s.stats.Protections++
	return ProtectOutcome{Type: TypeProtected, ID: c.ID}, nil
}

func (s *Session) complete(c Complete) (Outcome, error) {
	if strings.TrimSpace(c.Summary) == "" {
		return nil, validationErr("completion summary must not be empty")
	}

	mass, err := s.store.CoreMass()
	if err != nil {
		return nil, fmt.Errorf("recompute core mass: %w", err)
	}
	if verdict := s.breaker.Check(s.preMass, mass); verdict.Tripped {
		log.Warn("retention breaker tripped at completion",
			"session", s.id, "ratio", verdict.Ratio, "threshold", s.breaker.Threshold)
		return s.rollback(verdict.Reason)
	}

	journal := completionJournal(s.id, c.Summary, s.stats, s.preMass, mass)
	if _, err := s.store.FinishSession(s.id, memory.SessionCompleted, c.Summary, journal); err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	s.state = StateCompleted
	log.Info("refinement session completed",
		"session", s.id, "mutations", s.mutationCount, "core_mass", mass)
	return CompleteOutcome{Type: TypeComplete, Session: s.id, Stats: s.stats}, nil
}

// afterMutation re-evaluates the breaker against the live core mass and
// converts a trip into a full session rollback.
func (s *Session) afterMutation(ok Outcome) (Outcome, error) {
	mass, err := s.store.CoreMass()
	if err != nil {
		return nil, fmt.Errorf("recompute core mass: %w", err)
	}
	verdict := s.breaker.Check(s.preMass, mass)
	if !verdict.Tripped {
		return ok, nil
	}
	log.Warn("retention breaker tripped",
		"session", s.id, "ratio", verdict.Ratio, "threshold", s.breaker.Threshold)
	return s.rollback(verdict.Reason)
}

// rollback reverses the session's ledger and moves it to RolledBack. The
// terminal transition happens even when individual reversals or the final
// row write fail; those problems are logged, not raised.
func (s *Session) rollback(reason string) (Outcome, error) {
	rec := memory.SessionRecord{
		ID:             s.id,
		PreSessionMass: s.preMass,
		Threshold:      s.breaker.Threshold,
	}
	stats := s.stats
	rollbackSession(s.store, rec, reason, &stats)
	s.state = StateRolledBack
	return RollbackOutcome{Type: TypeRolledBack, Session: s.id, Reason: reason, Stats: s.stats}, nil
}

func (s *Session) checkCap() error {
	if s.mutationCount >= s.maxMutations {
		return capExceededErr("mutation cap reached (%d of %d); complete or roll back the session",
			s.mutationCount, s.maxMutations)
	}
	return nil
}

func (s *Session) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return validationErr("content must not be empty")
	}
	if s.maxContent > 0 && len(content) > s.maxContent {
		return validationErr("content exceeds %d characters", s.maxContent)
	}
	return nil
}

// classify maps store sentinels onto the engine's error taxonomy. A
// target that does not exist, is discarded, is constitutional, or has
// the wrong kind all violate domain rules about what the operation may
// touch. Anything else is a system failure passed through untouched.
func classify(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound),
		errors.Is(err, memory.ErrDiscarded),
		errors.Is(err, memory.ErrConstitutional),
		errors.Is(err, memory.ErrWrongKind):
		return constraintErr("%v", err)
	default:
		return err
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
