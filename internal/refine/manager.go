package refine

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dverbeek/memwarden/internal/memory"
)

// Session guardrail defaults. A session may mutate at most
// DefaultMaxMutations times, and the retention breaker trips when live
// core mass falls below DefaultThreshold of its pre-session baseline.
const (
	DefaultThreshold        = 0.6
	DefaultMaxMutations     = 10
	DefaultMaxContentLength = 4000
)

// Options configure the sessions a Manager creates.
type Options struct {
	Threshold        float64
	MaxMutations     int
	MaxContentLength int

	// Consent, when set, is asked before any session starts. A non-nil
	// error denies the session.
	Consent func() error
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxMutations <= 0 {
		o.MaxMutations = DefaultMaxMutations
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
	return o
}

// Manager owns session lifecycle: it enforces the one-active-session rule,
// captures the pre-session mass baseline, and sweeps up sessions a crashed
// process left behind.
type Manager struct {
	mu      sync.Mutex
	store   *memory.Store
	opts    Options
	current *Session
}

// NewManager returns a Manager over the given store. Zero option fields
// fall back to the package defaults.
func NewManager(store *memory.Store, opts Options) *Manager {
	return &Manager{store: store, opts: opts.withDefaults()}
}

// Begin opens a new refinement session. It fails with a constraint error
// when consent is denied or another session is still active, either in
// this process or as a leftover row in the store.
func (m *Manager) Begin() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Consent != nil {
		if err := m.opts.Consent(); err != nil {
			return nil, constraintErr("refinement consent denied: %v", err)
		}
	}
	if m.current != nil && m.current.State() == StateActive {
		return nil, constraintErr("refinement session %s is already active", m.current.ID())
	}
	active, err := m.store.ActiveSessions()
	if err != nil {
		return nil, fmt.Errorf("check active sessions: %w", err)
	}
	if len(active) > 0 {
		return nil, constraintErr("refinement session %s is still active in the store", active[0].ID)
	}

	preMass, err := m.store.CoreMass()
	if err != nil {
		return nil, fmt.Errorf("compute pre-session mass: %w", err)
	}

	rec, err := m.store.CreateSession(memory.CreateSessionParams{
		PreSessionMass: preMass,
		Threshold:      m.opts.Threshold,
		MaxMutations:   m.opts.MaxMutations,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := &Session{
		store:        m.store,
		breaker:      Breaker{Threshold: rec.Threshold},
		id:           rec.ID,
		preMass:      rec.PreSessionMass,
		maxMutations: rec.MaxMutations,
		maxContent:   m.opts.MaxContentLength,
		state:        StateActive,
	}
	m.current = s
	log.Info("refinement session started",
		"session", rec.ID, "pre_mass", preMass,
		"threshold", rec.Threshold, "max_mutations", rec.MaxMutations)
	return s, nil
}

// Current returns the most recently begun session, terminal or not, or nil
// when no session has run in this process.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RecoverStale rolls back any session rows left active by a previous
// process. Meant to run once at startup, before the server accepts calls.
func (m *Manager) RecoverStale() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale, err := m.store.ActiveSessions()
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}
	for _, rec := range stale {
		log.Warn("rolling back stale refinement session",
			"session", rec.ID, "mutations", rec.MutationCount)
		rollbackSession(m.store, rec, "session left active by a previous process; rolled back at startup", nil)
	}
	return len(stale), nil
}
