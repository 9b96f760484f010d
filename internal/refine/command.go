// Package refine implements the memory refinement engine: a guarded
// session in which an agent curates its own long-term memory.
//
// All curation goes through Session.Execute with a typed command. The
// session enforces the lifecycle (active until completed or rolled back),
// a hard cap on mutating operations, and a retention circuit breaker that
// triggers a full rollback of the session's ledger when too much core
// memory disappears.
package refine

import "github.com/dverbeek/memwarden/internal/memory"

// Command is the closed set of operations a refinement session accepts.
// Dispatch is a type switch in Session.Execute; there is no stringly
// action routing inside the engine.
type Command interface {
	op() string
}

// Search finds live memories matching a query. Read-only; never counted.
type Search struct {
	Query string
	Kind  memory.Kind
	Limit int
}

// Consolidate merges two or more core memories into one replacement.
type Consolidate struct {
	IDs     []string
	Content string
}

// Update rewrites one memory's content.
type Update struct {
	ID      string
	Content string
}

// Delete soft-discards one memory.
type Delete struct {
	ID string
}

// Protect marks one memory constitutional. Never counted, never reversed.
type Protect struct {
	ID string
}

// Complete ends the session with the agent's reflective summary.
type Complete struct {
	Summary string
}

func (Search) op() string      { return "search" }
func (Consolidate) op() string { return "consolidate" }
func (Update) op() string      { return "update" }
func (Delete) op() string      { return "delete" }
func (Protect) op() string     { return "protect" }
func (Complete) op() string    { return "complete" }

// Stats holds a session's running operation counts.
type Stats struct {
	Searches       int `json:"searches"`
	Consolidations int `json:"consolidations"`
	Updates        int `json:"updates"`
	Deletions      int `json:"deletions"`
	Protections    int `json:"protections"`
}

// Outcome is the discriminated result of an executed command. The Type
// field inside each concrete outcome doubles as the JSON envelope tag.
type Outcome interface {
	outcome()
}

// SearchOutcome carries search hits.
type SearchOutcome struct {
	Type    string                `json:"type"`
	Results []memory.SearchResult `json:"results"`
}

// ConsolidateOutcome reports a successful merge.
type ConsolidateOutcome struct {
	Type      string        `json:"type"`
	Memory    memory.Memory `json:"memory"`
	Discarded []string      `json:"discarded"`
}

// UpdateOutcome reports a successful content rewrite.
type UpdateOutcome struct {
	Type   string        `json:"type"`
	Memory memory.Memory `json:"memory"`
}

// DeleteOutcome reports a successful soft-delete.
type DeleteOutcome struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ProtectOutcome reports a memory marked constitutional.
type ProtectOutcome struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// CompleteOutcome reports a session that ended in the completed state.
type CompleteOutcome struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Stats   Stats  `json:"stats"`
}

// RollbackOutcome reports a session that ended rolled back, whether from
// a breaker trip mid-session or at completion time.
type RollbackOutcome struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Reason  string `json:"reason"`
	Stats   Stats  `json:"stats"`
}

func (SearchOutcome) outcome()      {}
func (ConsolidateOutcome) outcome() {}
func (UpdateOutcome) outcome()      {}
func (DeleteOutcome) outcome()      {}
func (ProtectOutcome) outcome()     {}
func (CompleteOutcome) outcome()    {}
func (RollbackOutcome) outcome()    {}

// Envelope tags, one per outcome type.
const (
	TypeSearchResults = "search_results"
	TypeConsolidated  = "consolidated"
	TypeUpdated       = "updated"
	TypeDeleted       = "deleted"
	TypeProtected     = "protected"
	TypeComplete      = "refinement_complete"
	TypeRolledBack    = "refinement_rolled_back"
)
