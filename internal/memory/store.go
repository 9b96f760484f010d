// Package memory implements the persistent memory store for memwarden.
//
// It uses SQLite with FTS5 full-text search to hold an agent's long-term
// memories, the refinement session records, and the append-only mutation
// ledger that makes every refinement reversible. All curation writes go
// through the Apply* methods, which commit the mutation, its ledger entry,
// and the session's durable mutation count in a single transaction.
package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Errors ──────────────────────────────────────────────────────────────────

// Sentinel errors returned by store operations. Callers classify them
// with errors.Is; the refine package maps them onto its error taxonomy.
var (
	ErrNotFound       = errors.New("memory not found")
	ErrDiscarded      = errors.New("memory is discarded")
	ErrConstitutional = errors.New("memory is constitutional")
	ErrWrongKind      = errors.New("memory kind not eligible")
	ErrSessionGone    = errors.New("session not found")
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Kind distinguishes durable knowledge from the agent's own session notes.
type Kind string

const (
	// KindCore is long-term knowledge; core memories carry the mass the
	// retention breaker watches.
	KindCore Kind = "core"
	// KindJournal is a self-authored session record. Journal memories are
	// excluded from core mass and from consolidation.
	KindJournal Kind = "journal"
)

var validKinds = map[Kind]bool{
	KindCore:    true,
	KindJournal: true,
}

// ValidateKind checks that k is a known memory kind.
func ValidateKind(k Kind) error {
	if !validKinds[k] {
		return fmt.Errorf("invalid memory kind %q (valid: core, journal)", k)
	}
	return nil
}

// KindValues returns the valid kind strings, for tool schemas.
func KindValues() []string {
	return []string{string(KindCore), string(KindJournal)}
}

// Session states as persisted in refinement_sessions.state.
const (
	SessionActive     = "active"
	SessionCompleted  = "completed"
	SessionRolledBack = "rolled_back"
)

// Memory is a single remembered item. Discarded memories stay in the table
// with discarded_at set so that rollback can resurrect them.
type Memory struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Kind           Kind    `json:"kind"`
	Constitutional bool    `json:"constitutional"`
	TokenCount     int     `json:"token_count"`
	CreatedAt      string  `json:"created_at"`
	DiscardedAt    *string `json:"discarded_at,omitempty"`
}

// SearchResult embeds a Memory with its FTS5 rank score.
type SearchResult struct {
	Memory
	Rank float64 `json:"rank"`
}

// CreateMemoryParams holds the input for creating a new memory.
// CreatedAt overrides the insertion timestamp when non-empty; the
// consolidation path uses it to keep the earliest original timestamp.
type CreateMemoryParams struct {
	Content        string `json:"content"`
	Kind           Kind   `json:"kind"`
	Constitutional bool   `json:"constitutional,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// SessionRecord is the durable row for one refinement session. The state
// machine itself lives in the refine package; this is its persisted shape.
type SessionRecord struct {
	ID             string  `json:"id"`
	PreSessionMass int     `json:"pre_session_mass"`
	Threshold      float64 `json:"threshold"`
	MaxMutations   int     `json:"max_mutations"`
	State          string  `json:"state"`
	MutationCount  int     `json:"mutation_count"`
	StartedAt      string  `json:"started_at"`
	EndedAt        *string `json:"ended_at,omitempty"`
	Summary        *string `json:"summary,omitempty"`
}

// CreateSessionParams holds the input for opening a refinement session.
type CreateSessionParams struct {
	PreSessionMass int     `json:"pre_session_mass"`
	Threshold      float64 `json:"threshold"`
	MaxMutations   int     `json:"max_mutations"`
}

// SearchOptions holds filters for memory search.
type SearchOptions struct {
	Kind  Kind `json:"kind,omitempty"`
	Limit int  `json:"limit,omitempty"`
}

// Stats holds aggregate store statistics.
type Stats struct {
	CoreMemories   int `json:"core_memories"`
	JournalEntries int `json:"journal_entries"`
	Discarded      int `json:"discarded"`
	Constitutional int `json:"constitutional"`
	CoreMass       int `json:"core_mass"`
	Sessions       int `json:"sessions"`
	RolledBack     int `json:"rolled_back"`
	LedgerEntries  int `json:"ledger_entries"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds memory store configuration.
type Config struct {
	DataDir          string
	MaxSearchResults int
}

// DefaultConfig returns the default configuration for the memory store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".memwarden"),
		MaxSearchResults: 20,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent memory engine backed by SQLite + FTS5.
type Store struct {
	db      *sql.DB
	cfg     Config
	entropy *rand.Rand
	hooks   storeHooks
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlRowScanner struct {
	rows *sql.Rows
}

func (r sqlRowScanner) Next() bool             { return r.rows.Next() }
func (r sqlRowScanner) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRowScanner) Err() error             { return r.rows.Err() }
func (r sqlRowScanner) Close() error           { return r.rows.Close() }

type storeHooks struct {
	exec    func(db execer, query string, args ...any) (sql.Result, error)
	queryIt func(db queryer, query string, args ...any) (rowScanner, error)
	beginTx func(db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(db, query, args...)
	}
	return db.Exec(query, args...)
}

func (s *Store) queryItHook(db queryer, query string, args ...any) (rowScanner, error) {
	if s.hooks.queryIt != nil {
		return s.hooks.queryIt(db, query, args...)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowScanner{rows: rows}, nil
}

func (s *Store) beginTxHook() (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(s.db)
	}
	return s.db.Begin()
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a new Store with the given configuration.
// It creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "memwarden.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:      db,
		cfg:     cfg,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id             TEXT    PRIMARY KEY,
			content        TEXT    NOT NULL,
			kind           TEXT    NOT NULL DEFAULT 'core',
			constitutional INTEGER NOT NULL DEFAULT 0,
			token_count    INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT    NOT NULL DEFAULT (datetime('now')),
			discarded_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_mem_kind      ON memories(kind);
		CREATE INDEX IF NOT EXISTS idx_mem_discarded ON memories(discarded_at);
		CREATE INDEX IF NOT EXISTS idx_mem_created   ON memories(created_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='rowid'
		);

		CREATE TABLE IF NOT EXISTS refinement_sessions (
			id               TEXT    PRIMARY KEY,
			pre_session_mass INTEGER NOT NULL,
			threshold        REAL    NOT NULL,
			max_mutations    INTEGER NOT NULL,
			state            TEXT    NOT NULL DEFAULT 'active',
			mutation_count   INTEGER NOT NULL DEFAULT 0,
			started_at       TEXT    NOT NULL DEFAULT (datetime('now')),
			ended_at         TEXT,
			summary          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sess_state   ON refinement_sessions(state);
		CREATE INDEX IF NOT EXISTS idx_sess_started ON refinement_sessions(started_at DESC);

		CREATE TABLE IF NOT EXISTS mutation_ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT    NOT NULL,
			op          TEXT    NOT NULL,
			target_ids  TEXT    NOT NULL,
			before      TEXT    NOT NULL,
			result      TEXT,
			reversed_at TEXT,
			created_at  TEXT    NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES refinement_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_session ON mutation_ledger(session_id);
	`
	if _, err := s.execHook(s.db, schema); err != nil {
		return err
	}

	// Create FTS triggers (idempotent)
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='mem_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER mem_fts_insert AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, content)
				VALUES (new.rowid, new.content);
			END;

			CREATE TRIGGER mem_fts_delete AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, content)
				VALUES ('delete', old.rowid, old.content);
			END;

			CREATE TRIGGER mem_fts_update AFTER UPDATE OF content ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, content)
				VALUES ('delete', old.rowid, old.content);
				INSERT INTO memories_fts(rowid, content)
				VALUES (new.rowid, new.content);
			END;
		`
		if _, err := s.execHook(s.db, triggers); err != nil {
			return err
		}
	}

	return nil
}

// ─── Memories ────────────────────────────────────────────────────────────────

// CreateMemory inserts a new memory and returns it.
func (s *Store) CreateMemory(p CreateMemoryParams) (*Memory, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("memory content must not be empty")
	}
	if p.Kind == "" {
		p.Kind = KindCore
	}
	if err := ValidateKind(p.Kind); err != nil {
		return nil, err
	}

	id := s.newID()
	createdAt := p.CreatedAt
	if createdAt == "" {
		createdAt = Now()
	}

	if _, err := s.execHook(s.db,
		`INSERT INTO memories (id, content, kind, constitutional, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.Content, string(p.Kind), boolToInt(p.Constitutional),
		tokenEstimate(p.Content), createdAt,
	); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}

	return s.GetMemory(id)
}

// GetMemory returns a memory by ID, discarded or not. Callers that only
// accept live memories must inspect DiscardedAt.
func (s *Store) GetMemory(id string) (*Memory, error) {
	return getMemory(s.db, id)
}

func getMemory(q queryer, id string) (*Memory, error) {
	row := q.QueryRow(
		`SELECT id, content, kind, constitutional, token_count, created_at, discarded_at
		 FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, err
}

func scanMemory(row *sql.Row) (*Memory, error) {
	var m Memory
	var kind string
	var constitutional int
	err := row.Scan(&m.ID, &m.Content, &kind, &constitutional,
		&m.TokenCount, &m.CreatedAt, &m.DiscardedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Kind = Kind(kind)
	m.Constitutional = constitutional != 0
	return &m, nil
}

// liveMemory fetches a memory and rejects discarded ones.
func liveMemory(q queryer, id string) (*Memory, error) {
	m, err := getMemory(q, id)
	if err != nil {
		return nil, err
	}
	if m.DiscardedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiscarded, id)
	}
	return m, nil
}

// SearchMemories runs an FTS5 search over live memories. An empty or
// whitespace-only query falls back to the most recent memories.
func (s *Store) SearchMemories(query string, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return s.searchRecent(opts, limit)
	}

	sqlStr := `
		SELECT m.id, m.content, m.kind, m.constitutional, m.token_count,
		       m.created_at, m.discarded_at, fts.rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND m.discarded_at IS NULL
	`
	args := []any{ftsQuery}

	if opts.Kind != "" {
		sqlStr += " AND m.kind = ?"
		args = append(args, string(opts.Kind))
	}

	sqlStr += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryItHook(s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSearchResults(rows)
}

// searchRecent returns the most recent live memories without FTS, used as
// fallback when the query is empty or whitespace-only.
func (s *Store) searchRecent(opts SearchOptions, limit int) ([]SearchResult, error) {
	sqlStr := `
		SELECT id, content, kind, constitutional, token_count,
		       created_at, discarded_at, 0 AS rank
		FROM memories
		WHERE discarded_at IS NULL
	`
	var args []any

	if opts.Kind != "" {
		sqlStr += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}

	sqlStr += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryItHook(s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSearchResults(rows)
}

func scanSearchResults(rows rowScanner) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var sr SearchResult
		var kind string
		var constitutional int
		if err := rows.Scan(
			&sr.ID, &sr.Content, &kind, &constitutional, &sr.TokenCount,
			&sr.CreatedAt, &sr.DiscardedAt, &sr.Rank,
		); err != nil {
			return nil, err
		}
		sr.Kind = Kind(kind)
		sr.Constitutional = constitutional != 0
		results = append(results, sr)
	}
	return results, rows.Err()
}

// CoreMass returns the summed token estimate of all live core memories.
// It is always computed from the live table, never tracked incrementally:
// the retention breaker depends on this being the ground truth.
func (s *Store) CoreMass() (int, error) {
	var mass int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(token_count), 0) FROM memories
		 WHERE kind = ? AND discarded_at IS NULL`, string(KindCore),
	).Scan(&mass)
	if err != nil {
		return 0, fmt.Errorf("core mass: %w", err)
	}
	return mass, nil
}

// PurgeMemory hard-deletes a memory row. This is an admin/retention
// operation; refinement sessions only ever soft-delete.
func (s *Store) PurgeMemory(id string) error {
	res, err := s.execHook(s.db, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purge memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ─── Refinement sessions ─────────────────────────────────────────────────────

// CreateSession opens a new refinement session row in the active state.
func (s *Store) CreateSession(p CreateSessionParams) (*SessionRecord, error) {
	id := s.newID()
	if _, err := s.execHook(s.db,
		`INSERT INTO refinement_sessions
		 (id, pre_session_mass, threshold, max_mutations, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.PreSessionMass, p.Threshold, p.MaxMutations, SessionActive, Now(),
	); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.SessionByID(id)
}

// SessionByID returns a session row by ID.
func (s *Store) SessionByID(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, pre_session_mass, threshold, max_mutations, state,
		        mutation_count, started_at, ended_at, summary
		 FROM refinement_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LatestSession returns the most recently started session, or ErrSessionGone
// when none exists.
func (s *Store) LatestSession() (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, pre_session_mass, threshold, max_mutations, state,
		        mutation_count, started_at, ended_at, summary
		 FROM refinement_sessions ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	err := row.Scan(&rec.ID, &rec.PreSessionMass, &rec.Threshold, &rec.MaxMutations,
		&rec.State, &rec.MutationCount, &rec.StartedAt, &rec.EndedAt, &rec.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionGone
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ActiveSessions returns all sessions still marked active. After a clean
// shutdown this is empty or holds the one live session; anything found at
// startup is a crash leftover for the recovery sweep.
func (s *Store) ActiveSessions() ([]SessionRecord, error) {
	rows, err := s.queryItHook(s.db,
		`SELECT id, pre_session_mass, threshold, max_mutations, state,
		        mutation_count, started_at, ended_at, summary
		 FROM refinement_sessions WHERE state = ? ORDER BY started_at`, SessionActive)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.PreSessionMass, &rec.Threshold,
			&rec.MaxMutations, &rec.State, &rec.MutationCount,
			&rec.StartedAt, &rec.EndedAt, &rec.Summary); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FinishSession moves a session to a terminal state and writes the
// self-authored journal memory in the same transaction. The journal
// content may be empty, in which case no journal memory is created.
func (s *Store) FinishSession(id, state, summary, journal string) (*Memory, error) {
	if state != SessionCompleted && state != SessionRolledBack {
		return nil, fmt.Errorf("finish session: %q is not a terminal state", state)
	}

	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := s.execHook(tx,
		`UPDATE refinement_sessions
		 SET state = ?, summary = ?, ended_at = ?
		 WHERE id = ? AND state = ?`,
		state, nullableString(summary), Now(), id, SessionActive,
	)
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s (or already terminal)", ErrSessionGone, id)
	}

	var journalMem *Memory
	if journal != "" {
		jid := s.newID()
		now := Now()
		if _, err := s.execHook(tx,
			`INSERT INTO memories (id, content, kind, constitutional, token_count, created_at)
			 VALUES (?, ?, ?, 0, ?, ?)`,
			jid, journal, string(KindJournal), tokenEstimate(journal), now,
		); err != nil {
			return nil, fmt.Errorf("write session journal: %w", err)
		}
		journalMem = &Memory{
			ID:         jid,
			Content:    journal,
			Kind:       KindJournal,
			TokenCount: tokenEstimate(journal),
			CreatedAt:  now,
		}
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return journalMem, nil
}

// ─── Refinement applies ──────────────────────────────────────────────────────
//
// Each Apply* method performs one curation mutation. The mutation, its
// ledger entry, and (for counted operations) the session's mutation_count
// bump commit in a single transaction — either all of it lands or none.

// ApplyUpdate rewrites a live memory's content and records before/after
// snapshots in the ledger.
func (s *Store) ApplyUpdate(sessionID, id, content string) (*Memory, error) {
	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	before, err := liveMemory(tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.execHook(tx,
		`UPDATE memories SET content = ?, token_count = ? WHERE id = ?`,
		content, tokenEstimate(content), id,
	); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}

	after, err := getMemory(tx, id)
	if err != nil {
		return nil, err
	}

	if err := s.appendEntry(tx, sessionID, OpUpdate, []string{id},
		UpdateBefore{Memory: snapshotOf(before)}, snapshotPtr(after)); err != nil {
		return nil, err
	}
	if err := s.bumpMutationCount(tx, sessionID); err != nil {
		return nil, err
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return after, nil
}

// ApplyDelete soft-deletes a live, non-constitutional memory.
func (s *Store) ApplyDelete(sessionID, id string) (*Memory, error) {
	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	before, err := liveMemory(tx, id)
	if err != nil {
		return nil, err
	}
	if before.Constitutional {
		return nil, fmt.Errorf("%w: cannot delete %s", ErrConstitutional, id)
	}

	if _, err := s.execHook(tx,
		`UPDATE memories SET discarded_at = ? WHERE id = ?`, Now(), id,
	); err != nil {
		return nil, fmt.Errorf("discard memory: %w", err)
	}

	after, err := getMemory(tx, id)
	if err != nil {
		return nil, err
	}

	if err := s.appendEntry(tx, sessionID, OpDelete, []string{id},
		DeleteBefore{Memory: snapshotOf(before)}, snapshotPtr(after)); err != nil {
		return nil, err
	}
	if err := s.bumpMutationCount(tx, sessionID); err != nil {
		return nil, err
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return after, nil
}

// ApplyConsolidate merges two or more live, non-constitutional core
// memories into one new memory. The merged memory inherits the earliest
// created_at of the originals; the originals are soft-deleted. Exactly one
// ledger entry covers the whole merge.
func (s *Store) ApplyConsolidate(sessionID string, ids []string, content string) (*Memory, error) {
	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	originals := make([]MemorySnapshot, 0, len(ids))
	earliest := ""
	for _, id := range ids {
		m, err := liveMemory(tx, id)
		if err != nil {
			return nil, err
		}
		if m.Constitutional {
			return nil, fmt.Errorf("%w: cannot consolidate %s", ErrConstitutional, id)
		}
		if m.Kind != KindCore {
			return nil, fmt.Errorf("%w: cannot consolidate %s memory %s", ErrWrongKind, m.Kind, id)
		}
		if earliest == "" || m.CreatedAt < earliest {
			earliest = m.CreatedAt
		}
		originals = append(originals, snapshotOf(m))
	}

	mergedID := s.newID()
	if _, err := s.execHook(tx,
		`INSERT INTO memories (id, content, kind, constitutional, token_count, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		mergedID, content, string(KindCore), tokenEstimate(content), earliest,
	); err != nil {
		return nil, fmt.Errorf("create merged memory: %w", err)
	}

	discardedAt := Now()
	for _, id := range ids {
		if _, err := s.execHook(tx,
			`UPDATE memories SET discarded_at = ? WHERE id = ?`, discardedAt, id,
		); err != nil {
			return nil, fmt.Errorf("discard original %s: %w", id, err)
		}
	}

	merged, err := getMemory(tx, mergedID)
	if err != nil {
		return nil, err
	}

	if err := s.appendEntry(tx, sessionID, OpConsolidate, ids,
		ConsolidateBefore{Originals: originals}, snapshotPtr(merged)); err != nil {
		return nil, err
	}
	if err := s.bumpMutationCount(tx, sessionID); err != nil {
		return nil, err
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return merged, nil
}

// ApplyProtect marks a live memory constitutional. Protection is recorded
// in the ledger for audit but never bumps the mutation count and is never
// reversed by rollback.
func (s *Store) ApplyProtect(sessionID, id string) (*Memory, error) {
	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	before, err := liveMemory(tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.execHook(tx,
		`UPDATE memories SET constitutional = 1 WHERE id = ?`, id,
	); err != nil {
		return nil, fmt.Errorf("protect memory: %w", err)
	}

	after, err := getMemory(tx, id)
	if err != nil {
		return nil, err
	}

	if err := s.appendEntry(tx, sessionID, OpProtect, []string{id},
		ProtectBefore{ID: id, WasConstitutional: before.Constitutional},
		snapshotPtr(after)); err != nil {
		return nil, err
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return after, nil
}

func (s *Store) bumpMutationCount(tx execer, sessionID string) error {
	if _, err := s.execHook(tx,
		`UPDATE refinement_sessions SET mutation_count = mutation_count + 1
		 WHERE id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("bump mutation count: %w", err)
	}
	return nil
}

// ─── Rollback primitives ─────────────────────────────────────────────────────

// UndeleteMemory clears a memory's discarded_at stamp. Returns ErrNotFound
// when no discarded row with that id exists.
func (s *Store) UndeleteMemory(id string) error {
	res, err := s.execHook(s.db,
		`UPDATE memories SET discarded_at = NULL
		 WHERE id = ? AND discarded_at IS NOT NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("undelete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (not present or not discarded)", ErrNotFound, id)
	}
	return nil
}

// RestoreContent rewrites a memory's content from a ledger snapshot.
func (s *Store) RestoreContent(id, content string) error {
	res, err := s.execHook(s.db,
		`UPDATE memories SET content = ?, token_count = ? WHERE id = ?`,
		content, tokenEstimate(content), id,
	)
	if err != nil {
		return fmt.Errorf("restore content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DiscardMemory soft-deletes a memory outside any session. Rollback uses
// it to retire the merged product of a reversed consolidation.
func (s *Store) DiscardMemory(id string) error {
	res, err := s.execHook(s.db,
		`UPDATE memories SET discarded_at = ?
		 WHERE id = ? AND discarded_at IS NULL`, Now(), id,
	)
	if err != nil {
		return fmt.Errorf("discard memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (not present or already discarded)", ErrNotFound, id)
	}
	return nil
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// StoreStats returns aggregate statistics over memories, sessions and the
// ledger.
func (s *Store) StoreStats() (*Stats, error) {
	stats := &Stats{}

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE kind = 'core' AND discarded_at IS NULL`).Scan(&stats.CoreMemories)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE kind = 'journal' AND discarded_at IS NULL`).Scan(&stats.JournalEntries)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE discarded_at IS NOT NULL`).Scan(&stats.Discarded)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE constitutional = 1 AND discarded_at IS NULL`).Scan(&stats.Constitutional)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM refinement_sessions`).Scan(&stats.Sessions)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM refinement_sessions WHERE state = 'rolled_back'`).Scan(&stats.RolledBack)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM mutation_ledger`).Scan(&stats.LedgerEntries)

	mass, err := s.CoreMass()
	if err != nil {
		return stats, nil
	}
	stats.CoreMass = mass
	return stats, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// tokenEstimate approximates content size in tokens (~4 chars per token).
// Memory mass is the sum of these estimates.
func tokenEstimate(content string) int {
	return len(content) / 4
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "auth token" → `"auth" "token"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

// Now returns the current time formatted for SQLite.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
