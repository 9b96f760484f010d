package memory

import (
	"encoding/json"
	"fmt"
)

// The mutation ledger is the append-only reversal log for refinement
// sessions. Every Apply* operation writes exactly one entry in the same
// transaction as its mutation. Rows are never updated after the fact
// except to stamp reversed_at during rollback, and never deleted.

// OpKind identifies the operation a ledger entry records.
type OpKind string

const (
	OpConsolidate OpKind = "consolidate"
	OpUpdate      OpKind = "update"
	OpDelete      OpKind = "delete"
	OpProtect     OpKind = "protect"
)

// MemorySnapshot is a memory's full state frozen at ledger-write time.
type MemorySnapshot struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Kind           Kind    `json:"kind"`
	Constitutional bool    `json:"constitutional"`
	TokenCount     int     `json:"token_count"`
	CreatedAt      string  `json:"created_at"`
	DiscardedAt    *string `json:"discarded_at,omitempty"`
}

// BeforeSnapshot is the tagged pre-mutation state of a ledger entry.
// Each operation kind carries its own variant, so reversal logic can
// switch over concrete types instead of poking at loose maps.
type BeforeSnapshot interface {
	beforeSnapshot()
}

// UpdateBefore holds the memory as it was before an update rewrote it.
type UpdateBefore struct {
	Memory MemorySnapshot `json:"memory"`
}

// DeleteBefore holds the memory as it was before a delete discarded it.
type DeleteBefore struct {
	Memory MemorySnapshot `json:"memory"`
}

// ConsolidateBefore holds every original that a consolidation merged away.
type ConsolidateBefore struct {
	Originals []MemorySnapshot `json:"originals"`
}

// ProtectBefore records whether the target was already constitutional.
type ProtectBefore struct {
	ID                string `json:"id"`
	WasConstitutional bool   `json:"was_constitutional"`
}

func (UpdateBefore) beforeSnapshot()      {}
func (DeleteBefore) beforeSnapshot()      {}
func (ConsolidateBefore) beforeSnapshot() {}
func (ProtectBefore) beforeSnapshot()     {}

// LedgerEntry is one recorded mutation. Before is nil when the stored
// snapshot cannot be decoded; rollback skips such entries with a warning
// instead of failing the whole reversal.
type LedgerEntry struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	Op         OpKind          `json:"op"`
	TargetIDs  []string        `json:"target_ids"`
	Before     BeforeSnapshot  `json:"before,omitempty"`
	Result     *MemorySnapshot `json:"result,omitempty"`
	ReversedAt *string         `json:"reversed_at,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// appendEntry writes one ledger row inside the caller's transaction.
func (s *Store) appendEntry(tx execer, sessionID string, op OpKind, targetIDs []string, before BeforeSnapshot, result *MemorySnapshot) error {
	targets, err := json.Marshal(targetIDs)
	if err != nil {
		return fmt.Errorf("marshal target ids: %w", err)
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	var resultJSON *string
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result snapshot: %w", err)
		}
		resultJSON = nullableString(string(raw))
	}

	if _, err := s.execHook(tx,
		`INSERT INTO mutation_ledger (session_id, op, target_ids, before, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(op), string(targets), string(beforeJSON), resultJSON, Now(),
	); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// LedgerEntries returns a session's ledger in append order (oldest first).
// Entries with snapshots that no longer decode come back with a nil Before
// rather than an error, so a damaged row cannot block rollback or audit.
func (s *Store) LedgerEntries(sessionID string) ([]LedgerEntry, error) {
	rows, err := s.queryItHook(s.db,
		`SELECT id, session_id, op, target_ids, before, result, reversed_at, created_at
		 FROM mutation_ledger WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var op, targets, before string
		var result *string
		if err := rows.Scan(&e.ID, &e.SessionID, &op, &targets, &before,
			&result, &e.ReversedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Op = OpKind(op)
		if err := json.Unmarshal([]byte(targets), &e.TargetIDs); err != nil {
			e.TargetIDs = nil
		}
		if decoded, err := decodeBefore(e.Op, []byte(before)); err == nil {
			e.Before = decoded
		}
		if result != nil {
			var snap MemorySnapshot
			if err := json.Unmarshal([]byte(*result), &snap); err == nil {
				e.Result = &snap
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryReversed stamps a ledger entry as undone by rollback. This is
// the only mutation the ledger permits after append.
func (s *Store) MarkEntryReversed(entryID int64) error {
	res, err := s.execHook(s.db,
		`UPDATE mutation_ledger SET reversed_at = ?
		 WHERE id = ? AND reversed_at IS NULL`, Now(), entryID,
	)
	if err != nil {
		return fmt.Errorf("mark entry reversed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger entry %d not found or already reversed", entryID)
	}
	return nil
}

// decodeBefore rebuilds the typed snapshot variant for an operation kind.
func decodeBefore(op OpKind, raw []byte) (BeforeSnapshot, error) {
	switch op {
	case OpUpdate:
		var b UpdateBefore
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case OpDelete:
		var b DeleteBefore
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case OpConsolidate:
		var b ConsolidateBefore
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case OpProtect:
		var b ProtectBefore
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown ledger op %q", op)
	}
}

func snapshotOf(m *Memory) MemorySnapshot {
	return MemorySnapshot{
		ID:             m.ID,
		Content:        m.Content,
		Kind:           m.Kind,
		Constitutional: m.Constitutional,
		TokenCount:     m.TokenCount,
		CreatedAt:      m.CreatedAt,
		DiscardedAt:    m.DiscardedAt,
	}
}

func snapshotPtr(m *Memory) *MemorySnapshot {
	snap := snapshotOf(m)
	return &snap
}
