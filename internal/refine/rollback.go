package refine

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dverbeek/memwarden/internal/memory"
)

// rollbackReport summarizes one rollback sweep.
type rollbackReport struct {
	Reversed int
	Skipped  int
	PostMass int
}

// rollbackSession reverses a session's ledger newest-first and finalizes
// the session row as rolled back, writing a journal memory alongside it.
// Reversal is best-effort: entries whose targets have vanished are skipped
// with a warning, and the terminal transition happens regardless. When
// stats is nil (startup recovery has no live session to ask) the operation
// counts are derived from the ledger itself.
func rollbackSession(store *memory.Store, rec memory.SessionRecord, reason string, stats *Stats) rollbackReport {
	entries, err := store.LedgerEntries(rec.ID)
	if err != nil {
		log.Error("rollback: cannot read ledger", "session", rec.ID, "error", err)
		entries = nil
	}
	if stats == nil {
		derived := statsFromEntries(entries)
		stats = &derived
	}

	report := reverseEntries(store, rec.ID, entries)
	if mass, err := store.CoreMass(); err == nil {
		report.PostMass = mass
	}

	journal := rollbackJournal(rec, reason, *stats, report)
	if _, err := store.FinishSession(rec.ID, memory.SessionRolledBack, reason, journal); err != nil {
		log.Error("rollback: failed to finalize session row", "session", rec.ID, "error", err)
	}
	log.Info("refinement session rolled back",
		"session", rec.ID, "reversed", report.Reversed, "skipped", report.Skipped,
		"core_mass", report.PostMass)
	return report
}

// reverseEntries walks ledger entries in reverse order, newest first, so
// that chained mutations unwind in the opposite order they were applied.
func reverseEntries(store *memory.Store, sessionID string, entries []memory.LedgerEntry) rollbackReport {
	var report rollbackReport
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ReversedAt != nil {
			continue
		}
		// Protections survive rollback: constitutional status, once
		// granted, is never revoked by the engine.
		if e.Op == memory.OpProtect {
			continue
		}
		if err := reverseEntry(store, e); err != nil {
			report.Skipped++
			log.Warn("rollback: skipping irreversible entry",
				"session", sessionID, "entry", e.ID, "op", e.Op, "error", err)
			continue
		}
		if err := store.MarkEntryReversed(e.ID); err != nil {
			log.Warn("rollback: could not stamp reversed entry", "entry", e.ID, "error", err)
		}
		report.Reversed++
	}
	return report
}

// reverseEntry issues the compensating write for a single ledger entry.
// Deletes are undone by undeleting, updates by restoring the before
// content, consolidations by discarding the merged memory and undeleting
// every original.
func reverseEntry(store *memory.Store, e memory.LedgerEntry) error {
	switch before := e.Before.(type) {
	case memory.DeleteBefore:
		return store.UndeleteMemory(before.Memory.ID)
	case memory.UpdateBefore:
		return store.RestoreContent(before.Memory.ID, before.Memory.Content)
	case memory.ConsolidateBefore:
		if e.Result != nil {
			if err := store.DiscardMemory(e.Result.ID); err != nil {
				log.Warn("rollback: merged memory already gone",
					"memory", e.Result.ID, "error", err)
			}
		}
		var firstErr error
		for _, original := range before.Originals {
			if err := store.UndeleteMemory(original.ID); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				log.Warn("rollback: could not restore original",
					"memory", original.ID, "error", err)
			}
		}
		return firstErr
	case nil:
		return fmt.Errorf("missing or undecodable before snapshot")
	default:
		return fmt.Errorf("no reversal for op %q", e.Op)
	}
}

// statsFromEntries reconstructs operation counts from the ledger. Searches
// leave no ledger trace, so they come back as zero.
func statsFromEntries(entries []memory.LedgerEntry) Stats {
	var st Stats
	for _, e := range entries {
		switch e.Op {
		case memory.OpConsolidate:
			st.Consolidations++
		case memory.OpUpdate:
			st.Updates++
		case memory.OpDelete:
			st.Deletions++
		case memory.OpProtect:
			st.Protections++
		}
	}
	return st
}

// ─── Journal content ─────────────────────────────────────────────────────────

func completionJournal(sessionID, summary string, stats Stats, preMass, postMass int) string {
	retained := 100.0
	if preMass > 0 {
		retained = float64(postMass) / float64(preMass) * 100
	}
	return fmt.Sprintf(
		"Refinement session %s completed: %s\nOperations: %s. Core mass %d → %d tokens (%.1f%% retained).",
		sessionID, summary, opSummary(stats), preMass, postMass, retained)
}

func rollbackJournal(rec memory.SessionRecord, reason string, stats Stats, report rollbackReport) string {
	return fmt.Sprintf(
		"Refinement session %s rolled back: %s\nReversed %d ledger entries (%d skipped). Operations before rollback: %s.\nCore mass %d → %d tokens; retention threshold %.0f%%.",
		rec.ID, reason, report.Reversed, report.Skipped, opSummary(stats),
		rec.PreSessionMass, report.PostMass, rec.Threshold*100)
}

func opSummary(stats Stats) string {
	parts := []string{
		plural(stats.Consolidations, "consolidation"),
		plural(stats.Updates, "update"),
		plural(stats.Deletions, "deletion"),
		plural(stats.Protections, "protection"),
	}
	return strings.Join(parts, ", ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
