package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Number prefixes issued by the sequence counter.
const (
	prefixOrder  = "UE"
	prefixBatch  = "BAT"
	prefixLot    = "LOT"
	prefixRecipe = "RCP"
)

// errSequenceAllocation marks a failed counter allocation. The owning entity
// creation must fail with it; there is no fallback numbering scheme.
var errSequenceAllocation = errors.New("sequence allocation failed")

// nextSeq atomically increments and returns the counter for (prefix, scope).
// The single upsert-RETURNING statement serializes concurrent callers inside
// SQLite's write lock, so two transactions can never observe the same value.
// Counters are never decremented: cancelling the owning entity leaves a gap,
// which is acceptable; a duplicate is not.
func nextSeq(tx *sql.Tx, prefix, scope string) (int, error) {
	var n int
	err := tx.QueryRow(`INSERT INTO sequence_counters (prefix, scope, counter) VALUES (?, ?, 1)
		ON CONFLICT(prefix, scope) DO UPDATE SET counter = counter + 1
		RETURNING counter`, prefix, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w for %s/%s: %v", errSequenceAllocation, prefix, scope, err)
	}
	return n, nil
}

// nextDayNumber issues a <PREFIX>-YYYYMMDD-NNN identifier scoped to the
// calendar day. NNN is 1-based and zero-padded to three digits; it keeps
// growing past 999.
func nextDayNumber(tx *sql.Tx, prefix string, t time.Time) (string, error) {
	day := t.Format("20060102")
	n, err := nextSeq(tx, prefix, day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%03d", prefix, day, n), nil
}

func nextOrderNumber(tx *sql.Tx, t time.Time) (string, error) {
	return nextDayNumber(tx, prefixOrder, t)
}

func nextBatchNumber(tx *sql.Tx, t time.Time) (string, error) {
	return nextDayNumber(tx, prefixBatch, t)
}

func nextLotNumber(tx *sql.Tx, t time.Time) (string, error) {
	return nextDayNumber(tx, prefixLot, t)
}

// nextRecipeID issues RCP-YYYY-NNN, scoped to the calendar year.
func nextRecipeID(tx *sql.Tx, t time.Time) (string, error) {
	year := t.Format("2006")
	n, err := nextSeq(tx, prefixRecipe, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%03d", prefixRecipe, year, n), nil
}
