package main

import (
	"fmt"
	"testing"
	"time"
)

func allocate(t *testing.T, fn func() (string, error)) string {
	t.Helper()
	n, err := fn()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestDayScopedNumberFormat(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	first := allocate(t, func() (string, error) { return nextOrderNumber(tx, day) })
	second := allocate(t, func() (string, error) { return nextOrderNumber(tx, day) })
	batch := allocate(t, func() (string, error) { return nextBatchNumber(tx, day) })
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if first != "UE-20260201-001" {
		t.Errorf("first order number = %s, want UE-20260201-001", first)
	}
	if second != "UE-20260201-002" {
		t.Errorf("second order number = %s, want UE-20260201-002", second)
	}
	// Batch numbers count independently of order numbers.
	if batch != "BAT-20260201-001" {
		t.Errorf("batch number = %s, want BAT-20260201-001", batch)
	}
}

func TestCountersScopeByDay(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	day1 := time.Date(2026, 2, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 1, 0, 0, 0, time.UTC)

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	n1 := allocate(t, func() (string, error) { return nextOrderNumber(tx, day1) })
	n2 := allocate(t, func() (string, error) { return nextOrderNumber(tx, day2) })
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if n1 != "UE-20260201-001" || n2 != "UE-20260202-001" {
		t.Errorf("day rollover should restart at 001: got %s and %s", n1, n2)
	}
}

func TestRecipeIDScopesByYear(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	id1 := allocate(t, func() (string, error) { return nextRecipeID(tx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) })
	id2 := allocate(t, func() (string, error) { return nextRecipeID(tx, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)) })
	id3 := allocate(t, func() (string, error) { return nextRecipeID(tx, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) })
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if id1 != "RCP-2026-001" || id2 != "RCP-2026-002" || id3 != "RCP-2027-001" {
		t.Errorf("recipe ids = %s, %s, %s", id1, id2, id3)
	}
}

func TestNumberingPastThreeDigits(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec("INSERT INTO sequence_counters (prefix, scope, counter) VALUES ('BAT', '20260201', 999)"); err != nil {
		t.Fatal(err)
	}
	n := allocate(t, func() (string, error) { return nextBatchNumber(tx, day) })
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if n != "BAT-20260201-1000" {
		t.Errorf("counter past 999 = %s, want BAT-20260201-1000", n)
	}
}

func TestSequenceRollsBackWithEntity(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// An aborted transaction must not burn a number: the next committed
	// allocation still starts at 001.
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := nextOrderNumber(tx, day); err != nil {
		t.Fatal(err)
	}
	tx.Rollback()

	tx2, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	n := allocate(t, func() (string, error) { return nextOrderNumber(tx2, day) })
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	if n != "UE-20260201-001" {
		t.Errorf("after rollback got %s, want UE-20260201-001", n)
	}
}

func TestOrderCreationUsesSequence(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	createTestMaterial(t, "FP-TEST-001", "Test Product", "finished_product", "un", "1.00", "0")

	today := time.Now().Format("20060102")
	for i := 1; i <= 3; i++ {
		o := createTestOrder(t, "FP-TEST-001", "100")
		want := fmt.Sprintf("UE-%s-%03d", today, i)
		if o.OrderNumber != want {
			t.Errorf("order %d number = %s, want %s", i, o.OrderNumber, want)
		}
	}
}
