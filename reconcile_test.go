package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func runReconcile(t *testing.T) []ReconcileResult {
	t.Helper()
	w := httptest.NewRecorder()
	handleReconcileLots(w, jsonRequest("POST", "/api/v1/lots/reconcile", ""))
	assertStatus(t, w, 200)
	var results []ReconcileResult
	decodeData(t, w, &results)
	return results
}

func materialLots(t *testing.T, code string) []MaterialLot {
	t.Helper()
	w := httptest.NewRecorder()
	handleListMaterialLots(w, jsonRequest("GET", "/api/v1/materials/x/lots", ""), code)
	assertStatus(t, w, 200)
	var lots []MaterialLot
	decodeData(t, w, &lots)
	return lots
}

func TestReconcilerCreatesOpeningBalanceLot(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	// Legacy aggregate stock with no lots behind it.
	createTestMaterial(t, "RM-LEG-001", "Legacy Material", "raw_material", "kg", "3.00", "100")

	results := runReconcile(t)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].MaterialCode != "RM-LEG-001" {
		t.Errorf("material = %s, want RM-LEG-001", results[0].MaterialCode)
	}
	if !results[0].Quantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("quantity = %s, want 100", results[0].Quantity)
	}

	lots := materialLots(t, "RM-LEG-001")
	if len(lots) != 1 {
		t.Fatalf("lots = %d, want 1", len(lots))
	}
	lot := lots[0]
	if lot.SupplierLot != "opening balance" {
		t.Errorf("supplier_lot = %q, want \"opening balance\"", lot.SupplierLot)
	}
	if lot.Status != "AVAILABLE" {
		t.Errorf("status = %s, want AVAILABLE", lot.Status)
	}
	if !lot.RemainingQuantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("remaining = %s, want 100", lot.RemainingQuantity)
	}

	// Default expiry sits one year out.
	wantExpiry := time.Now().AddDate(0, 12, 0).Format("2006-01-02")
	if lot.ExpiryDate != wantExpiry {
		t.Errorf("expiry = %s, want %s", lot.ExpiryDate, wantExpiry)
	}
}

func TestReconcilerIsIdempotent(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	createTestMaterial(t, "RM-LEG-002", "Legacy Material", "raw_material", "kg", "3.00", "75.25")

	first := runReconcile(t)
	if len(first) != 1 {
		t.Fatalf("first run results = %d, want 1", len(first))
	}
	second := runReconcile(t)
	if len(second) != 0 {
		t.Fatalf("second run results = %d, want 0", len(second))
	}
	if lots := materialLots(t, "RM-LEG-002"); len(lots) != 1 {
		t.Errorf("lots after two runs = %d, want 1", len(lots))
	}
}

func TestReconcilerCoversOnlyTheGap(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	// 100 legacy units plus a 30-unit tracked receipt: the gap is still 100.
	createTestMaterial(t, "RM-LEG-003", "Legacy Material", "raw_material", "Lt", "1.85", "100")
	createTestLot(t, "RM-LEG-003", "30")

	results := runReconcile(t)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if !results[0].Quantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("gap lot quantity = %s, want 100", results[0].Quantity)
	}
}

func TestReconcilerSkipsFullyCoveredMaterials(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	createTestMaterial(t, "RM-OK-001", "Covered Material", "raw_material", "kg", "2.00", "0")
	createTestLot(t, "RM-OK-001", "40")

	if results := runReconcile(t); len(results) != 0 {
		t.Fatalf("results = %d, want 0", len(results))
	}
}
