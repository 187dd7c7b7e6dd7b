package main

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func lotTestFixtures(t *testing.T) (MaterialLot, ProductionBatch) {
	t.Helper()
	createTestMaterial(t, "RM-ETH-T01", "Ethanol 96%", "raw_material", "Lt", "1.85", "0")
	createTestMaterial(t, "FP-SAN-T01", "Hand Sanitizer", "finished_product", "un", "4.90", "0")
	lot := createTestLot(t, "RM-ETH-T01", "30")
	order := createTestOrder(t, "FP-SAN-T01", "5000")
	batch := createTestBatch(t, order.ID, "2500", "PENDING")
	return lot, batch
}

func TestLotCreationAllocatesNumberAndStock(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	createTestMaterial(t, "RM-GLY-T01", "Glycerin", "raw_material", "kg", "2.40", "0")
	lot := createTestLot(t, "RM-GLY-T01", "25.5")

	today := time.Now().Format("20060102")
	if want := "LOT-" + today + "-001"; lot.LotNumber != want {
		t.Errorf("lot number = %s, want %s", lot.LotNumber, want)
	}
	if lot.Status != "AVAILABLE" {
		t.Errorf("new lot status = %s, want AVAILABLE", lot.Status)
	}
	if !lot.RemainingQuantity.Equal(lot.Quantity) {
		t.Errorf("remaining %s != quantity %s", lot.RemainingQuantity, lot.Quantity)
	}

	// Receiving the lot raises the material aggregate.
	w := httptest.NewRecorder()
	handleGetMaterial(w, jsonRequest("GET", "/api/v1/materials/x", ""), "RM-GLY-T01")
	var m Material
	decodeData(t, w, &m)
	if !m.CurrentStock.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("current_stock = %s, want 25.5", m.CurrentStock)
	}
}

func TestRecordConsumptionDecrementsLot(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	w := consumeLot(t, lot.ID, batch.ID, "0.7")
	assertStatus(t, w, 200)
	var c LotConsumption
	decodeData(t, w, &c)

	if !c.Quantity.Equal(decimal.RequireFromString("0.7")) {
		t.Errorf("consumption quantity = %s, want 0.7", c.Quantity)
	}
	if c.Unit != "Lt" {
		t.Errorf("consumption unit = %s, want Lt", c.Unit)
	}
	if !c.UnitCost.Equal(decimal.RequireFromString("1.85")) {
		t.Errorf("unit cost snapshot = %s, want 1.85", c.UnitCost)
	}

	after := getLot(t, lot.ID)
	if !after.RemainingQuantity.Equal(decimal.RequireFromString("29.3")) {
		t.Errorf("remaining = %s, want 29.3", after.RemainingQuantity)
	}
	if after.Status != "AVAILABLE" {
		t.Errorf("lot status = %s, want AVAILABLE", after.Status)
	}
}

func TestConsumptionExceedingRemainingFails(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	assertStatus(t, consumeLot(t, lot.ID, batch.ID, "0.7"), 200)

	w := consumeLot(t, lot.ID, batch.ID, "40")
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INSUFFICIENT_LOT_QUANTITY" {
		t.Errorf("error code = %s, want INSUFFICIENT_LOT_QUANTITY", code)
	}

	// The failed attempt must leave the lot untouched.
	after := getLot(t, lot.ID)
	if !after.RemainingQuantity.Equal(decimal.RequireFromString("29.3")) {
		t.Errorf("remaining after failed consumption = %s, want 29.3", after.RemainingQuantity)
	}
}

func TestConsumptionFromQuarantinedLotFails(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateLot(w, jsonRequest("PUT", "/api/v1/lots/x", `{"status":"QUARANTINE"}`), fmt.Sprintf("%d", lot.ID))
	assertStatus(t, w, 200)

	w = consumeLot(t, lot.ID, batch.ID, "1")
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "LOT_NOT_AVAILABLE" {
		t.Errorf("error code = %s, want LOT_NOT_AVAILABLE", code)
	}
}

func TestReservedLotIsConsumable(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateLot(w, jsonRequest("PUT", "/api/v1/lots/x", `{"status":"RESERVED"}`), fmt.Sprintf("%d", lot.ID))
	assertStatus(t, w, 200)

	assertStatus(t, consumeLot(t, lot.ID, batch.ID, "5"), 200)
	after := getLot(t, lot.ID)
	if after.Status != "RESERVED" {
		t.Errorf("partially consumed reserved lot status = %s, want RESERVED", after.Status)
	}
}

func TestLotExhaustionFlipsToConsumed(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	assertStatus(t, consumeLot(t, lot.ID, batch.ID, "30"), 200)

	after := getLot(t, lot.ID)
	if after.Status != "CONSUMED" {
		t.Errorf("exhausted lot status = %s, want CONSUMED", after.Status)
	}
	if !after.RemainingQuantity.IsZero() {
		t.Errorf("exhausted lot remaining = %s, want 0", after.RemainingQuantity)
	}

	w := consumeLot(t, lot.ID, batch.ID, "1")
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "LOT_NOT_AVAILABLE" {
		t.Errorf("error code = %s, want LOT_NOT_AVAILABLE", code)
	}
}

func TestLotConservation(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	for _, q := range []string{"3", "2.5", "0.123456", "10"} {
		assertStatus(t, consumeLot(t, lot.ID, batch.ID, q), 200)
	}

	w := httptest.NewRecorder()
	handleListLotConsumptions(w, jsonRequest("GET", "/api/v1/lots/x/consumptions", ""), fmt.Sprintf("%d", lot.ID))
	assertStatus(t, w, 200)
	var entries []LotConsumption
	decodeData(t, w, &entries)

	consumed := decimal.Zero
	for _, e := range entries {
		consumed = consumed.Add(e.Quantity)
	}
	after := getLot(t, lot.ID)
	if !after.RemainingQuantity.Add(consumed).Equal(after.Quantity) {
		t.Errorf("conservation violated: remaining %s + consumed %s != quantity %s",
			after.RemainingQuantity, consumed, after.Quantity)
	}
}

func TestLotQuantitiesAreImmutable(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, _ := lotTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateLot(w, jsonRequest("PUT", "/api/v1/lots/x", `{"quantity":"99"}`), fmt.Sprintf("%d", lot.ID))
	assertStatus(t, w, 400)
	if !strings.Contains(w.Body.String(), "immutable") {
		t.Errorf("expected immutability error, got %s", w.Body.String())
	}
}

func TestConsumptionForMissingBatchFails(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, _ := lotTestFixtures(t)

	w := consumeLot(t, lot.ID, 9999, "1")
	assertStatus(t, w, 404)
	if code := decodeErrorCode(t, w); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}

func TestConsumptionQuantityValidation(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	lot, batch := lotTestFixtures(t)

	for _, q := range []string{"0", "-1", "0.1234567"} {
		w := consumeLot(t, lot.ID, batch.ID, q)
		assertStatus(t, w, 400)
		if code := decodeErrorCode(t, w); code != "VALIDATION_ERROR" {
			t.Errorf("quantity %s: error code = %s, want VALIDATION_ERROR", q, code)
		}
	}
}
