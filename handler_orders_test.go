package main

import (
	"fmt"
	"net/http/httptest"
	"testing"
)

func orderTestFixtures(t *testing.T) ProductionOrder {
	t.Helper()
	createTestMaterial(t, "FP-SAN-O01", "Hand Sanitizer", "finished_product", "un", "4.90", "0")
	return createTestOrder(t, "FP-SAN-O01", "5000")
}

func postOrderAction(t *testing.T, action string, id int) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := jsonRequest("POST", fmt.Sprintf("/api/v1/orders/%d/%s", id, action), "")
	switch action {
	case "start":
		handleStartOrder(w, req, fmt.Sprintf("%d", id))
	case "complete":
		handleCompleteOrder(w, req, fmt.Sprintf("%d", id))
	case "cancel":
		handleCancelOrder(w, req, fmt.Sprintf("%d", id))
	}
	return w
}

func TestOrderLifecycle(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	if o.Status != "DRAFT" {
		t.Fatalf("new order status = %s, want DRAFT", o.Status)
	}
	if o.ActualStart != nil || o.ActualEnd != nil {
		t.Fatal("new order should have no actual timestamps")
	}

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	started := getOrder(t, o.ID)
	if started.Status != "IN_PROGRESS" {
		t.Errorf("status after start = %s, want IN_PROGRESS", started.Status)
	}
	if started.ActualStart == nil {
		t.Error("start must stamp actual_start")
	}

	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)
	done := getOrder(t, o.ID)
	if done.Status != "COMPLETED" {
		t.Errorf("status after complete = %s, want COMPLETED", done.Status)
	}
	if done.ActualEnd == nil {
		t.Error("complete must stamp actual_end")
	}
}

func TestStartFromPlanned(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateOrder(w, jsonRequest("PUT", "/api/v1/orders/x", `{"status":"PLANNED"}`), fmt.Sprintf("%d", o.ID))
	assertStatus(t, w, 200)

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	if got := getOrder(t, o.ID); got.Status != "IN_PROGRESS" {
		t.Errorf("status = %s, want IN_PROGRESS", got.Status)
	}
}

func TestStartCompletedOrderFails(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)

	w := postOrderAction(t, "start", o.ID)
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	w := postOrderAction(t, "complete", o.ID)
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}
}

func TestCompleteBlockedByUnfinishedBatches(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	b := createTestBatch(t, o.ID, "2500", "QC_PENDING")

	w := postOrderAction(t, "complete", o.ID)
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}

	// Finish the batch's QC workflow, then completion goes through.
	w = httptest.NewRecorder()
	handleBatchQCPass(w, jsonRequest("POST", "/api/v1/batches/x/qc-pass", ""), fmt.Sprintf("%d", b.ID))
	assertStatus(t, w, 200)
	w = httptest.NewRecorder()
	handleBatchRelease(w, jsonRequest("POST", "/api/v1/batches/x/release", ""), fmt.Sprintf("%d", b.ID))
	assertStatus(t, w, 200)

	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)
}

func TestQCFailedBatchDoesNotBlockCompletion(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	b := createTestBatch(t, o.ID, "2500", "QC_PENDING")

	w := httptest.NewRecorder()
	handleBatchQCFail(w, jsonRequest("POST", "/api/v1/batches/x/qc-fail", `{"notes":"contamination"}`), fmt.Sprintf("%d", b.ID))
	assertStatus(t, w, 200)

	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)
}

func TestCancelFromNonTerminalStates(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	createTestMaterial(t, "FP-SAN-O02", "Hand Sanitizer", "finished_product", "un", "4.90", "0")

	// DRAFT
	o := createTestOrder(t, "FP-SAN-O02", "100")
	assertStatus(t, postOrderAction(t, "cancel", o.ID), 200)

	// IN_PROGRESS
	o = createTestOrder(t, "FP-SAN-O02", "100")
	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	assertStatus(t, postOrderAction(t, "cancel", o.ID), 200)

	// COMPLETED is terminal
	o = createTestOrder(t, "FP-SAN-O02", "100")
	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)
	w := postOrderAction(t, "cancel", o.ID)
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}
}

func TestOrderNumberIsImmutable(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateOrder(w, jsonRequest("PUT", "/api/v1/orders/x", `{"order_number":"UE-19990101-001"}`), fmt.Sprintf("%d", o.ID))
	assertStatus(t, w, 400)
}

func TestUpdateOrderRejectsIllegalTransition(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateOrder(w, jsonRequest("PUT", "/api/v1/orders/x", `{"status":"COMPLETED"}`), fmt.Sprintf("%d", o.ID))
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}
}

func TestTerminalOrderRejectsGenericUpdate(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	o := orderTestFixtures(t)

	assertStatus(t, postOrderAction(t, "start", o.ID), 200)
	assertStatus(t, postOrderAction(t, "complete", o.ID), 200)

	// A completed order is a frozen record even when the body leaves the
	// status untouched.
	w := httptest.NewRecorder()
	handleUpdateOrder(w, jsonRequest("PUT", "/api/v1/orders/x",
		`{"planned_quantity":"999","notes":"edited after completion"}`), fmt.Sprintf("%d", o.ID))
	assertStatus(t, w, 409)
	if code := decodeErrorCode(t, w); code != "INVALID_TRANSITION" {
		t.Errorf("error code = %s, want INVALID_TRANSITION", code)
	}

	after := getOrder(t, o.ID)
	if !after.PlannedQuantity.Equal(o.PlannedQuantity) {
		t.Errorf("planned_quantity = %s, want %s", after.PlannedQuantity, o.PlannedQuantity)
	}
	if after.Notes != o.Notes {
		t.Errorf("notes = %q, want %q", after.Notes, o.Notes)
	}

	// Same for a cancelled order.
	o2 := createTestOrder(t, "FP-SAN-O01", "100")
	assertStatus(t, postOrderAction(t, "cancel", o2.ID), 200)
	w = httptest.NewRecorder()
	handleUpdateOrder(w, jsonRequest("PUT", "/api/v1/orders/x", `{"notes":"edited after cancel"}`), fmt.Sprintf("%d", o2.ID))
	assertStatus(t, w, 409)
}

func TestGetMissingOrder(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	w := httptest.NewRecorder()
	handleGetOrder(w, jsonRequest("GET", "/api/v1/orders/x", ""), "424242")
	assertStatus(t, w, 404)
	if code := decodeErrorCode(t, w); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}
