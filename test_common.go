package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func setupTestDB(t *testing.T) func() {
	t.Helper()
	dbFile := fmt.Sprintf("test_%s.db", strings.ReplaceAll(t.Name(), "/", "_"))
	os.Remove(dbFile)
	if err := initDB(dbFile); err != nil {
		t.Fatal(err)
	}
	cfg = defaultConfig()
	return func() {
		db.Close()
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	}
}

func jsonRequest(method, path, body string) *http.Request {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeAPIResponse decodes an APIResponse from a ResponseRecorder
func decodeAPIResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode API response: %v", err)
	}
	return response
}

// decodeData re-marshals the Data field of an APIResponse into a typed value.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	resp := decodeAPIResponse(t, w)
	b, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("Failed to re-marshal response data: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("Failed to unmarshal response data: %v", err)
	}
}

// decodeErrorCode extracts the machine-readable code from an error envelope.
func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp["code"]
}

// assertStatus checks that the HTTP status code matches expected
func assertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// Fixture helpers. All of them go through the real handlers so numbers are
// allocated and stock figures maintained exactly as in production.

func createTestMaterial(t *testing.T, code, name, matType, unit, unitPrice, currentStock string) {
	t.Helper()
	body := fmt.Sprintf(`{"code":%q,"name":%q,"type":%q,"unit":%q,"unit_price":%q,"current_stock":%q}`,
		code, name, matType, unit, unitPrice, currentStock)
	w := httptest.NewRecorder()
	handleCreateMaterial(w, jsonRequest("POST", "/api/v1/materials", body))
	assertStatus(t, w, 200)
}

func createTestLot(t *testing.T, materialCode, quantity string) MaterialLot {
	t.Helper()
	body := fmt.Sprintf(`{"material_code":%q,"quantity":%q}`, materialCode, quantity)
	w := httptest.NewRecorder()
	handleCreateLot(w, jsonRequest("POST", "/api/v1/lots", body))
	assertStatus(t, w, 200)
	var l MaterialLot
	decodeData(t, w, &l)
	return l
}

func createTestOrder(t *testing.T, productCode, plannedQty string) ProductionOrder {
	t.Helper()
	body := fmt.Sprintf(`{"product_code":%q,"planned_quantity":%q}`, productCode, plannedQty)
	w := httptest.NewRecorder()
	handleCreateOrder(w, jsonRequest("POST", "/api/v1/orders", body))
	assertStatus(t, w, 200)
	var o ProductionOrder
	decodeData(t, w, &o)
	return o
}

func createTestBatch(t *testing.T, orderID int, quantity, status string) ProductionBatch {
	t.Helper()
	body := fmt.Sprintf(`{"order_id":%d,"quantity":%q,"status":%q}`, orderID, quantity, status)
	w := httptest.NewRecorder()
	handleCreateBatch(w, jsonRequest("POST", "/api/v1/batches", body))
	assertStatus(t, w, 200)
	var b ProductionBatch
	decodeData(t, w, &b)
	return b
}

func createTestRecipe(t *testing.T, productCode, name string) Recipe {
	t.Helper()
	body := fmt.Sprintf(`{"product_code":%q,"name":%q}`, productCode, name)
	w := httptest.NewRecorder()
	handleCreateRecipe(w, jsonRequest("POST", "/api/v1/recipes", body))
	assertStatus(t, w, 200)
	var rc Recipe
	decodeData(t, w, &rc)
	return rc
}

func getLot(t *testing.T, id int) MaterialLot {
	t.Helper()
	w := httptest.NewRecorder()
	handleGetLot(w, jsonRequest("GET", "/api/v1/lots/x", ""), fmt.Sprintf("%d", id))
	assertStatus(t, w, 200)
	var l MaterialLot
	decodeData(t, w, &l)
	return l
}

func getOrder(t *testing.T, id int) ProductionOrder {
	t.Helper()
	w := httptest.NewRecorder()
	handleGetOrder(w, jsonRequest("GET", "/api/v1/orders/x", ""), fmt.Sprintf("%d", id))
	assertStatus(t, w, 200)
	var o ProductionOrder
	decodeData(t, w, &o)
	return o
}

func getBatch(t *testing.T, id int) ProductionBatch {
	t.Helper()
	w := httptest.NewRecorder()
	handleGetBatch(w, jsonRequest("GET", "/api/v1/batches/x", ""), fmt.Sprintf("%d", id))
	assertStatus(t, w, 200)
	var b ProductionBatch
	decodeData(t, w, &b)
	return b
}

func getRecipe(t *testing.T, id string) Recipe {
	t.Helper()
	w := httptest.NewRecorder()
	handleGetRecipe(w, jsonRequest("GET", "/api/v1/recipes/x", ""), id)
	assertStatus(t, w, 200)
	var rc Recipe
	decodeData(t, w, &rc)
	return rc
}

func consumeLot(t *testing.T, lotID, batchID int, quantity string) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"production_batch_id":%d,"quantity":%q}`, batchID, quantity)
	w := httptest.NewRecorder()
	handleRecordConsumption(w, jsonRequest("POST", "/api/v1/lots/x/consumptions", body), fmt.Sprintf("%d", lotID))
	return w
}
