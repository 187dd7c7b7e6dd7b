package main

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func recipeTestFixtures(t *testing.T) Recipe {
	t.Helper()
	createTestMaterial(t, "FP-GEL-R01", "Aloe Gel 250ml", "finished_product", "un", "6.50", "0")
	createTestMaterial(t, "RM-ALO-R01", "Aloe Extract", "raw_material", "kg", "450", "0")
	createTestMaterial(t, "PK-TUB-R01", "Tube 250ml", "packaging", "un", "0.45", "0")
	return createTestRecipe(t, "FP-GEL-R01", "Aloe Gel v1")
}

func addItem(t *testing.T, recipeID, materialCode, qty, wastage string) Recipe {
	t.Helper()
	body := fmt.Sprintf(`{"material_code":%q,"quantity":%q,"wastage_percent":%q}`, materialCode, qty, wastage)
	w := httptest.NewRecorder()
	handleAddRecipeItem(w, jsonRequest("POST", "/api/v1/recipes/x/items", body), recipeID)
	assertStatus(t, w, 200)
	var rc Recipe
	decodeData(t, w, &rc)
	return rc
}

func TestRecipeIDFormat(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)

	want := fmt.Sprintf("RCP-%s-001", time.Now().Format("2006"))
	if rc.ID != want {
		t.Errorf("recipe id = %s, want %s", rc.ID, want)
	}
	if !rc.TotalCost.IsZero() {
		t.Errorf("empty recipe total = %s, want 0", rc.TotalCost)
	}
}

func TestRecipeCostComputation(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)

	// 5.5 x 450 x 1.02 = 2524.5
	rc = addItem(t, rc.ID, "RM-ALO-R01", "5.5", "2")
	if !rc.TotalCost.Equal(decimal.RequireFromString("2524.5")) {
		t.Errorf("total after first item = %s, want 2524.5", rc.TotalCost)
	}

	// + 500 x 0.45 x 1.01 = 227.25 -> 2751.75
	rc = addItem(t, rc.ID, "PK-TUB-R01", "500", "1")
	if !rc.TotalCost.Equal(decimal.RequireFromString("2751.75")) {
		t.Errorf("total after second item = %s, want 2751.75", rc.TotalCost)
	}

	if len(rc.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(rc.Items))
	}
	if rc.Items[0].SortOrder != 1 || rc.Items[1].SortOrder != 2 {
		t.Errorf("sort orders = %d, %d, want 1, 2", rc.Items[0].SortOrder, rc.Items[1].SortOrder)
	}
	if !rc.Items[0].TotalCost.Equal(decimal.RequireFromString("2524.5")) {
		t.Errorf("first line total = %s, want 2524.5", rc.Items[0].TotalCost)
	}
	if !rc.Items[1].TotalCost.Equal(decimal.RequireFromString("227.25")) {
		t.Errorf("second line total = %s, want 227.25", rc.Items[1].TotalCost)
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)
	addItem(t, rc.ID, "RM-ALO-R01", "5.5", "2")
	addItem(t, rc.ID, "PK-TUB-R01", "500", "1")

	w := httptest.NewRecorder()
	handleRecalculateRecipe(w, jsonRequest("POST", "/api/v1/recipes/x/recalculate", ""), rc.ID)
	assertStatus(t, w, 200)
	var first Recipe
	decodeData(t, w, &first)

	w = httptest.NewRecorder()
	handleRecalculateRecipe(w, jsonRequest("POST", "/api/v1/recipes/x/recalculate", ""), rc.ID)
	assertStatus(t, w, 200)
	var second Recipe
	decodeData(t, w, &second)

	if !first.TotalCost.Equal(second.TotalCost) {
		t.Errorf("recalculate not idempotent: %s then %s", first.TotalCost, second.TotalCost)
	}
	if !first.TotalCost.Equal(decimal.RequireFromString("2751.75")) {
		t.Errorf("total = %s, want 2751.75", first.TotalCost)
	}
}

func TestRecalculatePicksUpPriceChanges(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)
	addItem(t, rc.ID, "PK-TUB-R01", "100", "0")

	// 100 x 0.45 = 45
	if got := getRecipe(t, rc.ID); !got.TotalCost.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("total = %s, want 45", got.TotalCost)
	}

	w := httptest.NewRecorder()
	handleUpdateMaterial(w, jsonRequest("PUT", "/api/v1/materials/x",
		`{"name":"Tube 250ml","type":"packaging","unit_price":"0.50"}`), "PK-TUB-R01")
	assertStatus(t, w, 200)

	// Stored snapshots are untouched until the next recalculation.
	if got := getRecipe(t, rc.ID); !got.TotalCost.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("total before recalculate = %s, want 45", got.TotalCost)
	}

	w = httptest.NewRecorder()
	handleRecalculateRecipe(w, jsonRequest("POST", "/api/v1/recipes/x/recalculate", ""), rc.ID)
	assertStatus(t, w, 200)
	var after Recipe
	decodeData(t, w, &after)
	if !after.TotalCost.Equal(decimal.RequireFromString("50")) {
		t.Errorf("total after recalculate = %s, want 50", after.TotalCost)
	}
}

func TestUpdateItemRepricesAtMutationTime(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)
	rc = addItem(t, rc.ID, "PK-TUB-R01", "100", "0")
	itemID := rc.Items[0].ID

	w := httptest.NewRecorder()
	handleUpdateMaterial(w, jsonRequest("PUT", "/api/v1/materials/x",
		`{"name":"Tube 250ml","type":"packaging","unit_price":"0.60"}`), "PK-TUB-R01")
	assertStatus(t, w, 200)

	w = httptest.NewRecorder()
	handleUpdateRecipeItem(w, jsonRequest("PUT", "/api/v1/recipes/x/items/y", `{"quantity":"200"}`),
		rc.ID, fmt.Sprintf("%d", itemID))
	assertStatus(t, w, 200)
	var after Recipe
	decodeData(t, w, &after)

	// 200 x 0.60 = 120, priced off the current unit price.
	if !after.TotalCost.Equal(decimal.RequireFromString("120")) {
		t.Errorf("total = %s, want 120", after.TotalCost)
	}
	if !after.Items[0].UnitCost.Equal(decimal.RequireFromString("0.60")) {
		t.Errorf("unit cost = %s, want 0.60", after.Items[0].UnitCost)
	}
}

func TestRemovingLastItemZeroesTotal(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)
	rc = addItem(t, rc.ID, "RM-ALO-R01", "5.5", "2")
	itemID := rc.Items[0].ID

	w := httptest.NewRecorder()
	handleRemoveRecipeItem(w, jsonRequest("DELETE", "/api/v1/recipes/x/items/y", ""),
		rc.ID, fmt.Sprintf("%d", itemID))
	assertStatus(t, w, 200)
	var after Recipe
	decodeData(t, w, &after)

	if !after.TotalCost.IsZero() {
		t.Errorf("total after removing last item = %s, want 0", after.TotalCost)
	}
	if len(after.Items) != 0 {
		t.Errorf("items = %d, want 0", len(after.Items))
	}
}

func TestRecipeItemValidation(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)

	cases := []string{
		`{"material_code":"RM-ALO-R01","quantity":"0"}`,
		`{"material_code":"RM-ALO-R01","quantity":"5","wastage_percent":"101"}`,
		`{"material_code":"RM-ALO-R01","quantity":"5","wastage_percent":"-1"}`,
		`{"quantity":"5"}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		handleAddRecipeItem(w, jsonRequest("POST", "/api/v1/recipes/x/items", body), rc.ID)
		assertStatus(t, w, 400)
	}

	// Unknown material is rejected before anything is written.
	w := httptest.NewRecorder()
	handleAddRecipeItem(w, jsonRequest("POST", "/api/v1/recipes/x/items",
		`{"material_code":"RM-NOPE-999","quantity":"5"}`), rc.ID)
	assertStatus(t, w, 400)

	if got := getRecipe(t, rc.ID); len(got.Items) != 0 {
		t.Errorf("rejected items must not persist, found %d", len(got.Items))
	}
}

func TestTotalCostIsNotClientWritable(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	rc := recipeTestFixtures(t)

	w := httptest.NewRecorder()
	handleUpdateRecipe(w, jsonRequest("PUT", "/api/v1/recipes/x",
		`{"name":"Aloe Gel v1","total_cost":"9999"}`), rc.ID)
	assertStatus(t, w, 400)
}
