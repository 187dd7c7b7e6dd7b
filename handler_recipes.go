package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// costWithWastage is the BOM line cost rule: quantity x unit cost, grossed up
// by the wastage percentage. Rounded to 4 decimal places of currency.
func costWithWastage(qty, unitCost, wastagePct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(wastagePct.Div(decimal.NewFromInt(100)))
	return qty.Mul(unitCost).Mul(factor).Round(4)
}

const recipeSelect = `SELECT r.id, r.product_code, r.name, r.batch_size_micro, r.batch_unit, r.version,
	r.total_cost, r.is_active, r.approved_by, r.approved_at, r.notes, r.created_at, r.updated_at
	FROM recipes r`

func scanRecipe(row interface{ Scan(...interface{}) error }) (Recipe, error) {
	var rc Recipe
	var batchMicro int64
	var approvedAt sql.NullString
	err := row.Scan(&rc.ID, &rc.ProductCode, &rc.Name, &batchMicro, &rc.BatchUnit, &rc.Version,
		&rc.TotalCost, &rc.IsActive, &rc.ApprovedBy, &approvedAt, &rc.Notes, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return rc, err
	}
	rc.BatchSize = fromMicro(batchMicro)
	rc.ApprovedAt = sp(approvedAt)
	return rc, nil
}

const recipeItemSelect = `SELECT i.id, i.recipe_id, i.material_code, i.quantity_micro, i.unit,
	i.wastage_pct, i.unit_cost, i.total_cost, i.sort_order, COALESCE(m.name, '')
	FROM recipe_items i
	LEFT JOIN materials m ON i.material_code = m.code`

func collectRecipeItems(rows *sql.Rows) []RecipeItem {
	var items []RecipeItem
	for rows.Next() {
		var it RecipeItem
		var qtyMicro int64
		err := rows.Scan(&it.ID, &it.RecipeID, &it.MaterialCode, &qtyMicro, &it.Unit,
			&it.WastagePercent, &it.UnitCost, &it.TotalCost, &it.SortOrder, &it.MaterialName)
		if err != nil {
			continue
		}
		it.Quantity = fromMicro(qtyMicro)
		items = append(items, it)
	}
	if items == nil {
		items = []RecipeItem{}
	}
	return items
}

// recomputeRecipeTotal refreshes the cached recipe total from its items'
// stored line totals.
func recomputeRecipeTotal(tx *sql.Tx, recipeID string) error {
	rows, err := tx.Query("SELECT total_cost FROM recipe_items WHERE recipe_id = ?", recipeID)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for rows.Next() {
		var c decimal.Decimal
		if err := rows.Scan(&c); err == nil {
			total = total.Add(c)
		}
	}
	rows.Close()

	_, err = tx.Exec("UPDATE recipes SET total_cost = ?, updated_at = ? WHERE id = ?",
		total.String(), time.Now().Format("2006-01-02 15:04:05"), recipeID)
	return err
}

func handleListRecipes(w http.ResponseWriter, r *http.Request) {
	query := recipeSelect
	var args []interface{}
	var conditions []string
	if p := r.URL.Query().Get("product"); p != "" {
		conditions = append(conditions, "r.product_code = ?")
		args = append(args, p)
	}
	if a := r.URL.Query().Get("active"); a == "true" {
		conditions = append(conditions, "r.is_active = 1")
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY r.id"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []Recipe
	for rows.Next() {
		rc, err := scanRecipe(rows)
		if err == nil {
			items = append(items, rc)
		}
	}
	if items == nil {
		items = []Recipe{}
	}
	jsonResp(w, items)
}

func handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var rc Recipe
	if err := decodeBody(r, &rc); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "product_code", rc.ProductCode)
	requireField(ve, "name", rc.Name)
	validateMaxLength(ve, "name", rc.Name, 200)
	validateNonNegativeDecimal(ve, "batch_size", rc.BatchSize)
	for i, it := range rc.Items {
		requireField(ve, fmt.Sprintf("items[%d].material_code", i), it.MaterialCode)
		validateQuantity(ve, fmt.Sprintf("items[%d].quantity", i), it.Quantity)
		validatePercentage(ve, fmt.Sprintf("items[%d].wastage_percent", i), it.WastagePercent)
	}
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	batchMicro, ok := toMicro(rc.BatchSize)
	if !ok {
		jsonErrCode(w, "batch_size: must have at most 6 decimal places", codeValidation, 400)
		return
	}
	if rc.Version == 0 {
		rc.Version = 1
	}

	var exists int
	db.QueryRow("SELECT COUNT(*) FROM materials WHERE code = ?", rc.ProductCode).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "material not found: "+rc.ProductCode, codeNotFound, 404)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	recipeID, err := nextRecipeID(tx, time.Now())
	if err != nil {
		jsonErrCode(w, err.Error(), codeSequenceAllocation, 503)
		return
	}

	_, err = tx.Exec(`INSERT INTO recipes (id, product_code, name, batch_size_micro, batch_unit, version,
		is_active, notes) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		recipeID, rc.ProductCode, rc.Name, batchMicro, rc.BatchUnit, rc.Version, rc.Notes)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	for i, it := range rc.Items {
		if err := insertRecipeItem(tx, recipeID, it, i+1); err != nil {
			jsonErrCode(w, err.Error(), codeValidation, 400)
			return
		}
	}
	if err := recomputeRecipeTotal(tx, recipeID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "recipes", recipeID,
		fmt.Sprintf("Created recipe %s (%s) for %s", recipeID, rc.Name, rc.ProductCode))
	broadcast("recipe", "create", recipeID)
	handleGetRecipe(w, r, recipeID)
}

// insertRecipeItem prices one BOM line off the material's current unit price
// and writes it with the given display position.
func insertRecipeItem(tx *sql.Tx, recipeID string, it RecipeItem, sortOrder int) error {
	var unitPrice decimal.Decimal
	var unit string
	err := tx.QueryRow("SELECT unit_price, unit FROM materials WHERE code = ?", it.MaterialCode).
		Scan(&unitPrice, &unit)
	if err != nil {
		return fmt.Errorf("material not found: %s", it.MaterialCode)
	}
	if it.Unit == "" {
		it.Unit = unit
	}
	qtyMicro, ok := toMicro(it.Quantity)
	if !ok {
		return fmt.Errorf("quantity: must have at most 6 decimal places")
	}
	total := costWithWastage(it.Quantity, unitPrice, it.WastagePercent)

	_, err = tx.Exec(`INSERT INTO recipe_items (recipe_id, material_code, quantity_micro, unit,
		wastage_pct, unit_cost, total_cost, sort_order) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recipeID, it.MaterialCode, qtyMicro, it.Unit,
		it.WastagePercent.String(), unitPrice.String(), total.String(), sortOrder)
	return err
}

func handleGetRecipe(w http.ResponseWriter, r *http.Request, id string) {
	rc, err := scanRecipe(db.QueryRow(recipeSelect+" WHERE r.id = ?", id))
	if err != nil {
		jsonErrCode(w, "recipe not found: "+id, codeNotFound, 404)
		return
	}

	rows, err := db.Query(recipeItemSelect+" WHERE i.recipe_id = ? ORDER BY i.sort_order, i.id", id)
	if err == nil {
		rc.Items = collectRecipeItems(rows)
		rows.Close()
	}
	jsonResp(w, rc)
}

func handleUpdateRecipe(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := scanRecipe(db.QueryRow(recipeSelect+" WHERE r.id = ?", id))
	if err != nil {
		jsonErrCode(w, "recipe not found: "+id, codeNotFound, 404)
		return
	}

	rc := existing
	if err := decodeBody(r, &rc); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "name", rc.Name)
	validateMaxLength(ve, "name", rc.Name, 200)
	validateNonNegativeDecimal(ve, "batch_size", rc.BatchSize)
	validatePositiveInt(ve, "version", rc.Version)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if !rc.TotalCost.Equal(existing.TotalCost) {
		jsonErrCode(w, "total_cost is derived; mutate items or recalculate instead", codeValidation, 400)
		return
	}
	batchMicro, ok := toMicro(rc.BatchSize)
	if !ok {
		jsonErrCode(w, "batch_size: must have at most 6 decimal places", codeValidation, 400)
		return
	}

	_, err = db.Exec(`UPDATE recipes SET name=?, batch_size_micro=?, batch_unit=?, version=?, is_active=?,
		approved_by=?, notes=?, updated_at=? WHERE id=?`,
		rc.Name, batchMicro, rc.BatchUnit, rc.Version, rc.IsActive,
		rc.ApprovedBy, rc.Notes, time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "recipes", id, fmt.Sprintf("Updated recipe %s", id))
	broadcast("recipe", "update", id)
	handleGetRecipe(w, r, id)
}

func handleAddRecipeItem(w http.ResponseWriter, r *http.Request, recipeID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM recipes WHERE id = ?", recipeID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "recipe not found: "+recipeID, codeNotFound, 404)
		return
	}

	var it RecipeItem
	if err := decodeBody(r, &it); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "material_code", it.MaterialCode)
	validateQuantity(ve, "quantity", it.Quantity)
	validatePercentage(ve, "wastage_percent", it.WastagePercent)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	var count int
	tx.QueryRow("SELECT COUNT(*) FROM recipe_items WHERE recipe_id = ?", recipeID).Scan(&count)

	if err := insertRecipeItem(tx, recipeID, it, count+1); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}
	if err := recomputeRecipeTotal(tx, recipeID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "recipes", recipeID,
		fmt.Sprintf("Added %s to recipe %s", it.MaterialCode, recipeID))
	broadcast("recipe", "update", recipeID)
	handleGetRecipe(w, r, recipeID)
}

func handleUpdateRecipeItem(w http.ResponseWriter, r *http.Request, recipeID, itemIDStr string) {
	itemID, err := strconv.Atoi(itemIDStr)
	if err != nil {
		jsonErrCode(w, "invalid recipe item id", codeValidation, 400)
		return
	}

	var existing RecipeItem
	var qtyMicro int64
	err = db.QueryRow(`SELECT id, material_code, quantity_micro, unit, wastage_pct, sort_order
		FROM recipe_items WHERE id = ? AND recipe_id = ?`, itemID, recipeID).
		Scan(&existing.ID, &existing.MaterialCode, &qtyMicro, &existing.Unit,
			&existing.WastagePercent, &existing.SortOrder)
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("recipe item not found: %d", itemID), codeNotFound, 404)
		return
	}
	existing.Quantity = fromMicro(qtyMicro)

	it := existing
	if err := decodeBody(r, &it); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "material_code", it.MaterialCode)
	validateQuantity(ve, "quantity", it.Quantity)
	validatePercentage(ve, "wastage_percent", it.WastagePercent)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	newQtyMicro, _ := toMicro(it.Quantity)

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	// Reprice the line off the material's current unit price.
	var unitPrice decimal.Decimal
	err = tx.QueryRow("SELECT unit_price FROM materials WHERE code = ?", it.MaterialCode).Scan(&unitPrice)
	if err != nil {
		jsonErrCode(w, "material not found: "+it.MaterialCode, codeNotFound, 404)
		return
	}
	total := costWithWastage(it.Quantity, unitPrice, it.WastagePercent)

	_, err = tx.Exec(`UPDATE recipe_items SET material_code=?, quantity_micro=?, unit=?,
		wastage_pct=?, unit_cost=?, total_cost=? WHERE id=?`,
		it.MaterialCode, newQtyMicro, it.Unit,
		it.WastagePercent.String(), unitPrice.String(), total.String(), itemID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := recomputeRecipeTotal(tx, recipeID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "recipes", recipeID,
		fmt.Sprintf("Updated item %d of recipe %s", itemID, recipeID))
	broadcast("recipe", "update", recipeID)
	handleGetRecipe(w, r, recipeID)
}

func handleRemoveRecipeItem(w http.ResponseWriter, r *http.Request, recipeID, itemIDStr string) {
	itemID, err := strconv.Atoi(itemIDStr)
	if err != nil {
		jsonErrCode(w, "invalid recipe item id", codeValidation, 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM recipe_items WHERE id = ? AND recipe_id = ?", itemID, recipeID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErrCode(w, fmt.Sprintf("recipe item not found: %d", itemID), codeNotFound, 404)
		return
	}
	if err := recomputeRecipeTotal(tx, recipeID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "recipes", recipeID,
		fmt.Sprintf("Removed item %d from recipe %s", itemID, recipeID))
	broadcast("recipe", "update", recipeID)
	handleGetRecipe(w, r, recipeID)
}

// handleRecalculateRecipe reprices every line off current material prices and
// refreshes the cached total. Running it twice in a row changes nothing the
// second time.
func handleRecalculateRecipe(w http.ResponseWriter, r *http.Request, recipeID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM recipes WHERE id = ?", recipeID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "recipe not found: "+recipeID, codeNotFound, 404)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT i.id, i.quantity_micro, i.wastage_pct, m.unit_price
		FROM recipe_items i JOIN materials m ON i.material_code = m.code
		WHERE i.recipe_id = ?`, recipeID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	type line struct {
		id    int
		total decimal.Decimal
		price decimal.Decimal
	}
	var lines []line
	for rows.Next() {
		var id int
		var qtyMicro int64
		var wastage, price decimal.Decimal
		if err := rows.Scan(&id, &qtyMicro, &wastage, &price); err != nil {
			continue
		}
		lines = append(lines, line{id: id, total: costWithWastage(fromMicro(qtyMicro), price, wastage), price: price})
	}
	rows.Close()

	for _, l := range lines {
		_, err := tx.Exec("UPDATE recipe_items SET unit_cost = ?, total_cost = ? WHERE id = ?",
			l.price.String(), l.total.String(), l.id)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	}
	if err := recomputeRecipeTotal(tx, recipeID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "recipes", recipeID,
		fmt.Sprintf("Recalculated costs for recipe %s", recipeID))
	broadcast("recipe", "update", recipeID)
	handleGetRecipe(w, r, recipeID)
}
