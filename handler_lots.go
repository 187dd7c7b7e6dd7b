package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const lotSelect = `SELECT id, lot_number, material_code, quantity_micro, remaining_micro, status,
	manufacture_date, expiry_date, supplier_lot, location, created_at, updated_at FROM material_lots`

func scanLot(row interface{ Scan(...interface{}) error }) (MaterialLot, error) {
	var l MaterialLot
	var qtyMicro, remMicro int64
	err := row.Scan(&l.ID, &l.LotNumber, &l.MaterialCode, &qtyMicro, &remMicro, &l.Status,
		&l.ManufactureDate, &l.ExpiryDate, &l.SupplierLot, &l.Location, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return l, err
	}
	l.Quantity = fromMicro(qtyMicro)
	l.RemainingQuantity = fromMicro(remMicro)
	return l, nil
}

func collectLots(rows *sql.Rows) []MaterialLot {
	var items []MaterialLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err == nil {
			items = append(items, l)
		}
	}
	if items == nil {
		items = []MaterialLot{}
	}
	return items
}

func handleListLots(w http.ResponseWriter, r *http.Request) {
	query := lotSelect
	var args []interface{}
	var conditions []string
	if m := r.URL.Query().Get("material"); m != "" {
		conditions = append(conditions, "material_code = ?")
		args = append(args, m)
	}
	if s := r.URL.Query().Get("status"); s != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, s)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	jsonResp(w, collectLots(rows))
}

func handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var l MaterialLot
	if err := decodeBody(r, &l); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "material_code", l.MaterialCode)
	validateQuantity(ve, "quantity", l.Quantity)
	validateEnum(ve, "status", l.Status, validLotStatuses)
	validateDate(ve, "manufacture_date", l.ManufactureDate)
	validateDate(ve, "expiry_date", l.ExpiryDate)
	if l.Status == "CONSUMED" {
		ve.Add("status", "cannot create a lot as CONSUMED")
	}
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if l.Status == "" {
		l.Status = "AVAILABLE"
	}

	qtyMicro, _ := toMicro(l.Quantity)

	var unit string
	if err := db.QueryRow("SELECT unit FROM materials WHERE code = ?", l.MaterialCode).Scan(&unit); err != nil {
		jsonErrCode(w, "material not found: "+l.MaterialCode, codeNotFound, 404)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	now := time.Now()
	lotNumber, err := nextLotNumber(tx, now)
	if err != nil {
		jsonErrCode(w, err.Error(), codeSequenceAllocation, 503)
		return
	}

	res, err := tx.Exec(`INSERT INTO material_lots (lot_number, material_code, quantity_micro, remaining_micro,
		status, manufacture_date, expiry_date, supplier_lot, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lotNumber, l.MaterialCode, qtyMicro, qtyMicro, l.Status,
		l.ManufactureDate, l.ExpiryDate, l.SupplierLot, l.Location)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	// Receiving a lot raises the material's aggregate stock in the same tx.
	_, err = tx.Exec("UPDATE materials SET current_stock_micro = current_stock_micro + ?, updated_at = ? WHERE code = ?",
		qtyMicro, now.Format("2006-01-02 15:04:05"), l.MaterialCode)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "material_lots", lotNumber,
		fmt.Sprintf("Received lot %s: %s %s %s", lotNumber, l.Quantity.String(), unit, l.MaterialCode))
	broadcast("material_lot", "create", id)
	handleGetLot(w, r, strconv.FormatInt(id, 10))
}

func handleGetLot(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid lot id", codeValidation, 400)
		return
	}
	l, err := scanLot(db.QueryRow(lotSelect+" WHERE id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("lot not found: %d", id), codeNotFound, 404)
		return
	}
	jsonResp(w, l)
}

func handleUpdateLot(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid lot id", codeValidation, 400)
		return
	}
	existing, err := scanLot(db.QueryRow(lotSelect+" WHERE id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("lot not found: %d", id), codeNotFound, 404)
		return
	}

	l := existing
	if err := decodeBody(r, &l); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	validateEnum(ve, "status", l.Status, validLotStatuses)
	validateDate(ve, "manufacture_date", l.ManufactureDate)
	validateDate(ve, "expiry_date", l.ExpiryDate)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}

	// Quantity and remaining are ledger-managed, never client-set.
	if !l.Quantity.Equal(existing.Quantity) || !l.RemainingQuantity.Equal(existing.RemainingQuantity) {
		jsonErrCode(w, "lot quantities are immutable; record a consumption instead", codeValidation, 400)
		return
	}
	if existing.Status == "CONSUMED" && l.Status != "CONSUMED" {
		jsonErrCode(w, "invalid lot status transition from CONSUMED", codeInvalidTransition, 409)
		return
	}
	if l.Status == "CONSUMED" && existing.Status != "CONSUMED" {
		jsonErrCode(w, "CONSUMED is set by the ledger when a lot is exhausted", codeInvalidTransition, 409)
		return
	}

	_, err = db.Exec(`UPDATE material_lots SET status=?, manufacture_date=?, expiry_date=?,
		supplier_lot=?, location=?, updated_at=? WHERE id=?`,
		l.Status, l.ManufactureDate, l.ExpiryDate, l.SupplierLot, l.Location,
		time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	if l.Status != existing.Status {
		logAudit(getUsername(r), AuditActionUpdate, "material_lots", existing.LotNumber,
			fmt.Sprintf("Lot %s status %s -> %s", existing.LotNumber, existing.Status, l.Status))
	}
	broadcast("material_lot", "update", id)
	handleGetLot(w, r, idStr)
}

const consumptionSelect = `SELECT c.id, c.production_batch_id, c.material_lot_id, c.quantity_micro, c.unit,
	c.recipe_item_id, c.unit_cost, c.location, c.created_at,
	l.lot_number, l.material_code, m.name, b.batch_number, o.order_number, o.product_code
	FROM lot_consumptions c
	JOIN material_lots l ON c.material_lot_id = l.id
	JOIN materials m ON l.material_code = m.code
	JOIN production_batches b ON c.production_batch_id = b.id
	JOIN production_orders o ON b.order_id = o.id`

func collectConsumptions(rows *sql.Rows) []LotConsumption {
	var items []LotConsumption
	for rows.Next() {
		var c LotConsumption
		var qtyMicro int64
		var recipeItemID sql.NullInt64
		err := rows.Scan(&c.ID, &c.ProductionBatchID, &c.MaterialLotID, &qtyMicro, &c.Unit,
			&recipeItemID, &c.UnitCost, &c.Location, &c.CreatedAt,
			&c.LotNumber, &c.MaterialCode, &c.MaterialName, &c.BatchNumber, &c.OrderNumber, &c.ProductCode)
		if err != nil {
			continue
		}
		c.Quantity = fromMicro(qtyMicro)
		if recipeItemID.Valid {
			n := int(recipeItemID.Int64)
			c.RecipeItemID = &n
		}
		items = append(items, c)
	}
	if items == nil {
		items = []LotConsumption{}
	}
	return items
}

func handleListLotConsumptions(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid lot id", codeValidation, 400)
		return
	}
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM material_lots WHERE id = ?", id).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, fmt.Sprintf("lot not found: %d", id), codeNotFound, 404)
		return
	}

	rows, err := db.Query(consumptionSelect+" WHERE c.material_lot_id = ? ORDER BY c.id", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	jsonResp(w, collectConsumptions(rows))
}

// handleRecordConsumption decrements a lot and appends the matching ledger
// entry in one transaction. The decrement is a single guarded UPDATE, so two
// concurrent consumptions can never oversubscribe the lot.
func handleRecordConsumption(w http.ResponseWriter, r *http.Request, idStr string) {
	lotID, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid lot id", codeValidation, 400)
		return
	}

	var req struct {
		ProductionBatchID int             `json:"production_batch_id"`
		Quantity          decimal.Decimal `json:"quantity"`
		RecipeItemID      *int            `json:"recipe_item_id"`
		Location          string          `json:"location"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	validatePositiveInt(ve, "production_batch_id", req.ProductionBatchID)
	validateQuantity(ve, "quantity", req.Quantity)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	qtyMicro, _ := toMicro(req.Quantity)

	lot, err := scanLot(db.QueryRow(lotSelect+" WHERE id = ?", lotID))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("lot not found: %d", lotID), codeNotFound, 404)
		return
	}

	var batchNumber string
	err = db.QueryRow("SELECT batch_number FROM production_batches WHERE id = ?", req.ProductionBatchID).Scan(&batchNumber)
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("production batch not found: %d", req.ProductionBatchID), codeNotFound, 404)
		return
	}

	// Cost snapshot: the recipe line's cost if one is referenced, otherwise
	// the material's current unit price.
	var unitCost decimal.Decimal
	var unit string
	db.QueryRow("SELECT unit_price, unit FROM materials WHERE code = ?", lot.MaterialCode).Scan(&unitCost, &unit)
	if req.RecipeItemID != nil {
		err := db.QueryRow("SELECT unit_cost FROM recipe_items WHERE id = ?", *req.RecipeItemID).Scan(&unitCost)
		if err != nil {
			jsonErrCode(w, fmt.Sprintf("recipe item not found: %d", *req.RecipeItemID), codeNotFound, 404)
			return
		}
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	now := time.Now().Format("2006-01-02 15:04:05")

	// Guarded decrement. A lot that drains to zero flips to CONSUMED in the
	// same statement.
	res, err := tx.Exec(`UPDATE material_lots SET
		remaining_micro = remaining_micro - ?,
		status = CASE WHEN remaining_micro - ? = 0 THEN 'CONSUMED' ELSE status END,
		updated_at = ?
		WHERE id = ? AND remaining_micro >= ? AND status IN ('AVAILABLE','RESERVED')`,
		qtyMicro, qtyMicro, now, lotID, qtyMicro)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish why the guard refused.
		cur, err := scanLot(tx.QueryRow(lotSelect+" WHERE id = ?", lotID))
		if err != nil {
			jsonErrCode(w, fmt.Sprintf("lot not found: %d", lotID), codeNotFound, 404)
			return
		}
		if cur.Status != "AVAILABLE" && cur.Status != "RESERVED" {
			jsonErrCode(w, fmt.Sprintf("lot %s is %s and cannot be consumed", cur.LotNumber, cur.Status),
				codeLotNotAvailable, 409)
			return
		}
		jsonErrCode(w, fmt.Sprintf("lot %s has %s remaining, requested %s",
			cur.LotNumber, cur.RemainingQuantity.String(), req.Quantity.String()),
			codeInsufficientLotQty, 409)
		return
	}

	var recipeItemID sql.NullInt64
	if req.RecipeItemID != nil {
		recipeItemID = sql.NullInt64{Int64: int64(*req.RecipeItemID), Valid: true}
	}
	ins, err := tx.Exec(`INSERT INTO lot_consumptions (production_batch_id, material_lot_id, quantity_micro,
		unit, recipe_item_id, unit_cost, location) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ProductionBatchID, lotID, qtyMicro, unit, recipeItemID, unitCost.String(), req.Location)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	consumptionID, _ := ins.LastInsertId()

	// Keep the material aggregate in step with the lot ledger.
	_, err = tx.Exec("UPDATE materials SET current_stock_micro = current_stock_micro - ?, updated_at = ? WHERE code = ?",
		qtyMicro, now, lot.MaterialCode)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "lot_consumptions", lot.LotNumber,
		fmt.Sprintf("Consumed %s %s of lot %s for batch %s", req.Quantity.String(), unit, lot.LotNumber, batchNumber))
	broadcast("lot_consumption", "create", consumptionID)
	broadcast("material_lot", "update", lotID)

	rows, err := db.Query(consumptionSelect+" WHERE c.id = ?", consumptionID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := collectConsumptions(rows)
	if len(items) == 0 {
		jsonErr(w, "consumption readback failed", 500)
		return
	}
	jsonResp(w, items[0])
}

// handleReconcileLots creates one synthetic opening-balance lot per material
// whose aggregate stock exceeds the lot ledger's remaining total. Running it
// again is a no-op once the ledger covers the aggregate.
func handleReconcileLots(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT m.code, m.current_stock_micro - COALESCE(SUM(l.remaining_micro), 0)
		FROM materials m
		LEFT JOIN material_lots l ON l.material_code = m.code
		GROUP BY m.code
		HAVING m.current_stock_micro > COALESCE(SUM(l.remaining_micro), 0)
		ORDER BY m.code`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	type gap struct {
		code string
		diff int64
	}
	var gaps []gap
	for rows.Next() {
		var g gap
		rows.Scan(&g.code, &g.diff)
		gaps = append(gaps, g)
	}
	rows.Close()

	now := time.Now()
	results := []ReconcileResult{}
	for _, g := range gaps {
		tx, err := db.Begin()
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}

		// Re-check inside the tx: a concurrent receipt may have closed the gap.
		var diff int64
		err = tx.QueryRow(`SELECT m.current_stock_micro - COALESCE(SUM(l.remaining_micro), 0)
			FROM materials m LEFT JOIN material_lots l ON l.material_code = m.code
			WHERE m.code = ? GROUP BY m.code`, g.code).Scan(&diff)
		if err != nil || diff <= 0 {
			tx.Rollback()
			continue
		}

		lotNumber, err := nextLotNumber(tx, now)
		if err != nil {
			tx.Rollback()
			jsonErrCode(w, err.Error(), codeSequenceAllocation, 503)
			return
		}

		expiry := now.AddDate(0, cfg.OpeningBalanceExpiryMonths, 0).Format("2006-01-02")
		_, err = tx.Exec(`INSERT INTO material_lots (lot_number, material_code, quantity_micro, remaining_micro,
			status, manufacture_date, expiry_date, supplier_lot)
			VALUES (?, ?, ?, ?, 'AVAILABLE', ?, ?, 'opening balance')`,
			lotNumber, g.code, diff, diff, now.Format("2006-01-02"), expiry)
		if err != nil {
			tx.Rollback()
			jsonErr(w, err.Error(), 500)
			return
		}
		if err := tx.Commit(); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}

		logAudit(getUsername(r), AuditActionCreate, "material_lots", lotNumber,
			fmt.Sprintf("Opening balance lot %s for %s: %s", lotNumber, g.code, fromMicro(diff).String()))
		results = append(results, ReconcileResult{
			MaterialCode: g.code,
			LotNumber:    lotNumber,
			Quantity:     fromMicro(diff),
		})
	}

	if len(results) > 0 {
		broadcast("material_lot", "create", "reconcile")
	}
	jsonResp(w, results)
}
