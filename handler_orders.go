package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Legal production order status transitions. CANCELLED is reachable from any
// non-terminal status; COMPLETED and CANCELLED are terminal.
var orderTransitions = map[string][]string{
	"DRAFT":       {"PLANNED", "IN_PROGRESS", "CANCELLED"},
	"PLANNED":     {"IN_PROGRESS", "CANCELLED"},
	"IN_PROGRESS": {"COMPLETED", "CANCELLED"},
	"COMPLETED":   {},
	"CANCELLED":   {},
}

func isValidOrderTransition(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const orderSelect = `SELECT o.id, o.order_number, o.product_code, o.recipe_id, o.planned_qty_micro,
	o.actual_qty_micro, o.status, o.priority, o.planned_start, o.planned_end, o.actual_start, o.actual_end,
	o.assigned_to, o.notes, o.created_at, o.updated_at, COALESCE(m.name, ''), COALESCE(rc.name, '')
	FROM production_orders o
	LEFT JOIN materials m ON o.product_code = m.code
	LEFT JOIN recipes rc ON o.recipe_id = rc.id`

func scanOrder(row interface{ Scan(...interface{}) error }) (ProductionOrder, error) {
	var o ProductionOrder
	var plannedMicro, actualMicro int64
	var actualStart, actualEnd sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ProductCode, &o.RecipeID, &plannedMicro, &actualMicro,
		&o.Status, &o.Priority, &o.PlannedStart, &o.PlannedEnd, &actualStart, &actualEnd,
		&o.AssignedTo, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.ProductName, &o.RecipeName)
	if err != nil {
		return o, err
	}
	o.PlannedQuantity = fromMicro(plannedMicro)
	o.ActualQuantity = fromMicro(actualMicro)
	o.ActualStart = sp(actualStart)
	o.ActualEnd = sp(actualEnd)
	return o, nil
}

func handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	where := ""
	var args []interface{}
	if s := r.URL.Query().Get("status"); s != "" {
		where = " WHERE o.status = ?"
		args = append(args, s)
	}

	var total int
	db.QueryRow("SELECT COUNT(*) FROM production_orders o"+where, args...).Scan(&total)

	query := orderSelect + where + " ORDER BY o.id DESC LIMIT ? OFFSET ?"
	queryArgs := append(args, limit, (page-1)*limit)
	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []ProductionOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err == nil {
			items = append(items, o)
		}
	}
	if items == nil {
		items = []ProductionOrder{}
	}
	jsonRespMeta(w, items, total, page, limit)
}

func handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var o ProductionOrder
	if err := decodeBody(r, &o); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "product_code", o.ProductCode)
	validateQuantity(ve, "planned_quantity", o.PlannedQuantity)
	validateEnum(ve, "priority", o.Priority, validPriorities)
	validateEnum(ve, "status", o.Status, []string{"DRAFT", "PLANNED"})
	validateDate(ve, "planned_start", o.PlannedStart)
	validateDate(ve, "planned_end", o.PlannedEnd)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if o.Status == "" {
		o.Status = "DRAFT"
	}
	if o.Priority == "" {
		o.Priority = "normal"
	}
	plannedMicro, _ := toMicro(o.PlannedQuantity)

	var exists int
	db.QueryRow("SELECT COUNT(*) FROM materials WHERE code = ?", o.ProductCode).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "material not found: "+o.ProductCode, codeNotFound, 404)
		return
	}
	if o.RecipeID != "" {
		db.QueryRow("SELECT COUNT(*) FROM recipes WHERE id = ?", o.RecipeID).Scan(&exists)
		if exists == 0 {
			jsonErrCode(w, "recipe not found: "+o.RecipeID, codeNotFound, 404)
			return
		}
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	orderNumber, err := nextOrderNumber(tx, time.Now())
	if err != nil {
		jsonErrCode(w, err.Error(), codeSequenceAllocation, 503)
		return
	}

	res, err := tx.Exec(`INSERT INTO production_orders (order_number, product_code, recipe_id,
		planned_qty_micro, status, priority, planned_start, planned_end, assigned_to, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		orderNumber, o.ProductCode, o.RecipeID, plannedMicro, o.Status, o.Priority,
		o.PlannedStart, o.PlannedEnd, o.AssignedTo, o.Notes)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "production_orders", orderNumber,
		fmt.Sprintf("Created order %s for %s x %s", orderNumber, o.ProductCode, o.PlannedQuantity.String()))
	broadcast("production_order", "create", id)
	handleGetOrder(w, r, strconv.FormatInt(id, 10))
}

func handleGetOrder(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid order id", codeValidation, 400)
		return
	}
	o, err := scanOrder(db.QueryRow(orderSelect+" WHERE o.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", id), codeNotFound, 404)
		return
	}

	rows, err := db.Query(batchSelect+" WHERE b.order_id = ? ORDER BY b.id", id)
	if err == nil {
		o.Batches = collectBatches(rows)
		rows.Close()
	}
	jsonResp(w, o)
}

func handleUpdateOrder(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid order id", codeValidation, 400)
		return
	}
	existing, err := scanOrder(db.QueryRow(orderSelect+" WHERE o.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", id), codeNotFound, 404)
		return
	}

	// Terminal orders are frozen: no field edits, whatever the body carries.
	if len(orderTransitions[existing.Status]) == 0 {
		jsonErrCode(w, fmt.Sprintf("order %s is %s and can no longer be updated", existing.OrderNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	o := existing
	o.Batches = nil
	if err := decodeBody(r, &o); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	validateQuantity(ve, "planned_quantity", o.PlannedQuantity)
	validateNonNegativeDecimal(ve, "actual_quantity", o.ActualQuantity)
	validateEnum(ve, "priority", o.Priority, validPriorities)
	validateEnum(ve, "status", o.Status, validOrderStatuses)
	validateDate(ve, "planned_start", o.PlannedStart)
	validateDate(ve, "planned_end", o.PlannedEnd)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if o.OrderNumber != existing.OrderNumber {
		jsonErrCode(w, "order_number is immutable", codeValidation, 400)
		return
	}

	// Status changes through the generic update obey the same machine as the
	// dedicated endpoints, but never stamp timestamps or check batches; use
	// start/complete/cancel for those.
	if o.Status != existing.Status {
		if !isValidOrderTransition(existing.Status, o.Status) {
			jsonErrCode(w, fmt.Sprintf("invalid order transition %s -> %s", existing.Status, o.Status),
				codeInvalidTransition, 409)
			return
		}
		if o.Status == "IN_PROGRESS" || o.Status == "COMPLETED" {
			jsonErrCode(w, fmt.Sprintf("use the %s endpoint to move an order out of %s",
				map[string]string{"IN_PROGRESS": "start", "COMPLETED": "complete"}[o.Status], existing.Status),
				codeValidation, 400)
			return
		}
	}

	plannedMicro, ok := toMicro(o.PlannedQuantity)
	if !ok {
		jsonErrCode(w, "planned_quantity: must have at most 6 decimal places", codeValidation, 400)
		return
	}
	actualMicro, ok := toMicro(o.ActualQuantity)
	if !ok {
		jsonErrCode(w, "actual_quantity: must have at most 6 decimal places", codeValidation, 400)
		return
	}

	_, err = db.Exec(`UPDATE production_orders SET recipe_id=?, planned_qty_micro=?, actual_qty_micro=?,
		status=?, priority=?, planned_start=?, planned_end=?, assigned_to=?, notes=?, updated_at=?
		WHERE id=?`,
		o.RecipeID, plannedMicro, actualMicro, o.Status, o.Priority,
		o.PlannedStart, o.PlannedEnd, o.AssignedTo, o.Notes,
		time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "production_orders", existing.OrderNumber,
		fmt.Sprintf("Updated order %s", existing.OrderNumber))
	broadcast("production_order", "update", id)
	handleGetOrder(w, r, idStr)
}

func handleStartOrder(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid order id", codeValidation, 400)
		return
	}
	existing, err := scanOrder(db.QueryRow(orderSelect+" WHERE o.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", id), codeNotFound, 404)
		return
	}
	if !isValidOrderTransition(existing.Status, "IN_PROGRESS") {
		jsonErrCode(w, fmt.Sprintf("cannot start order %s in status %s", existing.OrderNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = db.Exec("UPDATE production_orders SET status='IN_PROGRESS', actual_start=?, updated_at=? WHERE id=?",
		now, now, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionStart, "production_orders", existing.OrderNumber,
		fmt.Sprintf("Started order %s", existing.OrderNumber))
	broadcast("production_order", "update", id)
	handleGetOrder(w, r, idStr)
}

// batchTerminalStatuses are the batch statuses that no longer block order
// completion.
const batchTerminalStatuses = "'RELEASED','QC_FAILED','REJECTED'"

func handleCompleteOrder(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid order id", codeValidation, 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	existing, err := scanOrder(tx.QueryRow(orderSelect+" WHERE o.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", id), codeNotFound, 404)
		return
	}
	if !isValidOrderTransition(existing.Status, "COMPLETED") {
		jsonErrCode(w, fmt.Sprintf("cannot complete order %s in status %s", existing.OrderNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	// Every batch must have finished its QC workflow. An order with no
	// batches may complete.
	var open int
	err = tx.QueryRow("SELECT COUNT(*) FROM production_batches WHERE order_id = ? AND status NOT IN ("+
		batchTerminalStatuses+")", id).Scan(&open)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if open > 0 {
		jsonErrCode(w, fmt.Sprintf("order %s has %d unfinished batch(es)", existing.OrderNumber, open),
			codeInvalidTransition, 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = tx.Exec("UPDATE production_orders SET status='COMPLETED', actual_end=?, updated_at=? WHERE id=?",
		now, now, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionComplete, "production_orders", existing.OrderNumber,
		fmt.Sprintf("Completed order %s", existing.OrderNumber))
	broadcast("production_order", "update", id)
	handleGetOrder(w, r, idStr)
}

func handleCancelOrder(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid order id", codeValidation, 400)
		return
	}
	existing, err := scanOrder(db.QueryRow(orderSelect+" WHERE o.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", id), codeNotFound, 404)
		return
	}
	if !isValidOrderTransition(existing.Status, "CANCELLED") {
		jsonErrCode(w, fmt.Sprintf("cannot cancel order %s in status %s", existing.OrderNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	_, err = db.Exec("UPDATE production_orders SET status='CANCELLED', updated_at=? WHERE id=?",
		time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCancel, "production_orders", existing.OrderNumber,
		fmt.Sprintf("Cancelled order %s", existing.OrderNumber))
	broadcast("production_order", "update", id)
	handleGetOrder(w, r, idStr)
}
