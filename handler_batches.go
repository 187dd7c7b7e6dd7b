package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Legal production batch status transitions. QC_FAILED, RELEASED and REJECTED
// are terminal; only the QC verdict endpoints may leave QC_PENDING.
var batchTransitions = map[string][]string{
	"PENDING":       {"IN_PRODUCTION", "QC_PENDING", "REJECTED"},
	"IN_PRODUCTION": {"QC_PENDING", "REJECTED"},
	"QC_PENDING":    {"QC_PASSED", "QC_FAILED", "REJECTED"},
	"QC_PASSED":     {"RELEASED", "REJECTED"},
	"QC_FAILED":     {},
	"RELEASED":      {},
	"REJECTED":      {},
}

func isValidBatchTransition(from, to string) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const batchSelect = `SELECT b.id, b.batch_number, b.order_id, b.quantity_micro, b.status,
	b.manufacture_date, b.expiry_date, b.qc_date, b.qc_notes, b.qc_approved_by, b.location,
	b.created_at, b.updated_at, o.order_number, o.product_code
	FROM production_batches b
	JOIN production_orders o ON b.order_id = o.id`

func scanBatch(row interface{ Scan(...interface{}) error }) (ProductionBatch, error) {
	var b ProductionBatch
	var qtyMicro int64
	var qcDate sql.NullString
	err := row.Scan(&b.ID, &b.BatchNumber, &b.OrderID, &qtyMicro, &b.Status,
		&b.ManufactureDate, &b.ExpiryDate, &qcDate, &b.QCNotes, &b.QCApprovedBy, &b.Location,
		&b.CreatedAt, &b.UpdatedAt, &b.OrderNumber, &b.ProductCode)
	if err != nil {
		return b, err
	}
	b.Quantity = fromMicro(qtyMicro)
	b.QCDate = sp(qcDate)
	return b, nil
}

func collectBatches(rows *sql.Rows) []ProductionBatch {
	var items []ProductionBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err == nil {
			items = append(items, b)
		}
	}
	if items == nil {
		items = []ProductionBatch{}
	}
	return items
}

func handleListBatches(w http.ResponseWriter, r *http.Request) {
	query := batchSelect
	var args []interface{}
	var conditions []string
	if o := r.URL.Query().Get("order"); o != "" {
		conditions = append(conditions, "b.order_id = ?")
		args = append(args, o)
	}
	if s := r.URL.Query().Get("status"); s != "" {
		conditions = append(conditions, "b.status = ?")
		args = append(args, s)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY b.id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	jsonResp(w, collectBatches(rows))
}

func handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var b ProductionBatch
	if err := decodeBody(r, &b); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	validatePositiveInt(ve, "order_id", b.OrderID)
	validateQuantity(ve, "quantity", b.Quantity)
	validateEnum(ve, "status", b.Status, validBatchStatuses)
	validateDate(ve, "manufacture_date", b.ManufactureDate)
	validateDate(ve, "expiry_date", b.ExpiryDate)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if b.Status == "" {
		b.Status = "PENDING"
	}
	qtyMicro, _ := toMicro(b.Quantity)

	var orderNumber, orderStatus string
	err := db.QueryRow("SELECT order_number, status FROM production_orders WHERE id = ?", b.OrderID).
		Scan(&orderNumber, &orderStatus)
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", b.OrderID), codeNotFound, 404)
		return
	}
	if orderStatus == "COMPLETED" || orderStatus == "CANCELLED" {
		jsonErrCode(w, fmt.Sprintf("cannot add a batch to %s order %s", orderStatus, orderNumber),
			codeInvalidTransition, 409)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	// The batch number is always issued by the counter, whatever status the
	// batch is created in.
	batchNumber, err := nextBatchNumber(tx, time.Now())
	if err != nil {
		jsonErrCode(w, err.Error(), codeSequenceAllocation, 503)
		return
	}

	// Re-check under the write lock: a concurrent complete or cancel must not
	// slip in between the pre-check and the insert.
	if err := tx.QueryRow("SELECT status FROM production_orders WHERE id = ?", b.OrderID).Scan(&orderStatus); err != nil {
		jsonErrCode(w, fmt.Sprintf("order not found: %d", b.OrderID), codeNotFound, 404)
		return
	}
	if orderStatus == "COMPLETED" || orderStatus == "CANCELLED" {
		jsonErrCode(w, fmt.Sprintf("cannot add a batch to %s order %s", orderStatus, orderNumber),
			codeInvalidTransition, 409)
		return
	}

	res, err := tx.Exec(`INSERT INTO production_batches (batch_number, order_id, quantity_micro, status,
		manufacture_date, expiry_date, qc_notes, location) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batchNumber, b.OrderID, qtyMicro, b.Status, b.ManufactureDate, b.ExpiryDate, b.QCNotes, b.Location)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "production_batches", batchNumber,
		fmt.Sprintf("Created batch %s for order %s", batchNumber, orderNumber))
	broadcast("production_batch", "create", id)
	handleGetBatch(w, r, strconv.FormatInt(id, 10))
}

func handleGetBatch(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}
	b, err := scanBatch(db.QueryRow(batchSelect+" WHERE b.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}

	rows, err := db.Query(consumptionSelect+" WHERE c.production_batch_id = ? ORDER BY c.id", id)
	if err == nil {
		b.Consumptions = collectConsumptions(rows)
		rows.Close()
	}
	jsonResp(w, b)
}

func handleUpdateBatch(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}
	existing, err := scanBatch(db.QueryRow(batchSelect+" WHERE b.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}

	// A batch past its QC verdict is a frozen record.
	if len(batchTransitions[existing.Status]) == 0 {
		jsonErrCode(w, fmt.Sprintf("batch %s is %s and can no longer be updated", existing.BatchNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	b := existing
	b.Consumptions = nil
	if err := decodeBody(r, &b); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	validateQuantity(ve, "quantity", b.Quantity)
	validateEnum(ve, "status", b.Status, validBatchStatuses)
	validateDate(ve, "manufacture_date", b.ManufactureDate)
	validateDate(ve, "expiry_date", b.ExpiryDate)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}
	if b.BatchNumber != existing.BatchNumber {
		jsonErrCode(w, "batch_number is immutable", codeValidation, 400)
		return
	}

	if b.Status != existing.Status {
		if !isValidBatchTransition(existing.Status, b.Status) {
			jsonErrCode(w, fmt.Sprintf("invalid batch transition %s -> %s", existing.Status, b.Status),
				codeInvalidTransition, 409)
			return
		}
		// QC verdicts and release carry stamps; they go through their own
		// endpoints.
		switch b.Status {
		case "QC_PASSED", "QC_FAILED", "RELEASED":
			jsonErrCode(w, "use the qc-pass, qc-fail or release endpoint for QC status changes",
				codeValidation, 400)
			return
		}
	}

	qtyMicro, ok := toMicro(b.Quantity)
	if !ok {
		jsonErrCode(w, "quantity: must have at most 6 decimal places", codeValidation, 400)
		return
	}

	_, err = db.Exec(`UPDATE production_batches SET quantity_micro=?, status=?, manufacture_date=?,
		expiry_date=?, qc_notes=?, location=?, updated_at=? WHERE id=?`,
		qtyMicro, b.Status, b.ManufactureDate, b.ExpiryDate, b.QCNotes, b.Location,
		time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "production_batches", existing.BatchNumber,
		fmt.Sprintf("Updated batch %s", existing.BatchNumber))
	broadcast("production_batch", "update", id)
	handleGetBatch(w, r, idStr)
}

func handleBatchQCPass(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}
	existing, err := scanBatch(db.QueryRow(batchSelect+" WHERE b.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}
	if existing.Status != "QC_PENDING" {
		jsonErrCode(w, fmt.Sprintf("cannot QC-pass batch %s in status %s", existing.BatchNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = db.Exec("UPDATE production_batches SET status='QC_PASSED', qc_date=?, qc_approved_by=?, updated_at=? WHERE id=?",
		now, getUsername(r), now, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionQCPass, "production_batches", existing.BatchNumber,
		fmt.Sprintf("QC passed batch %s", existing.BatchNumber))
	broadcast("production_batch", "update", id)
	handleGetBatch(w, r, idStr)
}

func handleBatchQCFail(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	existing, err := scanBatch(db.QueryRow(batchSelect+" WHERE b.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}
	if existing.Status != "QC_PENDING" {
		jsonErrCode(w, fmt.Sprintf("cannot QC-fail batch %s in status %s", existing.BatchNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = db.Exec("UPDATE production_batches SET status='QC_FAILED', qc_date=?, qc_notes=?, qc_approved_by=?, updated_at=? WHERE id=?",
		now, req.Notes, getUsername(r), now, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionQCFail, "production_batches", existing.BatchNumber,
		fmt.Sprintf("QC failed batch %s: %s", existing.BatchNumber, req.Notes))
	broadcast("production_batch", "update", id)
	handleGetBatch(w, r, idStr)
}

func handleBatchRelease(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}
	existing, err := scanBatch(db.QueryRow(batchSelect+" WHERE b.id = ?", id))
	if err != nil {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}
	if existing.Status != "QC_PASSED" {
		jsonErrCode(w, fmt.Sprintf("cannot release batch %s in status %s", existing.BatchNumber, existing.Status),
			codeInvalidTransition, 409)
		return
	}

	_, err = db.Exec("UPDATE production_batches SET status='RELEASED', updated_at=? WHERE id=?",
		time.Now().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionRelease, "production_batches", existing.BatchNumber,
		fmt.Sprintf("Released batch %s", existing.BatchNumber))
	broadcast("production_batch", "update", id)
	handleGetBatch(w, r, idStr)
}

func handleListBatchConsumptions(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "invalid batch id", codeValidation, 400)
		return
	}
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM production_batches WHERE id = ?", id).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, fmt.Sprintf("batch not found: %d", id), codeNotFound, 404)
		return
	}

	rows, err := db.Query(consumptionSelect+" WHERE c.production_batch_id = ? ORDER BY c.id", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	jsonResp(w, collectConsumptions(rows))
}
