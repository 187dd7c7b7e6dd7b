package main

import (
	"fmt"
	"net/http"
	"time"
)

func handleListMaterials(w http.ResponseWriter, r *http.Request) {
	query := `SELECT code, name, type, unit, unit_price, currency, current_stock_micro, min_stock_micro,
		created_at, updated_at FROM materials`
	var args []interface{}
	if t := r.URL.Query().Get("type"); t != "" {
		query += " WHERE type = ?"
		args = append(args, t)
	}
	query += " ORDER BY code"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []Material
	for rows.Next() {
		var m Material
		var stockMicro, minMicro int64
		rows.Scan(&m.Code, &m.Name, &m.Type, &m.Unit, &m.UnitPrice, &m.Currency,
			&stockMicro, &minMicro, &m.CreatedAt, &m.UpdatedAt)
		m.CurrentStock = fromMicro(stockMicro)
		m.MinStock = fromMicro(minMicro)
		items = append(items, m)
	}
	if items == nil {
		items = []Material{}
	}
	jsonResp(w, items)
}

func handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var m Material
	if err := decodeBody(r, &m); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "code", m.Code)
	requireField(ve, "name", m.Name)
	validateMaxLength(ve, "code", m.Code, 50)
	validateMaxLength(ve, "name", m.Name, 200)
	validateEnum(ve, "type", m.Type, validMaterialTypes)
	validateNonNegativeDecimal(ve, "unit_price", m.UnitPrice)
	validateNonNegativeDecimal(ve, "current_stock", m.CurrentStock)
	validateNonNegativeDecimal(ve, "min_stock", m.MinStock)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}

	stockMicro, ok := toMicro(m.CurrentStock)
	if !ok {
		jsonErrCode(w, "current_stock: must have at most 6 decimal places", codeValidation, 400)
		return
	}
	minMicro, ok := toMicro(m.MinStock)
	if !ok {
		jsonErrCode(w, "min_stock: must have at most 6 decimal places", codeValidation, 400)
		return
	}

	if m.Type == "" {
		m.Type = "raw_material"
	}
	if m.Unit == "" {
		m.Unit = "kg"
	}
	if m.Currency == "" {
		m.Currency = cfg.Currency
	}

	_, err := db.Exec(`INSERT INTO materials (code, name, type, unit, unit_price, currency, current_stock_micro, min_stock_micro)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Code, m.Name, m.Type, m.Unit, m.UnitPrice.String(), m.Currency, stockMicro, minMicro)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "materials", m.Code, fmt.Sprintf("Created material %s (%s)", m.Code, m.Name))
	broadcast("material", "create", m.Code)
	handleGetMaterial(w, r, m.Code)
}

func handleGetMaterial(w http.ResponseWriter, r *http.Request, code string) {
	var m Material
	var stockMicro, minMicro int64
	err := db.QueryRow(`SELECT code, name, type, unit, unit_price, currency, current_stock_micro, min_stock_micro,
		created_at, updated_at FROM materials WHERE code = ?`, code).
		Scan(&m.Code, &m.Name, &m.Type, &m.Unit, &m.UnitPrice, &m.Currency,
			&stockMicro, &minMicro, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		jsonErrCode(w, "material not found: "+code, codeNotFound, 404)
		return
	}
	m.CurrentStock = fromMicro(stockMicro)
	m.MinStock = fromMicro(minMicro)
	jsonResp(w, m)
}

func handleUpdateMaterial(w http.ResponseWriter, r *http.Request, code string) {
	var existing Material
	var stockMicro, minMicro int64
	err := db.QueryRow(`SELECT code, name, type, unit, unit_price, currency, current_stock_micro, min_stock_micro
		FROM materials WHERE code = ?`, code).
		Scan(&existing.Code, &existing.Name, &existing.Type, &existing.Unit, &existing.UnitPrice,
			&existing.Currency, &stockMicro, &minMicro)
	if err != nil {
		jsonErrCode(w, "material not found: "+code, codeNotFound, 404)
		return
	}
	existing.CurrentStock = fromMicro(stockMicro)
	existing.MinStock = fromMicro(minMicro)

	m := existing
	if err := decodeBody(r, &m); err != nil {
		jsonErrCode(w, err.Error(), codeValidation, 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "name", m.Name)
	validateMaxLength(ve, "name", m.Name, 200)
	validateEnum(ve, "type", m.Type, validMaterialTypes)
	validateNonNegativeDecimal(ve, "unit_price", m.UnitPrice)
	validateNonNegativeDecimal(ve, "current_stock", m.CurrentStock)
	validateNonNegativeDecimal(ve, "min_stock", m.MinStock)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), codeValidation, 400)
		return
	}

	newStockMicro, ok := toMicro(m.CurrentStock)
	if !ok {
		jsonErrCode(w, "current_stock: must have at most 6 decimal places", codeValidation, 400)
		return
	}
	newMinMicro, ok := toMicro(m.MinStock)
	if !ok {
		jsonErrCode(w, "min_stock: must have at most 6 decimal places", codeValidation, 400)
		return
	}

	_, err = db.Exec(`UPDATE materials SET name=?, type=?, unit=?, unit_price=?, currency=?,
		current_stock_micro=?, min_stock_micro=?, updated_at=? WHERE code=?`,
		m.Name, m.Type, m.Unit, m.UnitPrice.String(), m.Currency,
		newStockMicro, newMinMicro, time.Now().Format("2006-01-02 15:04:05"), code)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "materials", code, fmt.Sprintf("Updated material %s", code))
	broadcast("material", "update", code)
	handleGetMaterial(w, r, code)
}

func handleListMaterialLots(w http.ResponseWriter, r *http.Request, code string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM materials WHERE code = ?", code).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "material not found: "+code, codeNotFound, 404)
		return
	}

	rows, err := db.Query(lotSelect+" WHERE material_code = ? ORDER BY id", code)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	jsonResp(w, collectLots(rows))
}
