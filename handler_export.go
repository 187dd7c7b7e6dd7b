package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lotledger/internal/export"
)

// handleExportConsumptions dumps the consumption ledger with its traceability
// context as CSV (default) or XLSX.
func handleExportConsumptions(w http.ResponseWriter, r *http.Request) {
	query := consumptionSelect
	var args []interface{}
	if m := r.URL.Query().Get("material"); m != "" {
		query += " WHERE l.material_code = ?"
		args = append(args, m)
	}
	query += " ORDER BY c.id"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	items := collectConsumptions(rows)
	rows.Close()

	headers := []string{"ID", "Lot Number", "Material", "Material Name", "Quantity", "Unit",
		"Unit Cost", "Batch", "Order", "Product", "Recorded At"}
	data := make([][]string, 0, len(items))
	for _, c := range items {
		data = append(data, []string{
			strconv.Itoa(c.ID), c.LotNumber, c.MaterialCode, c.MaterialName,
			c.Quantity.String(), c.Unit, c.UnitCost.String(),
			c.BatchNumber, c.OrderNumber, c.ProductCode, c.CreatedAt,
		})
	}

	filename := fmt.Sprintf("lot_consumptions_%s", time.Now().Format("2006-01-02"))
	if r.URL.Query().Get("format") == "xlsx" {
		if err := export.WriteExcel(w, filename+".xlsx", "Consumptions", headers, data); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	} else {
		export.WriteCSV(w, filename+".csv", headers, data)
	}
	logAudit(getUsername(r), AuditActionExport, "lot_consumptions", "export",
		fmt.Sprintf("Exported %d consumption entries", len(data)))
}

// handleExportLots dumps the lot inventory as CSV (default) or XLSX.
func handleExportLots(w http.ResponseWriter, r *http.Request) {
	query := lotSelect
	var args []interface{}
	if s := r.URL.Query().Get("status"); s != "" {
		query += " WHERE status = ?"
		args = append(args, s)
	}
	query += " ORDER BY id"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	items := collectLots(rows)
	rows.Close()

	headers := []string{"ID", "Lot Number", "Material", "Quantity", "Remaining", "Status",
		"Manufacture Date", "Expiry Date", "Supplier Lot", "Location"}
	data := make([][]string, 0, len(items))
	for _, l := range items {
		data = append(data, []string{
			strconv.Itoa(l.ID), l.LotNumber, l.MaterialCode,
			l.Quantity.String(), l.RemainingQuantity.String(), l.Status,
			l.ManufactureDate, l.ExpiryDate, l.SupplierLot, l.Location,
		})
	}

	filename := fmt.Sprintf("material_lots_%s", time.Now().Format("2006-01-02"))
	if r.URL.Query().Get("format") == "xlsx" {
		if err := export.WriteExcel(w, filename+".xlsx", "Lots", headers, data); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	} else {
		export.WriteCSV(w, filename+".csv", headers, data)
	}
	logAudit(getUsername(r), AuditActionExport, "material_lots", "export",
		fmt.Sprintf("Exported %d lots", len(data)))
}
