package main

import (
	"net/http"
	"strconv"
	"strings"

	"lotledger/internal/audit"
	"lotledger/internal/models"
)

// Audit action constant aliases.
const (
	AuditActionCreate   = audit.ActionCreate
	AuditActionUpdate   = audit.ActionUpdate
	AuditActionDelete   = audit.ActionDelete
	AuditActionExport   = audit.ActionExport
	AuditActionStart    = audit.ActionStart
	AuditActionComplete = audit.ActionComplete
	AuditActionCancel   = audit.ActionCancel
	AuditActionQCPass   = audit.ActionQCPass
	AuditActionQCFail   = audit.ActionQCFail
	AuditActionRelease  = audit.ActionRelease
)

type AuditEntry = models.AuditEntry

// logAudit delegates to internal/audit, injecting the global db and hub.
func logAudit(username, action, module, recordID, summary string) {
	audit.LogAudit(db, wsHub, username, action, module, recordID, summary)
}

func getUsername(r *http.Request) string {
	return audit.GetUsername(r)
}

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
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

	module := r.URL.Query().Get("module")
	user := r.URL.Query().Get("user")
	search := r.URL.Query().Get("search")
	dateFrom := r.URL.Query().Get("from")
	dateTo := r.URL.Query().Get("to")

	var args []interface{}
	var conditions []string
	if module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, module)
	}
	if user != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, user)
	}
	if search != "" {
		conditions = append(conditions, "(summary LIKE ? OR action LIKE ? OR record_id LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s)
	}
	if dateFrom != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, dateFrom)
	}
	if dateTo != "" {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, dateTo+" 23:59:59")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	db.QueryRow("SELECT COUNT(*) FROM audit_log"+whereClause, args...).Scan(&total)

	offset := (page - 1) * limit
	query := `SELECT id, username, action, module, record_id, COALESCE(summary,''), created_at
		FROM audit_log` + whereClause + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	queryArgs := append(args, limit, offset)

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []AuditEntry
	for rows.Next() {
		var e AuditEntry
		rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt)
		items = append(items, e)
	}
	if items == nil {
		items = []AuditEntry{}
	}
	jsonRespMeta(w, items, total, page, limit)
}
