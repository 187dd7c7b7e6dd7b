package audit

import (
	"database/sql"
	"log"
	"net/http"
	"strings"

	"lotledger/internal/websocket"
)

// Action constants.
const (
	ActionCreate   = "CREATE"
	ActionUpdate   = "UPDATE"
	ActionDelete   = "DELETE"
	ActionExport   = "EXPORT"
	ActionStart    = "START"
	ActionComplete = "COMPLETE"
	ActionCancel   = "CANCEL"
	ActionQCPass   = "QC_PASS"
	ActionQCFail   = "QC_FAIL"
	ActionRelease  = "RELEASE"
)

// LogAudit appends an audit trail row and notifies websocket listeners.
// Audit failures are logged, never propagated: a lost audit row must not
// fail the mutation it describes.
func LogAudit(db *sql.DB, hub *websocket.Hub, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		log.Printf("audit log error: %v", err)
	}
	if hub != nil {
		hub.Broadcast(websocket.Event{
			Type:   module + "_" + strings.ToLower(action),
			ID:     recordID,
			Action: action,
		})
	}
}

// GetUsername extracts the acting user from the request. Identity is
// asserted by the caller (reverse proxy or client header); there is no
// session layer in this service.
func GetUsername(r *http.Request) string {
	if u := r.Header.Get("X-User"); u != "" {
		return u
	}
	return "system"
}
