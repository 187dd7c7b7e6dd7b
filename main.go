package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
)

var cfg Config

func main() {
	cfgPath := flag.String("config", "lotledger.yaml", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	var err error
	cfg, err = loadConfig(*cfgPath)
	if err != nil {
		log.Fatal("Config load failed: ", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if err := initDB(cfg.DBPath); err != nil {
		log.Fatal("DB init failed: ", err)
	}
	seedDB()

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", handleWebSocket)

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Audit
		case parts[0] == "audit" && len(parts) == 1 && r.Method == "GET":
			handleAuditLog(w, r)

		// Materials
		case parts[0] == "materials" && len(parts) == 1 && r.Method == "GET":
			handleListMaterials(w, r)
		case parts[0] == "materials" && len(parts) == 1 && r.Method == "POST":
			handleCreateMaterial(w, r)
		case parts[0] == "materials" && len(parts) == 2 && r.Method == "GET":
			handleGetMaterial(w, r, parts[1])
		case parts[0] == "materials" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateMaterial(w, r, parts[1])
		case parts[0] == "materials" && len(parts) == 3 && parts[2] == "lots" && r.Method == "GET":
			handleListMaterialLots(w, r, parts[1])

		// Material lots + consumption ledger
		case parts[0] == "lots" && len(parts) == 2 && parts[1] == "reconcile" && r.Method == "POST":
			handleReconcileLots(w, r)
		case parts[0] == "lots" && len(parts) == 1 && r.Method == "GET":
			handleListLots(w, r)
		case parts[0] == "lots" && len(parts) == 1 && r.Method == "POST":
			handleCreateLot(w, r)
		case parts[0] == "lots" && len(parts) == 2 && r.Method == "GET":
			handleGetLot(w, r, parts[1])
		case parts[0] == "lots" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateLot(w, r, parts[1])
		case parts[0] == "lots" && len(parts) == 3 && parts[2] == "consumptions" && r.Method == "GET":
			handleListLotConsumptions(w, r, parts[1])
		case parts[0] == "lots" && len(parts) == 3 && parts[2] == "consumptions" && r.Method == "POST":
			handleRecordConsumption(w, r, parts[1])

		// Production orders
		case parts[0] == "orders" && len(parts) == 1 && r.Method == "GET":
			handleListOrders(w, r)
		case parts[0] == "orders" && len(parts) == 1 && r.Method == "POST":
			handleCreateOrder(w, r)
		case parts[0] == "orders" && len(parts) == 2 && r.Method == "GET":
			handleGetOrder(w, r, parts[1])
		case parts[0] == "orders" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateOrder(w, r, parts[1])
		case parts[0] == "orders" && len(parts) == 3 && parts[2] == "start" && r.Method == "POST":
			handleStartOrder(w, r, parts[1])
		case parts[0] == "orders" && len(parts) == 3 && parts[2] == "complete" && r.Method == "POST":
			handleCompleteOrder(w, r, parts[1])
		case parts[0] == "orders" && len(parts) == 3 && parts[2] == "cancel" && r.Method == "POST":
			handleCancelOrder(w, r, parts[1])

		// Production batches
		case parts[0] == "batches" && len(parts) == 1 && r.Method == "GET":
			handleListBatches(w, r)
		case parts[0] == "batches" && len(parts) == 1 && r.Method == "POST":
			handleCreateBatch(w, r)
		case parts[0] == "batches" && len(parts) == 2 && r.Method == "GET":
			handleGetBatch(w, r, parts[1])
		case parts[0] == "batches" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateBatch(w, r, parts[1])
		case parts[0] == "batches" && len(parts) == 3 && parts[2] == "qc-pass" && r.Method == "POST":
			handleBatchQCPass(w, r, parts[1])
		case parts[0] == "batches" && len(parts) == 3 && parts[2] == "qc-fail" && r.Method == "POST":
			handleBatchQCFail(w, r, parts[1])
		case parts[0] == "batches" && len(parts) == 3 && parts[2] == "release" && r.Method == "POST":
			handleBatchRelease(w, r, parts[1])
		case parts[0] == "batches" && len(parts) == 3 && parts[2] == "consumptions" && r.Method == "GET":
			handleListBatchConsumptions(w, r, parts[1])

		// Recipes
		case parts[0] == "recipes" && len(parts) == 1 && r.Method == "GET":
			handleListRecipes(w, r)
		case parts[0] == "recipes" && len(parts) == 1 && r.Method == "POST":
			handleCreateRecipe(w, r)
		case parts[0] == "recipes" && len(parts) == 2 && r.Method == "GET":
			handleGetRecipe(w, r, parts[1])
		case parts[0] == "recipes" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateRecipe(w, r, parts[1])
		case parts[0] == "recipes" && len(parts) == 3 && parts[2] == "recalculate" && r.Method == "POST":
			handleRecalculateRecipe(w, r, parts[1])
		case parts[0] == "recipes" && len(parts) == 3 && parts[2] == "items" && r.Method == "POST":
			handleAddRecipeItem(w, r, parts[1])
		case parts[0] == "recipes" && len(parts) == 4 && parts[2] == "items" && r.Method == "PUT":
			handleUpdateRecipeItem(w, r, parts[1], parts[3])
		case parts[0] == "recipes" && len(parts) == 4 && parts[2] == "items" && r.Method == "DELETE":
			handleRemoveRecipeItem(w, r, parts[1], parts[3])

		// Exports
		case parts[0] == "export" && len(parts) == 2 && parts[1] == "consumptions" && r.Method == "GET":
			handleExportConsumptions(w, r)
		case parts[0] == "export" && len(parts) == 2 && parts[1] == "lots" && r.Method == "GET":
			handleExportLots(w, r)

		default:
			jsonErrCode(w, "not found", codeNotFound, 404)
		}
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("LotLedger server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(mux)))
}

// Error codes surfaced in the JSON error envelope.
const (
	codeNotFound           = "NOT_FOUND"
	codeValidation         = "VALIDATION_ERROR"
	codeInvalidTransition  = "INVALID_TRANSITION"
	codeInsufficientLotQty = "INSUFFICIENT_LOT_QUANTITY"
	codeLotNotAvailable    = "LOT_NOT_AVAILABLE"
	codeSequenceAllocation = "SEQUENCE_ALLOCATION_FAILED"
	codeInternal           = "INTERNAL"
)

func jsonResp(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(APIResponse{Data: data})
}

func jsonRespMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	json.NewEncoder(w).Encode(APIResponse{Data: data, Meta: &Meta{Total: total, Page: page, Limit: limit}})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func jsonErrCode(w http.ResponseWriter, msg, code string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
