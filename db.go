package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var db *sql.DB

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set WAL mode (some drivers don't parse connection string params correctly)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

// Quantities persist as integer millionths (micro-units) so that guarded
// decrements and conservation checks stay exact. Money columns persist as
// decimal TEXT.
func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS materials (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT DEFAULT 'raw_material' CHECK(type IN ('raw_material','packaging','semi_finished','finished_product')),
			unit TEXT DEFAULT 'kg',
			unit_price TEXT DEFAULT '0',
			currency TEXT DEFAULT 'USD',
			current_stock_micro INTEGER DEFAULT 0,
			min_stock_micro INTEGER DEFAULT 0 CHECK(min_stock_micro >= 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS material_lots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lot_number TEXT NOT NULL UNIQUE,
			material_code TEXT NOT NULL,
			quantity_micro INTEGER NOT NULL CHECK(quantity_micro > 0),
			remaining_micro INTEGER NOT NULL CHECK(remaining_micro >= 0),
			status TEXT DEFAULT 'AVAILABLE' CHECK(status IN ('AVAILABLE','RESERVED','QUARANTINE','EXPIRED','CONSUMED')),
			manufacture_date TEXT DEFAULT '',
			expiry_date TEXT DEFAULT '',
			supplier_lot TEXT DEFAULT '',
			location TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK(remaining_micro <= quantity_micro),
			FOREIGN KEY (material_code) REFERENCES materials(code) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS lot_consumptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			production_batch_id INTEGER NOT NULL,
			material_lot_id INTEGER NOT NULL,
			quantity_micro INTEGER NOT NULL CHECK(quantity_micro > 0),
			unit TEXT DEFAULT '',
			recipe_item_id INTEGER,
			unit_cost TEXT DEFAULT '0',
			location TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (production_batch_id) REFERENCES production_batches(id) ON DELETE RESTRICT,
			FOREIGN KEY (material_lot_id) REFERENCES material_lots(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			product_code TEXT NOT NULL,
			name TEXT NOT NULL,
			batch_size_micro INTEGER DEFAULT 0 CHECK(batch_size_micro >= 0),
			batch_unit TEXT DEFAULT '',
			version INTEGER DEFAULT 1 CHECK(version > 0),
			total_cost TEXT DEFAULT '0',
			is_active INTEGER DEFAULT 1,
			approved_by TEXT DEFAULT '',
			approved_at DATETIME,
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (product_code) REFERENCES materials(code) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipe_id TEXT NOT NULL,
			material_code TEXT NOT NULL,
			quantity_micro INTEGER NOT NULL CHECK(quantity_micro > 0),
			unit TEXT DEFAULT '',
			wastage_pct TEXT DEFAULT '0',
			unit_cost TEXT DEFAULT '0',
			total_cost TEXT DEFAULT '0',
			sort_order INTEGER DEFAULT 0,
			FOREIGN KEY (recipe_id) REFERENCES recipes(id) ON DELETE CASCADE,
			FOREIGN KEY (material_code) REFERENCES materials(code) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS production_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_number TEXT NOT NULL UNIQUE,
			product_code TEXT NOT NULL,
			recipe_id TEXT DEFAULT '',
			planned_qty_micro INTEGER NOT NULL CHECK(planned_qty_micro > 0),
			actual_qty_micro INTEGER DEFAULT 0 CHECK(actual_qty_micro >= 0),
			status TEXT DEFAULT 'DRAFT' CHECK(status IN ('DRAFT','PLANNED','IN_PROGRESS','COMPLETED','CANCELLED')),
			priority TEXT DEFAULT 'normal' CHECK(priority IN ('low','normal','high','critical')),
			planned_start TEXT DEFAULT '',
			planned_end TEXT DEFAULT '',
			actual_start DATETIME,
			actual_end DATETIME,
			assigned_to TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (product_code) REFERENCES materials(code) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS production_batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_number TEXT NOT NULL UNIQUE,
			order_id INTEGER NOT NULL,
			quantity_micro INTEGER NOT NULL CHECK(quantity_micro > 0),
			status TEXT DEFAULT 'PENDING' CHECK(status IN ('PENDING','IN_PRODUCTION','QC_PENDING','QC_PASSED','QC_FAILED','RELEASED','REJECTED')),
			manufacture_date TEXT DEFAULT '',
			expiry_date TEXT DEFAULT '',
			qc_date DATETIME,
			qc_notes TEXT DEFAULT '',
			qc_approved_by TEXT DEFAULT '',
			location TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (order_id) REFERENCES production_orders(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS sequence_counters (
			prefix TEXT NOT NULL,
			scope TEXT NOT NULL,
			counter INTEGER NOT NULL CHECK(counter > 0),
			PRIMARY KEY (prefix, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT DEFAULT 'system',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, t)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_material_lots_material_code ON material_lots(material_code)",
		"CREATE INDEX IF NOT EXISTS idx_material_lots_status ON material_lots(status)",
		"CREATE INDEX IF NOT EXISTS idx_lot_consumptions_lot_id ON lot_consumptions(material_lot_id)",
		"CREATE INDEX IF NOT EXISTS idx_lot_consumptions_batch_id ON lot_consumptions(production_batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_recipe_items_recipe_id ON recipe_items(recipe_id)",
		"CREATE INDEX IF NOT EXISTS idx_recipes_product_code ON recipes(product_code)",
		"CREATE INDEX IF NOT EXISTS idx_production_orders_status ON production_orders(status)",
		"CREATE INDEX IF NOT EXISTS idx_production_orders_number ON production_orders(order_number)",
		"CREATE INDEX IF NOT EXISTS idx_production_batches_order_id ON production_batches(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_production_batches_status ON production_batches(status)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_module ON audit_log(module)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_record_id ON audit_log(record_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index creation: %w\nSQL: %s", err, idx)
		}
	}

	return nil
}

func seedDB() {
	var count int
	db.QueryRow("SELECT COUNT(*) FROM materials").Scan(&count)
	if count > 0 {
		return
	}

	db.Exec(`INSERT INTO materials (code,name,type,unit,unit_price,currency,current_stock_micro,min_stock_micro) VALUES (?,?,?,?,?,?,?,?)`,
		"RM-ETH-001", "Ethanol 96%", "raw_material", "Lt", "1.85", "USD", 500_000_000, 100_000_000)
	db.Exec(`INSERT INTO materials (code,name,type,unit,unit_price,currency,current_stock_micro,min_stock_micro) VALUES (?,?,?,?,?,?,?,?)`,
		"RM-GLY-001", "Glycerin USP", "raw_material", "kg", "2.40", "USD", 200_000_000, 50_000_000)
	db.Exec(`INSERT INTO materials (code,name,type,unit,unit_price,currency,current_stock_micro,min_stock_micro) VALUES (?,?,?,?,?,?,?,?)`,
		"PK-BTL-500", "Bottle 500ml PET", "packaging", "un", "0.12", "USD", 10_000_000_000, 2_000_000_000)
	db.Exec(`INSERT INTO materials (code,name,type,unit,unit_price,currency) VALUES (?,?,?,?,?,?)`,
		"FP-SAN-500", "Hand Sanitizer 500ml", "finished_product", "un", "4.90", "USD")
}

// Micro-unit conversion helpers. Quantities are stored as integer millionths;
// toMicro rejects values that cannot be represented exactly at that scale.
func toMicro(d decimal.Decimal) (int64, bool) {
	m := d.Shift(6)
	if !m.IsInteger() {
		return 0, false
	}
	return m.IntPart(), true
}

func fromMicro(n int64) decimal.Decimal {
	return decimal.New(n, -6)
}

func ns(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func sp(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
