package models

import "github.com/shopspring/decimal"

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Material is a catalog item (raw material, packaging, semi-finished or
// finished product). CurrentStock is the aggregate figure kept in step with
// the lot ledger on every lot creation and consumption write.
type Material struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Currency     string          `json:"currency"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinStock     decimal.Decimal `json:"min_stock"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// MaterialLot is one quantity-bounded receipt of a material. Quantity is
// immutable after creation; RemainingQuantity only ever decreases. Lots are
// never deleted, an exhausted lot stays around as CONSUMED for traceability.
type MaterialLot struct {
	ID                int             `json:"id"`
	LotNumber         string          `json:"lot_number"`
	MaterialCode      string          `json:"material_code"`
	Quantity          decimal.Decimal `json:"quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Status            string          `json:"status"`
	ManufactureDate   string          `json:"manufacture_date"`
	ExpiryDate        string          `json:"expiry_date"`
	SupplierLot       string          `json:"supplier_lot"`
	Location          string          `json:"location"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

// LotConsumption is one immutable ledger entry: a quantity of a specific lot
// applied to a specific production batch. Corrections are new entries, never
// edits.
type LotConsumption struct {
	ID                int             `json:"id"`
	ProductionBatchID int             `json:"production_batch_id"`
	MaterialLotID     int             `json:"material_lot_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	Unit              string          `json:"unit"`
	RecipeItemID      *int            `json:"recipe_item_id"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Location          string          `json:"location"`
	CreatedAt         string          `json:"created_at"`

	// Traceability context filled in by list projections.
	LotNumber    string `json:"lot_number,omitempty"`
	MaterialCode string `json:"material_code,omitempty"`
	MaterialName string `json:"material_name,omitempty"`
	BatchNumber  string `json:"batch_number,omitempty"`
	OrderNumber  string `json:"order_number,omitempty"`
	ProductCode  string `json:"product_code,omitempty"`
}

// ProductionOrder is a planned production run. OrderNumber is issued by the
// sequence counter and never edited afterwards.
type ProductionOrder struct {
	ID              int             `json:"id"`
	OrderNumber     string          `json:"order_number"`
	ProductCode     string          `json:"product_code"`
	RecipeID        string          `json:"recipe_id"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	ActualQuantity  decimal.Decimal `json:"actual_quantity"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	PlannedStart    string          `json:"planned_start"`
	PlannedEnd      string          `json:"planned_end"`
	ActualStart     *string         `json:"actual_start"`
	ActualEnd       *string         `json:"actual_end"`
	AssignedTo      string          `json:"assigned_to"`
	Notes           string          `json:"notes"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`

	ProductName string            `json:"product_name,omitempty"`
	RecipeName  string            `json:"recipe_name,omitempty"`
	Batches     []ProductionBatch `json:"batches,omitempty"`
}

// ProductionBatch is one physical output run of a production order, tracked
// through the QC workflow.
type ProductionBatch struct {
	ID              int             `json:"id"`
	BatchNumber     string          `json:"batch_number"`
	OrderID         int             `json:"order_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Status          string          `json:"status"`
	ManufactureDate string          `json:"manufacture_date"`
	ExpiryDate      string          `json:"expiry_date"`
	QCDate          *string         `json:"qc_date"`
	QCNotes         string          `json:"qc_notes"`
	QCApprovedBy    string          `json:"qc_approved_by"`
	Location        string          `json:"location"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`

	OrderNumber  string           `json:"order_number,omitempty"`
	ProductCode  string           `json:"product_code,omitempty"`
	Consumptions []LotConsumption `json:"consumptions,omitempty"`
}

// Recipe is a versioned bill-of-materials for one product. TotalCost is a
// cached derivation, kept equal to the sum of its items' totals on every
// mutation.
type Recipe struct {
	ID          string          `json:"id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	BatchSize   decimal.Decimal `json:"batch_size"`
	BatchUnit   string          `json:"batch_unit"`
	Version     int             `json:"version"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	IsActive    bool            `json:"is_active"`
	ApprovedBy  string          `json:"approved_by"`
	ApprovedAt  *string         `json:"approved_at"`
	Notes       string          `json:"notes"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`

	Items []RecipeItem `json:"items,omitempty"`
}

// RecipeItem is one BOM line. UnitCost and TotalCost are snapshots taken at
// the last (re)calculation; SortOrder is a cosmetic 1-based display sequence.
type RecipeItem struct {
	ID             int             `json:"id"`
	RecipeID       string          `json:"recipe_id"`
	MaterialCode   string          `json:"material_code"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	WastagePercent decimal.Decimal `json:"wastage_percent"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	SortOrder      int             `json:"sort_order"`

	MaterialName string `json:"material_name,omitempty"`
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}

// ReconcileResult reports one synthetic lot created by the opening-balance
// reconciler.
type ReconcileResult struct {
	MaterialCode string          `json:"material_code"`
	LotNumber    string          `json:"lot_number"`
	Quantity     decimal.Decimal `json:"quantity"`
}
