package main

import "lotledger/internal/models"

// Type aliases so handlers can keep using the unqualified names while the
// actual definitions live in internal/models.

type APIResponse = models.APIResponse
type Meta = models.Meta
type Material = models.Material
type MaterialLot = models.MaterialLot
type LotConsumption = models.LotConsumption
type ProductionOrder = models.ProductionOrder
type ProductionBatch = models.ProductionBatch
type Recipe = models.Recipe
type RecipeItem = models.RecipeItem
type ReconcileResult = models.ReconcileResult
