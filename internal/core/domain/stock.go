package domain

import "github.com/shopspring/decimal"

// StockItem is an inventory SKU extracted from the accounting source.
// Quantities, rates and values arrive as Tally-formatted text and are
// normalized to decimals at the source boundary.
type StockItem struct {
	Name         string          `json:"stockName"`
	Category     string          `json:"category,omitempty"`
	OpeningQty   decimal.Decimal `json:"openingQty"`
	ClosingQty   decimal.Decimal `json:"closingQty"`
	OpeningRate  decimal.Decimal `json:"openingRate"`
	ClosingRate  decimal.Decimal `json:"closingRate"`
	OpeningValue decimal.Decimal `json:"openingValue"`
	ClosingValue decimal.Decimal `json:"closingValue"`
	Unit         string          `json:"unit,omitempty"`
	CompanyName  string          `json:"companyName,omitempty"`
}

// StockWithBatches is the read shape joining a synced stock item with its
// batch ledger, when one exists.
type StockWithBatches struct {
	StockItem
	Batches       []Batch `json:"batches"`
	TotalQuantity int     `json:"totalQuantity"`
}
