package domain

import "time"

// Batch is one packaging size of a stock item's inventory. Size is the
// packaging unit (positive), Quantity the number of that size in stock
// (never negative).
type Batch struct {
	Name     string `json:"name,omitempty"`
	Size     int    `json:"size"`
	Quantity int    `json:"quantity"`
}

// StockBatchRecord owns the batch set for one stock item in one company.
// Invariant: TotalQuantity equals the sum of batch quantities and every
// quantity is >= 0, before and after every mutation.
type StockBatchRecord struct {
	CompanyName   string    `json:"companyName"`
	StockItem     string    `json:"stockItem"`
	Batches       []Batch   `json:"batches"`
	TotalQuantity int       `json:"totalQuantity"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Recompute derives TotalQuantity from the batch set.
func (r *StockBatchRecord) Recompute() {
	total := 0
	for _, b := range r.Batches {
		total += b.Quantity
	}
	r.TotalQuantity = total
}

// BatchBySize returns the batch with the given size, or nil. Sizes are
// unique within a record.
func (r *StockBatchRecord) BatchBySize(size int) *Batch {
	for i := range r.Batches {
		if r.Batches[i].Size == size {
			return &r.Batches[i]
		}
	}
	return nil
}
