package domain

import "time"

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "placed"
)

// OrderItemRequest asks for quantities out of specific batch sizes of one
// stock item. Pieces maps batch size to requested quantity.
type OrderItemRequest struct {
	StockItem string
	Pieces    map[int]int
}

// OrderLine records one allocated (size, quantity) pair along with the
// batch quantity observed immediately before the decrement.
type OrderLine struct {
	Size            int `json:"size"`
	Ordered         int `json:"ordered"`
	AvailableBefore int `json:"availableBefore"`
}

// OrderItemResult is the allocation outcome for one stock item.
type OrderItemResult struct {
	StockItem   string      `json:"stockItem"`
	Lines       []OrderLine `json:"lines"`
	TotalPieces int         `json:"totalPieces"`
}

// Order is a fully allocated order, persisted as history after the batch
// decrements have committed.
type Order struct {
	ID          string            `json:"id"`
	CompanyName string            `json:"companyName"`
	ShopName    string            `json:"shopName"`
	Items       []OrderItemResult `json:"items"`
	TotalPieces int               `json:"totalPieces"`
	Status      OrderStatus       `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
}
