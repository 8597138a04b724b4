package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/port"
)

// OrderService owns the batch inventory ledger and order allocation.
// Every read-modify-write on a batch record happens inside a per-
// (company, stockItem) critical section obtained from the store's Locker,
// so concurrent orders can never drive a quantity negative. Placed orders
// are recorded asynchronously through a buffered queue drained by workers.
type OrderService struct {
	store      port.StoreRepository
	locker     port.Locker
	log        *logrus.Logger
	orderQueue chan domain.Order
	now        func() time.Time
}

func NewOrderService(store port.StoreRepository, locker port.Locker, log *logrus.Logger, queueSize int) *OrderService {
	return &OrderService{
		store:      store,
		locker:     locker,
		log:        log,
		orderQueue: make(chan domain.Order, queueSize),
		now:        time.Now,
	}
}

func batchLockKey(companyID, stockID string) string {
	return companyID + "/" + stockID
}

// AddBatches replaces the batch set of (company, stockItem) with the valid
// entries of batches. A batch is valid when size > 0 and quantity > 0; an
// input with no valid batch is rejected and the stored record, if any,
// stays untouched. This is a full replace, not a merge.
func (s *OrderService) AddBatches(ctx context.Context, company, stockItem string, batches []domain.Batch) (*domain.StockBatchRecord, error) {
	if strings.TrimSpace(company) == "" {
		return nil, domain.Invalidf("companyName is required")
	}
	if strings.TrimSpace(stockItem) == "" {
		return nil, domain.Invalidf("stockItem is required")
	}
	if len(batches) == 0 {
		return nil, domain.Invalidf("batches must be a non-empty array")
	}

	valid := make([]domain.Batch, 0, len(batches))
	seen := make(map[int]bool, len(batches))
	for _, b := range batches {
		if b.Size <= 0 || b.Quantity <= 0 {
			continue
		}
		if seen[b.Size] {
			return nil, domain.Invalidf("duplicate batch size %d", b.Size)
		}
		seen[b.Size] = true
		valid = append(valid, b)
	}
	if len(valid) == 0 {
		return nil, domain.Invalidf("no valid batches: each batch needs size > 0 and quantity > 0")
	}

	companyID := domain.Slug(company)
	stockID := domain.Slug(stockItem)

	release, err := s.locker.Lock(ctx, batchLockKey(companyID, stockID))
	if err != nil {
		return nil, fmt.Errorf("lock batch record: %w", err)
	}
	defer release()

	existing, err := s.store.GetStockBatchRecord(ctx, companyID, stockID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &domain.StockBatchRecord{
		CompanyName: company,
		StockItem:   stockItem,
		Batches:     valid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}
	rec.Recompute()

	if err := s.store.PutStockBatchRecord(ctx, companyID, stockID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetBatches returns the batch record for (company, stockItem); found is
// false when none exists.
func (s *OrderService) GetBatches(ctx context.Context, company, stockItem string) (*domain.StockBatchRecord, bool, error) {
	rec, err := s.store.GetStockBatchRecord(ctx, domain.Slug(company), domain.Slug(stockItem))
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// StocksWithBatches joins a company's synced stock items with their batch
// records.
func (s *OrderService) StocksWithBatches(ctx context.Context, company string) ([]domain.StockWithBatches, error) {
	companyID := domain.Slug(company)
	snap, err := s.store.GetCompanySnapshot(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("company %q: %w", company, domain.ErrNotFound)
	}

	records, err := s.store.ListStockBatchRecords(ctx, companyID)
	if err != nil {
		return nil, err
	}

	joined := make([]domain.StockWithBatches, 0, len(snap.Stocks))
	for _, stock := range snap.Stocks {
		entry := domain.StockWithBatches{StockItem: stock, Batches: []domain.Batch{}}
		if rec, ok := records[domain.Slug(stock.Name)]; ok {
			entry.Batches = rec.Batches
			entry.TotalQuantity = rec.TotalQuantity
		}
		joined = append(joined, entry)
	}
	return joined, nil
}

// PlaceOrder validates and allocates a multi-item order atomically: every
// line of every item is validated against the locked batch records before
// any decrement is applied, so a failing item leaves earlier items'
// batches untouched.
func (s *OrderService) PlaceOrder(ctx context.Context, company, shop string, items []domain.OrderItemRequest) (*domain.Order, error) {
	if strings.TrimSpace(company) == "" {
		return nil, domain.Invalidf("companyName is required")
	}
	if len(items) == 0 {
		return nil, domain.Invalidf("order must contain at least one item")
	}
	for i, item := range items {
		if strings.TrimSpace(item.StockItem) == "" {
			return nil, domain.Invalidf("items[%d]: stockItem is required", i)
		}
		if len(item.Pieces) == 0 {
			return nil, domain.Invalidf("items[%d]: pieces must not be empty", i)
		}
		for size, qty := range item.Pieces {
			if qty < 0 {
				return nil, domain.Invalidf("items[%d]: size %d: quantity must not be negative", i, size)
			}
		}
	}

	companyID := domain.Slug(company)

	// Lock every distinct record in sorted key order so two concurrent
	// orders over overlapping stock items cannot deadlock.
	stockIDs := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id := domain.Slug(item.StockItem)
		if !seen[id] {
			seen[id] = true
			stockIDs = append(stockIDs, id)
		}
	}
	sort.Strings(stockIDs)

	for _, stockID := range stockIDs {
		release, err := s.locker.Lock(ctx, batchLockKey(companyID, stockID))
		if err != nil {
			return nil, fmt.Errorf("lock batch record: %w", err)
		}
		defer release()
	}

	records := make(map[string]*domain.StockBatchRecord, len(stockIDs))
	for _, stockID := range stockIDs {
		rec, err := s.store.GetStockBatchRecord(ctx, companyID, stockID)
		if err != nil {
			return nil, err
		}
		records[stockID] = rec
	}

	// Phase one: validate the entire order. planned accumulates demand per
	// (stock, size) so repeated items cannot oversubscribe a batch.
	planned := make(map[string]map[int]int, len(stockIDs))
	for _, item := range items {
		stockID := domain.Slug(item.StockItem)
		rec := records[stockID]
		if rec == nil {
			return nil, fmt.Errorf("no batch record for stock item %q: %w", item.StockItem, domain.ErrNotFound)
		}
		if planned[stockID] == nil {
			planned[stockID] = make(map[int]int)
		}

		lines := 0
		for _, size := range sortedSizes(item.Pieces) {
			qty := item.Pieces[size]
			if qty == 0 {
				continue
			}
			batch := rec.BatchBySize(size)
			if batch == nil {
				return nil, &domain.ValidationError{
					Err:     domain.ErrMissingBatchSize,
					Details: fmt.Sprintf("stock item %q has no batch of size %d", item.StockItem, size),
				}
			}
			remaining := batch.Quantity - planned[stockID][size]
			if remaining < qty {
				return nil, &domain.ValidationError{
					Err: domain.ErrInsufficientStock,
					Details: fmt.Sprintf("stock item %q size %d: requested %d, available %d",
						item.StockItem, size, qty, remaining),
				}
			}
			planned[stockID][size] += qty
			lines++
		}
		if lines == 0 {
			return nil, domain.Invalidf("stock item %q: no positive quantities requested", item.StockItem)
		}
	}

	// Phase two: apply all decrements, then persist each touched record.
	now := s.now()
	results := make([]domain.OrderItemResult, 0, len(items))
	orderTotal := 0
	for _, item := range items {
		stockID := domain.Slug(item.StockItem)
		rec := records[stockID]

		itemResult := domain.OrderItemResult{StockItem: item.StockItem}
		for _, size := range sortedSizes(item.Pieces) {
			qty := item.Pieces[size]
			if qty == 0 {
				continue
			}
			batch := rec.BatchBySize(size)
			itemResult.Lines = append(itemResult.Lines, domain.OrderLine{
				Size:            size,
				Ordered:         qty,
				AvailableBefore: batch.Quantity,
			})
			batch.Quantity -= qty
			rec.TotalQuantity -= qty
			itemResult.TotalPieces += qty
		}
		rec.UpdatedAt = now
		orderTotal += itemResult.TotalPieces
		results = append(results, itemResult)
	}

	for _, stockID := range stockIDs {
		if err := s.store.PutStockBatchRecord(ctx, companyID, stockID, records[stockID]); err != nil {
			return nil, fmt.Errorf("persist allocation: %w", err)
		}
	}

	order := &domain.Order{
		ID:          uuid.NewString(),
		CompanyName: company,
		ShopName:    shop,
		Items:       results,
		TotalPieces: orderTotal,
		Status:      domain.OrderStatusPlaced,
		CreatedAt:   now,
	}
	s.enqueueHistory(*order)
	return order, nil
}

func sortedSizes(pieces map[int]int) []int {
	sizes := make([]int, 0, len(pieces))
	for size := range pieces {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// enqueueHistory hands the placed order to the history workers. The
// allocation is already committed, so a full queue is logged and dropped
// rather than failing the order.
func (s *OrderService) enqueueHistory(order domain.Order) {
	select {
	case s.orderQueue <- order:
	default:
		s.log.WithField("order", order.ID).Warn("order history queue full; dropping history entry")
	}
}

// OrderQueue exposes the history queue for the worker pool.
func (s *OrderService) OrderQueue() <-chan domain.Order {
	return s.orderQueue
}

// Close stops accepting history entries and lets workers drain.
func (s *OrderService) Close() {
	close(s.orderQueue)
}
