package port

import (
	"context"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

// StoreRepository abstracts the persistent store behind upsert/get/delete
// operations keyed by normalized company identifiers. Two interchangeable
// backends exist: a hierarchical key-value tree (Redis) and a document
// collection (MySQL JSON documents).
type StoreRepository interface {
	// UpsertCompanySnapshot creates or merges a snapshot. FirstSyncedAt is
	// set only when the record is created; derived counts are written
	// atomically with the record content. Reports whether the record was
	// created.
	UpsertCompanySnapshot(ctx context.Context, snap *domain.CompanySnapshot) (bool, error)

	// GetCompanySnapshot returns the stored snapshot, or nil when absent.
	GetCompanySnapshot(ctx context.Context, companyID string) (*domain.CompanySnapshot, error)

	// ListCompanySnapshots returns summaries for every stored company.
	ListCompanySnapshots(ctx context.Context) ([]domain.CompanySummary, error)

	// DeleteCompany removes a snapshot and everything under it, reporting
	// whether anything existed.
	DeleteCompany(ctx context.Context, companyID string) (bool, error)

	// Stats aggregates counts across all stored companies.
	Stats(ctx context.Context) (domain.StoreStats, error)

	// GetStockBatchRecord returns the batch record for (company, stock),
	// or nil when absent.
	GetStockBatchRecord(ctx context.Context, companyID, stockID string) (*domain.StockBatchRecord, error)

	// PutStockBatchRecord writes the full record.
	PutStockBatchRecord(ctx context.Context, companyID, stockID string, rec *domain.StockBatchRecord) error

	// ListStockBatchRecords returns all batch records of a company keyed
	// by stock identifier.
	ListStockBatchRecords(ctx context.Context, companyID string) (map[string]*domain.StockBatchRecord, error)

	// SaveOrder appends an order to the company's order history.
	SaveOrder(ctx context.Context, order *domain.Order) error

	Ping(ctx context.Context) error
	Close() error
}

// Locker serializes read-modify-write cycles on a store key. The redis
// backend implements it with distributed locks, the document backend with
// an in-process keyed mutex.
type Locker interface {
	// Lock blocks until the key is held or ctx is done, returning the
	// release function.
	Lock(ctx context.Context, key string) (func(), error)
}
