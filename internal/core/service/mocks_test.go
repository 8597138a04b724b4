package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/port"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Mock SourceConnector / SourceSession

type mockSource struct {
	connectErr   error
	probeErr     error
	companies    []domain.Company
	companiesErr error
	ledgers      []domain.LedgerAccount
	ledgersErr   error
	stocks       []domain.StockItem
	stocksErr    error

	mu       sync.Mutex
	sessions int
	closed   int
}

func (m *mockSource) Connect(ctx context.Context) (port.SourceSession, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.mu.Lock()
	m.sessions++
	m.mu.Unlock()
	return &mockSession{src: m}, nil
}

type mockSession struct {
	src *mockSource
}

func (s *mockSession) Probe(ctx context.Context) error {
	return s.src.probeErr
}

func (s *mockSession) Companies(ctx context.Context) ([]domain.Company, error) {
	return s.src.companies, s.src.companiesErr
}

func (s *mockSession) Ledgers(ctx context.Context, companyName string) ([]domain.LedgerAccount, error) {
	return s.src.ledgers, s.src.ledgersErr
}

func (s *mockSession) Stocks(ctx context.Context, companyName string) ([]domain.StockItem, error) {
	return s.src.stocks, s.src.stocksErr
}

func (s *mockSession) Close() error {
	s.src.mu.Lock()
	s.src.closed++
	s.src.mu.Unlock()
	return nil
}

// Mock StoreRepository + Locker. Records are copied on read/write via a
// JSON roundtrip, like the real backends decode stored documents.

type mockStore struct {
	mu        sync.Mutex
	snapshots map[string]*domain.CompanySnapshot
	batches   map[string]*domain.StockBatchRecord
	orders    []domain.Order

	upsertErr error
	putErr    error
	locks     map[string]chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{
		snapshots: make(map[string]*domain.CompanySnapshot),
		batches:   make(map[string]*domain.StockBatchRecord),
		locks:     make(map[string]chan struct{}),
	}
}

func copyVia[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return out
}

func (m *mockStore) UpsertCompanySnapshot(ctx context.Context, snap *domain.CompanySnapshot) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.snapshots[snap.CompanyID]
	if ok {
		snap.FirstSyncedAt = existing.FirstSyncedAt
	}
	m.snapshots[snap.CompanyID] = copyVia(snap)
	return !ok, nil
}

func (m *mockStore) GetCompanySnapshot(ctx context.Context, companyID string) (*domain.CompanySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[companyID]
	if !ok {
		return nil, nil
	}
	return copyVia(snap), nil
}

func (m *mockStore) ListCompanySnapshots(ctx context.Context) ([]domain.CompanySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var summaries []domain.CompanySummary
	for id, snap := range m.snapshots {
		summaries = append(summaries, domain.CompanySummary{
			CompanyID:   id,
			CompanyName: snap.CompanyName,
			Counts:      snap.Counts,
		})
	}
	return summaries, nil
}

func (m *mockStore) DeleteCompany(ctx context.Context, companyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[companyID]
	delete(m.snapshots, companyID)
	return ok, nil
}

func (m *mockStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats domain.StoreStats
	for _, snap := range m.snapshots {
		stats.Companies++
		stats.Ledgers += snap.Counts.Ledgers
		stats.Stocks += snap.Counts.Stocks
		stats.Parties += snap.Counts.Parties
	}
	return stats, nil
}

func batchKey(companyID, stockID string) string {
	return companyID + "/" + stockID
}

func (m *mockStore) GetStockBatchRecord(ctx context.Context, companyID, stockID string) (*domain.StockBatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchKey(companyID, stockID)]
	if !ok {
		return nil, nil
	}
	return copyVia(rec), nil
}

func (m *mockStore) PutStockBatchRecord(ctx context.Context, companyID, stockID string, rec *domain.StockBatchRecord) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batchKey(companyID, stockID)] = copyVia(rec)
	return nil
}

func (m *mockStore) ListStockBatchRecords(ctx context.Context, companyID string) (map[string]*domain.StockBatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make(map[string]*domain.StockBatchRecord)
	for key, rec := range m.batches {
		if len(key) > len(companyID) && key[:len(companyID)] == companyID {
			records[key[len(companyID)+1:]] = copyVia(rec)
		}
	}
	return records, nil
}

func (m *mockStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, *order)
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                   { return nil }

func (m *mockStore) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	sem, ok := m.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[key] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// seedBatches installs a batch record directly, bypassing AddBatches.
func (m *mockStore) seedBatches(company, stockItem string, batches ...domain.Batch) {
	rec := &domain.StockBatchRecord{
		CompanyName: company,
		StockItem:   stockItem,
		Batches:     batches,
	}
	rec.Recompute()
	m.mu.Lock()
	m.batches[batchKey(domain.Slug(company), domain.Slug(stockItem))] = rec
	m.mu.Unlock()
}

func (m *mockStore) batchRecord(company, stockItem string) *domain.StockBatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.batches[batchKey(domain.Slug(company), domain.Slug(stockItem))]
	if rec == nil {
		return nil
	}
	return copyVia(rec)
}
