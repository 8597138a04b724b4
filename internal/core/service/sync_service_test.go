package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

func newSyncService(src *mockSource, store *mockStore) *SyncService {
	return NewSyncService(src, store, testLogger())
}

func sampleLedgers() []domain.LedgerAccount {
	return []domain.LedgerAccount{
		{Name: "Cash", PrimaryGroup: "Current Assets", Parent: "Cash-in-Hand"},
		{Name: "Shop One", PrimaryGroup: "Sundry Debtors", Parent: "Sundry Debtors"},
		{Name: "Supplier Co", PrimaryGroup: "Sundry Creditors", Parent: "Sundry Creditors"},
	}
}

func TestResolveActiveCompany_ProbeFails(t *testing.T) {
	src := &mockSource{probeErr: errors.New("no company open")}
	svc := newSyncService(src, newMockStore())

	_, err := svc.ResolveActiveCompany(context.Background())
	if !errors.Is(err, domain.ErrNoActiveCompany) {
		t.Fatalf("expected ErrNoActiveCompany, got %v", err)
	}
	if src.closed != 1 {
		t.Errorf("session not closed: closed = %d", src.closed)
	}
}

func TestResolveActiveCompany_EmptyList(t *testing.T) {
	svc := newSyncService(&mockSource{}, newMockStore())
	_, err := svc.ResolveActiveCompany(context.Background())
	if !errors.Is(err, domain.ErrNoActiveCompany) {
		t.Fatalf("expected ErrNoActiveCompany, got %v", err)
	}
}

func TestResolveActiveCompany_UsesFirstRow(t *testing.T) {
	src := &mockSource{companies: []domain.Company{
		{Name: "Cochin Traders"},
		{Name: "Old Books 2019"},
	}}
	svc := newSyncService(src, newMockStore())

	active, err := svc.ResolveActiveCompany(context.Background())
	if err != nil {
		t.Fatalf("ResolveActiveCompany: %v", err)
	}
	if active.Name != "Cochin Traders" {
		t.Errorf("active = %q, want first row", active.Name)
	}
}

func TestSyncCompany_ClassifiesAndPersists(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders", Address: "MG Road"}},
		ledgers:   sampleLedgers(),
		stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	store := newMockStore()
	svc := newSyncService(src, store)

	result, err := svc.SyncCompany(context.Background(), "Cochin Traders", nil)
	if err != nil {
		t.Fatalf("SyncCompany: %v", err)
	}
	if len(result.Ledgers) != 1 || len(result.Parties) != 2 || len(result.Stocks) != 1 {
		t.Fatalf("partition wrong: %d ledgers, %d parties, %d stocks",
			len(result.Ledgers), len(result.Parties), len(result.Stocks))
	}
	if result.SavedLimited {
		t.Error("SavedLimited should be false when records were extracted")
	}

	snap, err := store.GetCompanySnapshot(context.Background(), "cochin-traders")
	if err != nil || snap == nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if snap.Counts.Ledgers != 1 || snap.Counts.Parties != 2 || snap.Counts.Stocks != 1 {
		t.Errorf("counts = %+v", snap.Counts)
	}
	// Details were looked up from the company list.
	if snap.Details.Address != "MG Road" {
		t.Errorf("details not resolved from source: %+v", snap.Details)
	}
}

func TestSyncCompany_SavedLimited(t *testing.T) {
	src := &mockSource{companies: []domain.Company{{Name: "Cochin Traders"}}}
	store := newMockStore()
	svc := newSyncService(src, store)

	result, err := svc.SyncCompany(context.Background(), "Other Company", nil)
	if err != nil {
		t.Fatalf("SyncCompany: %v", err)
	}
	if !result.SavedLimited {
		t.Error("expected SavedLimited when nothing was extracted")
	}
	snap, _ := store.GetCompanySnapshot(context.Background(), "other-company")
	if snap == nil || !snap.SavedLimited {
		t.Errorf("stored snapshot should carry the degraded flag: %+v", snap)
	}
}

func TestSyncCompany_IdempotentResync(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders"}},
		ledgers:   sampleLedgers(),
		stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	store := newMockStore()
	svc := newSyncService(src, store)
	ctx := context.Background()

	first := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	if _, err := svc.SyncCompany(ctx, "Cochin Traders", nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	second := first.Add(time.Hour)
	svc.now = func() time.Time { return second }
	if _, err := svc.SyncCompany(ctx, "Cochin Traders", nil); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	snap, _ := store.GetCompanySnapshot(ctx, "cochin-traders")
	if !snap.FirstSyncedAt.Equal(first) {
		t.Errorf("FirstSyncedAt = %v, want preserved %v", snap.FirstSyncedAt, first)
	}
	if !snap.LastSyncedAt.Equal(second) {
		t.Errorf("LastSyncedAt = %v, want %v", snap.LastSyncedAt, second)
	}
	if snap.Counts.Stocks != 1 {
		t.Errorf("resync changed counts: %+v", snap.Counts)
	}

	summaries, _ := store.ListCompanySnapshots(ctx)
	if len(summaries) != 1 {
		t.Errorf("resync created a duplicate company: %d summaries", len(summaries))
	}
}

func TestSyncCompany_StoreFailureIsDegradedSuccess(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders"}},
		ledgers:   sampleLedgers(),
	}
	store := newMockStore()
	store.upsertErr = errors.New("connection refused")
	svc := newSyncService(src, store)

	result, err := svc.SyncCompany(context.Background(), "Cochin Traders", nil)
	if err != nil {
		t.Fatalf("store failure must not abort the sync: %v", err)
	}
	if result.StoreError == "" {
		t.Error("expected StoreError to be reported")
	}
	if len(result.Parties) != 2 {
		t.Errorf("extraction result lost: %+v", result)
	}
}

func TestSyncCompany_UsesProvidedDetails(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders", Address: "MG Road"}},
		stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	store := newMockStore()
	svc := newSyncService(src, store)

	provided := &domain.Company{Name: "Cochin Traders", Address: "Broadway"}
	if _, err := svc.SyncCompany(context.Background(), "Cochin Traders", provided); err != nil {
		t.Fatalf("SyncCompany: %v", err)
	}

	snap, _ := store.GetCompanySnapshot(context.Background(), "cochin-traders")
	if snap.Details.Address != "Broadway" {
		t.Errorf("provided details ignored: %+v", snap.Details)
	}
	// No extra session should have been opened for a details lookup.
	if src.sessions != 1 {
		t.Errorf("sessions = %d, want 1", src.sessions)
	}
}

func TestSyncActiveCompany(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders"}},
		stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	store := newMockStore()
	svc := newSyncService(src, store)

	result, err := svc.SyncActiveCompany(context.Background())
	if err != nil {
		t.Fatalf("SyncActiveCompany: %v", err)
	}
	if result.CompanyName != "Cochin Traders" {
		t.Errorf("CompanyName = %q", result.CompanyName)
	}
}

func TestGetCompany_NotFound(t *testing.T) {
	svc := newSyncService(&mockSource{}, newMockStore())
	_, err := svc.GetCompany(context.Background(), "Nobody")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCompany(t *testing.T) {
	store := newMockStore()
	store.snapshots["cochin-traders"] = &domain.CompanySnapshot{CompanyID: "cochin-traders"}
	svc := newSyncService(&mockSource{}, store)
	ctx := context.Background()

	if err := svc.DeleteCompany(ctx, "Cochin Traders"); err != nil {
		t.Fatalf("DeleteCompany: %v", err)
	}
	if err := svc.DeleteCompany(ctx, "Cochin Traders"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestCompanyStocks_ServedFromStore(t *testing.T) {
	src := &mockSource{connectErr: errors.New("source offline")}
	store := newMockStore()
	store.snapshots["cochin-traders"] = &domain.CompanySnapshot{
		CompanyID: "cochin-traders",
		Stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	svc := newSyncService(src, store)

	stocks, err := svc.CompanyStocks(context.Background(), "Cochin Traders")
	if err != nil {
		t.Fatalf("store hit must not touch the source: %v", err)
	}
	if len(stocks) != 1 || stocks[0].Name != "Widget-A" {
		t.Errorf("stocks = %+v", stocks)
	}
}

func TestCompanyStocks_FallbackRequiresActiveMatch(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders"}},
		stocks:    []domain.StockItem{{Name: "Widget-A"}},
	}
	svc := newSyncService(src, newMockStore())
	ctx := context.Background()

	// Trimmed, case-insensitive match passes.
	stocks, err := svc.CompanyStocks(ctx, "  cochin traders ")
	if err != nil {
		t.Fatalf("CompanyStocks fallback: %v", err)
	}
	if len(stocks) != 1 {
		t.Errorf("stocks = %+v", stocks)
	}

	// A different company is a conflict, not an empty result.
	_, err = svc.CompanyStocks(ctx, "Other Company")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCompanyParties_FallbackPartitions(t *testing.T) {
	src := &mockSource{
		companies: []domain.Company{{Name: "Cochin Traders"}},
		ledgers:   sampleLedgers(),
	}
	svc := newSyncService(src, newMockStore())

	parties, err := svc.CompanyParties(context.Background(), "Cochin Traders")
	if err != nil {
		t.Fatalf("CompanyParties: %v", err)
	}
	if len(parties) != 2 {
		t.Errorf("expected 2 parties, got %d", len(parties))
	}
}

func TestStats(t *testing.T) {
	store := newMockStore()
	store.snapshots["a"] = &domain.CompanySnapshot{Counts: domain.SnapshotCounts{Ledgers: 2, Stocks: 3, Parties: 1}}
	store.snapshots["b"] = &domain.CompanySnapshot{Counts: domain.SnapshotCounts{Ledgers: 1, Stocks: 0, Parties: 4}}
	svc := newSyncService(&mockSource{}, store)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Companies != 2 || stats.Ledgers != 3 || stats.Stocks != 3 || stats.Parties != 5 {
		t.Errorf("stats = %+v", stats)
	}
}
