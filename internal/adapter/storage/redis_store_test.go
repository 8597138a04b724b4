package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis store tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, 5*time.Second)
}

func testSnapshot(companyID string) *domain.CompanySnapshot {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.CompanySnapshot{
		CompanyID:   companyID,
		CompanyName: "Test Traders",
		Details:     domain.Company{Name: "Test Traders", Address: "MG Road"},
		Ledgers: []domain.LedgerAccount{
			{Name: "Cash", PrimaryGroup: "Current Assets"},
		},
		Stocks: []domain.StockItem{
			{Name: "Widget-A", Unit: "nos"},
		},
		Parties: []domain.LedgerAccount{
			{Name: "Shop One", PrimaryGroup: "Sundry Debtors"},
		},
		Counts:        domain.SnapshotCounts{Ledgers: 1, Stocks: 1, Parties: 1},
		FirstSyncedAt: now,
		LastSyncedAt:  now,
		FetchedAt:     now,
	}
}

func TestRedisStore_SnapshotLifecycle(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	const companyID = "redis-test-traders"
	t.Cleanup(func() { store.DeleteCompany(ctx, companyID) })

	snap := testSnapshot(companyID)
	created, err := store.UpsertCompanySnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("UpsertCompanySnapshot: %v", err)
	}
	if !created {
		t.Error("first upsert should report created")
	}

	got, err := store.GetCompanySnapshot(ctx, companyID)
	if err != nil {
		t.Fatalf("GetCompanySnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot not stored")
	}
	if got.CompanyName != "Test Traders" || got.Counts.Stocks != 1 {
		t.Errorf("snapshot roundtrip wrong: %+v", got)
	}
	if len(got.Ledgers) != 1 || len(got.Stocks) != 1 || len(got.Parties) != 1 {
		t.Errorf("collections lost: %d/%d/%d", len(got.Ledgers), len(got.Stocks), len(got.Parties))
	}
	if !got.FirstSyncedAt.Equal(snap.FirstSyncedAt) {
		t.Errorf("FirstSyncedAt = %v, want %v", got.FirstSyncedAt, snap.FirstSyncedAt)
	}

	// Resync: created is false, FirstSyncedAt survives.
	again := testSnapshot(companyID)
	again.FirstSyncedAt = again.FirstSyncedAt.Add(time.Hour)
	created, err = store.UpsertCompanySnapshot(ctx, again)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("second upsert should not report created")
	}
	got, _ = store.GetCompanySnapshot(ctx, companyID)
	if !got.FirstSyncedAt.Equal(snap.FirstSyncedAt) {
		t.Errorf("FirstSyncedAt not preserved: %v", got.FirstSyncedAt)
	}

	existed, err := store.DeleteCompany(ctx, companyID)
	if err != nil || !existed {
		t.Fatalf("DeleteCompany: existed=%v err=%v", existed, err)
	}
	if got, _ := store.GetCompanySnapshot(ctx, companyID); got != nil {
		t.Error("snapshot survived delete")
	}
	if existed, _ := store.DeleteCompany(ctx, companyID); existed {
		t.Error("second delete should report not existed")
	}
}

func TestRedisStore_BatchRecords(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	const companyID = "redis-test-batches"
	t.Cleanup(func() { store.DeleteCompany(ctx, companyID) })

	// DeleteCompany needs the meta key to exist.
	if _, err := store.UpsertCompanySnapshot(ctx, testSnapshot(companyID)); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	rec := &domain.StockBatchRecord{
		CompanyName: "Test Traders",
		StockItem:   "Widget-A",
		Batches:     []domain.Batch{{Size: 10, Quantity: 5}, {Size: 20, Quantity: 2}},
	}
	rec.Recompute()
	if err := store.PutStockBatchRecord(ctx, companyID, "widget-a", rec); err != nil {
		t.Fatalf("PutStockBatchRecord: %v", err)
	}

	got, err := store.GetStockBatchRecord(ctx, companyID, "widget-a")
	if err != nil {
		t.Fatalf("GetStockBatchRecord: %v", err)
	}
	if got == nil || got.TotalQuantity != 7 || len(got.Batches) != 2 {
		t.Errorf("batch record roundtrip wrong: %+v", got)
	}

	if missing, err := store.GetStockBatchRecord(ctx, companyID, "nothing"); err != nil || missing != nil {
		t.Errorf("absent record should be nil, nil; got %+v, %v", missing, err)
	}

	records, err := store.ListStockBatchRecords(ctx, companyID)
	if err != nil {
		t.Fatalf("ListStockBatchRecords: %v", err)
	}
	if len(records) != 1 || records["widget-a"] == nil {
		t.Errorf("list wrong: %+v", records)
	}

	// Batch records go away with their company.
	if _, err := store.DeleteCompany(ctx, companyID); err != nil {
		t.Fatalf("DeleteCompany: %v", err)
	}
	if got, _ := store.GetStockBatchRecord(ctx, companyID, "widget-a"); got != nil {
		t.Error("batch record survived company delete")
	}
}

func TestRedisStore_LockExcludes(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	release, err := store.Lock(ctx, "test/lock-key")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(shortCtx, "test/lock-key"); err == nil {
		t.Error("second lock on a held key should fail within the deadline")
	}

	release()
	release2, err := store.Lock(ctx, "test/lock-key")
	if err != nil {
		t.Fatalf("re-lock after release: %v", err)
	}
	release2()
}
