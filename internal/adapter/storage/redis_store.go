package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

// Key layout (hierarchical tree):
//
//	tallybridge:companies                          set of company IDs
//	tallybridge:company:<id>                       snapshot meta hash
//	tallybridge:company:<id>:ledgers               hash slug -> record JSON
//	tallybridge:company:<id>:stocks                hash slug -> record JSON
//	tallybridge:company:<id>:parties               hash slug -> record JSON
//	tallybridge:company:<id>:batches:<stockID>     batch record JSON
//	tallybridge:company:<id>:batchindex            set of stock IDs
//	tallybridge:company:<id>:orders                hash orderID -> JSON
const (
	keyPrefix       = "tallybridge:"
	companyIndexKey = keyPrefix + "companies"
	lockKeyPrefix   = keyPrefix + "lock:"

	lockTTL = 10 * time.Second
)

// RedisStore is the hierarchical key-value backend. Snapshot writes go
// through a MULTI/EXEC pipeline so counts are never observable without the
// records they describe.
type RedisStore struct {
	client  *redis.Client
	locker  *redislock.Client
	timeout time.Duration
}

func NewRedisStore(client *redis.Client, timeout time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		locker:  redislock.New(client),
		timeout: timeout,
	}
}

func (r *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func companyKey(companyID string) string {
	return keyPrefix + "company:" + companyID
}

func collectionKey(companyID, collection string) string {
	return companyKey(companyID) + ":" + collection
}

func batchRecordKey(companyID, stockID string) string {
	return companyKey(companyID) + ":batches:" + stockID
}

func batchIndexKey(companyID string) string {
	return companyKey(companyID) + ":batchindex"
}

func ordersKey(companyID string) string {
	return companyKey(companyID) + ":orders"
}

// collectionEntries maps records to hash members keyed by slugged name,
// suffixing the row index on collisions so no record is silently dropped.
func collectionEntries[T any](records []T, name func(T) string) (map[string]string, error) {
	entries := make(map[string]string, len(records))
	for i, rec := range records {
		id := domain.Slug(name(rec))
		if _, taken := entries[id]; taken {
			id = id + "-" + strconv.Itoa(i)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %q: %w", id, err)
		}
		entries[id] = string(raw)
	}
	return entries, nil
}

func (r *RedisStore) UpsertCompanySnapshot(ctx context.Context, snap *domain.CompanySnapshot) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	metaKey := companyKey(snap.CompanyID)

	existingFirst, err := r.client.HGet(ctx, metaKey, "firstSyncedAt").Result()
	created := err == redis.Nil
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read firstSyncedAt: %w", err)
	}
	if !created {
		first, parseErr := time.Parse(time.RFC3339Nano, existingFirst)
		if parseErr == nil {
			snap.FirstSyncedAt = first
		}
	}

	ledgers, err := collectionEntries(snap.Ledgers, func(l domain.LedgerAccount) string { return l.Name })
	if err != nil {
		return false, err
	}
	stocks, err := collectionEntries(snap.Stocks, func(s domain.StockItem) string { return s.Name })
	if err != nil {
		return false, err
	}
	parties, err := collectionEntries(snap.Parties, func(l domain.LedgerAccount) string { return l.Name })
	if err != nil {
		return false, err
	}

	details, err := json.Marshal(snap.Details)
	if err != nil {
		return false, fmt.Errorf("marshal company details: %w", err)
	}
	counts, err := json.Marshal(snap.Counts)
	if err != nil {
		return false, fmt.Errorf("marshal counts: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, companyIndexKey, snap.CompanyID)
		for collection, entries := range map[string]map[string]string{
			"ledgers": ledgers,
			"stocks":  stocks,
			"parties": parties,
		} {
			key := collectionKey(snap.CompanyID, collection)
			pipe.Del(ctx, key)
			if len(entries) > 0 {
				flat := make([]any, 0, len(entries)*2)
				for member, raw := range entries {
					flat = append(flat, member, raw)
				}
				pipe.HSet(ctx, key, flat...)
			}
		}
		pipe.HSet(ctx, metaKey,
			"companyName", snap.CompanyName,
			"details", string(details),
			"counts", string(counts),
			"savedLimited", strconv.FormatBool(snap.SavedLimited),
			"firstSyncedAt", snap.FirstSyncedAt.Format(time.RFC3339Nano),
			"lastSyncedAt", snap.LastSyncedAt.Format(time.RFC3339Nano),
			"fetchedAt", snap.FetchedAt.Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("write snapshot %s: %w", snap.CompanyID, err)
	}
	return created, nil
}

func (r *RedisStore) GetCompanySnapshot(ctx context.Context, companyID string) (*domain.CompanySnapshot, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	meta, err := r.client.HGetAll(ctx, companyKey(companyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", companyID, err)
	}
	if len(meta) == 0 {
		return nil, nil
	}

	snap := &domain.CompanySnapshot{CompanyID: companyID}
	if err := unmarshalMeta(meta, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", companyID, err)
	}

	if err := r.readCollection(ctx, companyID, "ledgers", &snap.Ledgers); err != nil {
		return nil, err
	}
	if err := r.readCollection(ctx, companyID, "stocks", &snap.Stocks); err != nil {
		return nil, err
	}
	if err := r.readCollection(ctx, companyID, "parties", &snap.Parties); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *RedisStore) readCollection(ctx context.Context, companyID, collection string, dest any) error {
	values, err := r.client.HGetAll(ctx, collectionKey(companyID, collection)).Result()
	if err != nil {
		return fmt.Errorf("read %s of %s: %w", collection, companyID, err)
	}
	switch out := dest.(type) {
	case *[]domain.LedgerAccount:
		for _, raw := range values {
			var rec domain.LedgerAccount
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("decode %s record: %w", collection, err)
			}
			*out = append(*out, rec)
		}
	case *[]domain.StockItem:
		for _, raw := range values {
			var rec domain.StockItem
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("decode %s record: %w", collection, err)
			}
			*out = append(*out, rec)
		}
	}
	return nil
}

func unmarshalMeta(meta map[string]string, snap *domain.CompanySnapshot) error {
	snap.CompanyName = meta["companyName"]
	snap.SavedLimited = meta["savedLimited"] == "true"
	if raw := meta["details"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &snap.Details); err != nil {
			return err
		}
	}
	if raw := meta["counts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &snap.Counts); err != nil {
			return err
		}
	}
	var err error
	if snap.FirstSyncedAt, err = parseTime(meta["firstSyncedAt"]); err != nil {
		return err
	}
	if snap.LastSyncedAt, err = parseTime(meta["lastSyncedAt"]); err != nil {
		return err
	}
	if snap.FetchedAt, err = parseTime(meta["fetchedAt"]); err != nil {
		return err
	}
	return nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (r *RedisStore) ListCompanySnapshots(ctx context.Context) ([]domain.CompanySummary, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	ids, err := r.client.SMembers(ctx, companyIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	summaries := make([]domain.CompanySummary, 0, len(ids))
	for _, id := range ids {
		meta, err := r.client.HGetAll(ctx, companyKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", id, err)
		}
		if len(meta) == 0 {
			continue
		}
		var snap domain.CompanySnapshot
		if err := unmarshalMeta(meta, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
		}
		summaries = append(summaries, domain.CompanySummary{
			CompanyID:     id,
			CompanyName:   snap.CompanyName,
			Counts:        snap.Counts,
			SavedLimited:  snap.SavedLimited,
			FirstSyncedAt: snap.FirstSyncedAt,
			LastSyncedAt:  snap.LastSyncedAt,
			FetchedAt:     snap.FetchedAt,
		})
	}
	return summaries, nil
}

func (r *RedisStore) DeleteCompany(ctx context.Context, companyID string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	exists, err := r.client.Exists(ctx, companyKey(companyID)).Result()
	if err != nil {
		return false, fmt.Errorf("check company %s: %w", companyID, err)
	}
	if exists == 0 {
		return false, nil
	}

	stockIDs, err := r.client.SMembers(ctx, batchIndexKey(companyID)).Result()
	if err != nil {
		return false, fmt.Errorf("list batch records of %s: %w", companyID, err)
	}

	keys := []string{
		companyKey(companyID),
		collectionKey(companyID, "ledgers"),
		collectionKey(companyID, "stocks"),
		collectionKey(companyID, "parties"),
		batchIndexKey(companyID),
		ordersKey(companyID),
	}
	for _, stockID := range stockIDs {
		keys = append(keys, batchRecordKey(companyID, stockID))
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, companyIndexKey, companyID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete company %s: %w", companyID, err)
	}
	return true, nil
}

func (r *RedisStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	summaries, err := r.ListCompanySnapshots(ctx)
	if err != nil {
		return domain.StoreStats{}, err
	}
	var stats domain.StoreStats
	for _, s := range summaries {
		stats.Companies++
		stats.Ledgers += s.Counts.Ledgers
		stats.Stocks += s.Counts.Stocks
		stats.Parties += s.Counts.Parties
	}
	return stats, nil
}

func (r *RedisStore) GetStockBatchRecord(ctx context.Context, companyID, stockID string) (*domain.StockBatchRecord, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := r.client.Get(ctx, batchRecordKey(companyID, stockID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch record %s/%s: %w", companyID, stockID, err)
	}
	var rec domain.StockBatchRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode batch record %s/%s: %w", companyID, stockID, err)
	}
	return &rec, nil
}

func (r *RedisStore) PutStockBatchRecord(ctx context.Context, companyID, stockID string, rec *domain.StockBatchRecord) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal batch record %s/%s: %w", companyID, stockID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, batchRecordKey(companyID, stockID), raw, 0)
		pipe.SAdd(ctx, batchIndexKey(companyID), stockID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write batch record %s/%s: %w", companyID, stockID, err)
	}
	return nil
}

func (r *RedisStore) ListStockBatchRecords(ctx context.Context, companyID string) (map[string]*domain.StockBatchRecord, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	stockIDs, err := r.client.SMembers(ctx, batchIndexKey(companyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list batch records of %s: %w", companyID, err)
	}
	records := make(map[string]*domain.StockBatchRecord, len(stockIDs))
	for _, stockID := range stockIDs {
		rec, err := r.GetStockBatchRecord(ctx, companyID, stockID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records[stockID] = rec
		}
	}
	return records, nil
}

func (r *RedisStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ID, err)
	}
	companyID := domain.Slug(order.CompanyName)
	if err := r.client.HSet(ctx, ordersKey(companyID), order.ID, raw).Err(); err != nil {
		return fmt.Errorf("write order %s: %w", order.ID, err)
	}
	return nil
}

// Lock obtains a distributed lock on key, retrying with backoff until the
// key is held or ctx expires.
func (r *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.locker.Obtain(ctx, lockKeyPrefix+key, lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 200),
	})
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
