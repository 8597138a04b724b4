package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

// MySQLStore is the document-collection backend: whole records stored as
// JSON documents, keyed by normalized identifiers. It shares one long-lived
// *sql.DB across all requests.
type MySQLStore struct {
	db      *sql.DB
	locks   *keyMutex
	timeout time.Duration
}

func NewMySQLStore(db *sql.DB, timeout time.Duration) *MySQLStore {
	return &MySQLStore{db: db, locks: newKeyMutex(), timeout: timeout}
}

// Migrate creates the document tables when they do not exist yet.
func (m *MySQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS company_snapshots (
			company_id      VARCHAR(191) PRIMARY KEY,
			doc             JSON NOT NULL,
			first_synced_at DATETIME(6) NOT NULL,
			last_synced_at  DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_batch_records (
			company_id VARCHAR(191) NOT NULL,
			stock_id   VARCHAR(191) NOT NULL,
			doc        JSON NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (company_id, stock_id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_history (
			id         VARCHAR(64) PRIMARY KEY,
			company_id VARCHAR(191) NOT NULL,
			doc        JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			KEY idx_order_company (company_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate store schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *MySQLStore) UpsertCompanySnapshot(ctx context.Context, snap *domain.CompanySnapshot) (bool, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingFirst time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT first_synced_at FROM company_snapshots WHERE company_id = ? FOR UPDATE`,
		snap.CompanyID,
	).Scan(&existingFirst)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("read snapshot %s: %w", snap.CompanyID, err)
	}
	if !created {
		snap.FirstSyncedAt = existingFirst
	}

	doc, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot %s: %w", snap.CompanyID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO company_snapshots (company_id, doc, first_synced_at, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE doc = VALUES(doc), last_synced_at = VALUES(last_synced_at)`,
		snap.CompanyID, doc, snap.FirstSyncedAt, snap.LastSyncedAt,
	)
	if err != nil {
		return false, fmt.Errorf("write snapshot %s: %w", snap.CompanyID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit snapshot %s: %w", snap.CompanyID, err)
	}
	return created, nil
}

func (m *MySQLStore) GetCompanySnapshot(ctx context.Context, companyID string) (*domain.CompanySnapshot, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	var doc []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT doc FROM company_snapshots WHERE company_id = ?`, companyID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", companyID, err)
	}

	var snap domain.CompanySnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", companyID, err)
	}
	return &snap, nil
}

func (m *MySQLStore) ListCompanySnapshots(ctx context.Context) ([]domain.CompanySummary, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	rows, err := m.db.QueryContext(ctx, `SELECT doc FROM company_snapshots ORDER BY company_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var summaries []domain.CompanySummary
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		var snap domain.CompanySnapshot
		if err := json.Unmarshal(doc, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot row: %w", err)
		}
		summaries = append(summaries, domain.CompanySummary{
			CompanyID:     snap.CompanyID,
			CompanyName:   snap.CompanyName,
			Counts:        snap.Counts,
			SavedLimited:  snap.SavedLimited,
			FirstSyncedAt: snap.FirstSyncedAt,
			LastSyncedAt:  snap.LastSyncedAt,
			FetchedAt:     snap.FetchedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot rows: %w", err)
	}
	return summaries, nil
}

func (m *MySQLStore) DeleteCompany(ctx context.Context, companyID string) (bool, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM company_snapshots WHERE company_id = ?`, companyID)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", companyID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_batch_records WHERE company_id = ?`, companyID); err != nil {
		return false, fmt.Errorf("delete batch records of %s: %w", companyID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_history WHERE company_id = ?`, companyID); err != nil {
		return false, fmt.Errorf("delete orders of %s: %w", companyID, err)
	}

	rows, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete %s: %w", companyID, err)
	}
	return rows > 0, nil
}

func (m *MySQLStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	summaries, err := m.ListCompanySnapshots(ctx)
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

func (m *MySQLStore) GetStockBatchRecord(ctx context.Context, companyID, stockID string) (*domain.StockBatchRecord, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	var doc []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT doc FROM stock_batch_records WHERE company_id = ? AND stock_id = ?`,
		companyID, stockID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch record %s/%s: %w", companyID, stockID, err)
	}

	var rec domain.StockBatchRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode batch record %s/%s: %w", companyID, stockID, err)
	}
	return &rec, nil
}

func (m *MySQLStore) PutStockBatchRecord(ctx context.Context, companyID, stockID string, rec *domain.StockBatchRecord) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal batch record %s/%s: %w", companyID, stockID, err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO stock_batch_records (company_id, stock_id, doc, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE doc = VALUES(doc), updated_at = VALUES(updated_at)`,
		companyID, stockID, doc, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write batch record %s/%s: %w", companyID, stockID, err)
	}
	return nil
}

func (m *MySQLStore) ListStockBatchRecords(ctx context.Context, companyID string) (map[string]*domain.StockBatchRecord, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	rows, err := m.db.QueryContext(ctx,
		`SELECT stock_id, doc FROM stock_batch_records WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list batch records of %s: %w", companyID, err)
	}
	defer rows.Close()

	records := make(map[string]*domain.StockBatchRecord)
	for rows.Next() {
		var stockID string
		var doc []byte
		if err := rows.Scan(&stockID, &doc); err != nil {
			return nil, fmt.Errorf("scan batch record row: %w", err)
		}
		var rec domain.StockBatchRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode batch record %s/%s: %w", companyID, stockID, err)
		}
		records[stockID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read batch record rows: %w", err)
	}
	return records, nil
}

func (m *MySQLStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ID, err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO order_history (id, company_id, doc, created_at)
		VALUES (?, ?, ?, ?)`,
		order.ID, domain.Slug(order.CompanyName), doc, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write order %s: %w", order.ID, err)
	}
	return nil
}

// Lock serializes mutations per key within this process. The document
// backend is reached through a single service process, so an in-process
// keyed mutex is sufficient.
func (m *MySQLStore) Lock(ctx context.Context, key string) (func(), error) {
	return m.locks.Lock(ctx, key)
}

func (m *MySQLStore) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLStore) Close() error {
	return m.db.Close()
}
