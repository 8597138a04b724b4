package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/port"
)

// SyncService resolves the active company and drives synchronization
// passes from the accounting source into the persistent store. One source
// session is opened per logical operation and closed before returning.
type SyncService struct {
	source port.SourceConnector
	store  port.StoreRepository
	log    *logrus.Logger
	now    func() time.Time
}

func NewSyncService(source port.SourceConnector, store port.StoreRepository, log *logrus.Logger) *SyncService {
	return &SyncService{
		source: source,
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// SyncResult reports one synchronization pass. SavedLimited marks the
// degraded-success path: nothing was extracted, most likely because the
// requested company is not the one open in the source. StoreError carries
// a persistence failure that did not abort the extraction.
type SyncResult struct {
	CompanyName  string                 `json:"companyName"`
	Ledgers      []domain.LedgerAccount `json:"ledgers"`
	Stocks       []domain.StockItem     `json:"stocks"`
	Parties      []domain.LedgerAccount `json:"parties"`
	SavedLimited bool                   `json:"savedLimited"`
	StoreError   string                 `json:"storeError,omitempty"`
}

// ResolveActiveCompany determines which company's data the source is
// currently serving. The source only ever answers for one company at a
// time; when several are listed the first row is returned as a best-effort
// label, since the ODBC surface offers no column identifying the active
// one. Data queries are unaffected by which label is chosen.
func (s *SyncService) ResolveActiveCompany(ctx context.Context) (domain.Company, error) {
	sess, err := s.source.Connect(ctx)
	if err != nil {
		return domain.Company{}, err
	}
	defer sess.Close()
	return s.resolveWithSession(ctx, sess)
}

func (s *SyncService) resolveWithSession(ctx context.Context, sess port.SourceSession) (domain.Company, error) {
	if err := sess.Probe(ctx); err != nil {
		s.log.WithError(err).Debug("ledger probe failed; no company loaded")
		return domain.Company{}, domain.ErrNoActiveCompany
	}

	companies, err := sess.Companies(ctx)
	if err != nil {
		return domain.Company{}, fmt.Errorf("list companies: %w", err)
	}
	if len(companies) == 0 {
		return domain.Company{}, domain.ErrNoActiveCompany
	}
	if len(companies) > 1 {
		s.log.WithFields(logrus.Fields{
			"companies": len(companies),
			"label":     companies[0].Name,
		}).Warn("multiple companies listed; using first row as active label")
	}
	return companies[0], nil
}

// ListSourceCompanies returns the raw company list from the source.
func (s *SyncService) ListSourceCompanies(ctx context.Context) ([]domain.Company, error) {
	sess, err := s.source.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.Companies(ctx)
}

// CheckSource reports whether the source answers queries at all.
func (s *SyncService) CheckSource(ctx context.Context) error {
	sess, err := s.source.Connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Probe(ctx)
}

// SyncCompany runs one full synchronization pass for the named company.
// Extraction succeeds purely based on what the source currently serves;
// zero extracted records is degraded success, not an error. A store-write
// failure is reported in the result, not returned as an error.
func (s *SyncService) SyncCompany(ctx context.Context, name string, provided *domain.Company) (*SyncResult, error) {
	sess, err := s.source.Connect(ctx)
	if err != nil {
		return nil, err
	}

	stocks, err := sess.Stocks(ctx, name)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("extract stocks: %w", err)
	}
	ledgers, err := sess.Ledgers(ctx, name)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("extract ledgers: %w", err)
	}
	sess.Close()

	ordinary, parties := domain.PartitionLedgers(ledgers)
	savedLimited := len(stocks) == 0 && len(ledgers) == 0
	if savedLimited {
		s.log.WithField("company", name).Warn("no records extracted; company may not be the one open in the source")
	}

	details := s.companyDetails(ctx, name, provided)

	now := s.now()
	snap := &domain.CompanySnapshot{
		CompanyID:   domain.Slug(name),
		CompanyName: name,
		Details:     details,
		Ledgers:     ordinary,
		Stocks:      stocks,
		Parties:     parties,
		Counts: domain.SnapshotCounts{
			Ledgers: len(ordinary),
			Stocks:  len(stocks),
			Parties: len(parties),
		},
		SavedLimited:  savedLimited,
		FirstSyncedAt: now,
		LastSyncedAt:  now,
		FetchedAt:     now,
	}

	result := &SyncResult{
		CompanyName:  name,
		Ledgers:      ordinary,
		Stocks:       stocks,
		Parties:      parties,
		SavedLimited: savedLimited,
	}

	if _, err := s.store.UpsertCompanySnapshot(ctx, snap); err != nil {
		s.log.WithError(err).WithField("company", name).Error("failed to persist snapshot")
		result.StoreError = err.Error()
	}
	return result, nil
}

// companyDetails prefers caller-provided details and otherwise matches the
// name against the source company list, case-insensitively and trimmed.
// Lookup failures degrade to empty details; the sync itself proceeds.
func (s *SyncService) companyDetails(ctx context.Context, name string, provided *domain.Company) domain.Company {
	if provided != nil && !provided.IsZero() {
		details := *provided
		if details.Name == "" {
			details.Name = name
		}
		return details
	}

	sess, err := s.source.Connect(ctx)
	if err != nil {
		s.log.WithError(err).Warn("could not fetch company details")
		return domain.Company{Name: name}
	}
	defer sess.Close()

	companies, err := sess.Companies(ctx)
	if err != nil {
		s.log.WithError(err).Warn("could not fetch company details")
		return domain.Company{Name: name}
	}

	want := strings.ToLower(strings.TrimSpace(name))
	for _, c := range companies {
		if strings.ToLower(strings.TrimSpace(c.Name)) == want {
			return c
		}
	}
	return domain.Company{Name: name}
}

// SyncActiveCompany resolves the active company and syncs it.
func (s *SyncService) SyncActiveCompany(ctx context.Context) (*SyncResult, error) {
	active, err := s.ResolveActiveCompany(ctx)
	if err != nil {
		return nil, err
	}
	return s.SyncCompany(ctx, active.Name, &active)
}

// GetCompany returns the stored snapshot for a company name.
func (s *SyncService) GetCompany(ctx context.Context, name string) (*domain.CompanySnapshot, error) {
	snap, err := s.store.GetCompanySnapshot(ctx, domain.Slug(name))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("company %q: %w", name, domain.ErrNotFound)
	}
	return snap, nil
}

// ListCompanies returns summaries of every stored company.
func (s *SyncService) ListCompanies(ctx context.Context) ([]domain.CompanySummary, error) {
	return s.store.ListCompanySnapshots(ctx)
}

// DeleteCompany removes a company's stored data.
func (s *SyncService) DeleteCompany(ctx context.Context, name string) error {
	existed, err := s.store.DeleteCompany(ctx, domain.Slug(name))
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("company %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

// Stats aggregates stored record counts across all companies.
func (s *SyncService) Stats(ctx context.Context) (domain.StoreStats, error) {
	return s.store.Stats(ctx)
}

// CompanyStocks serves stock items from the store when the company has
// been synced, falling back to a live extraction otherwise. The fallback
// is strict: the requested name must match the active company label, else
// ErrConflict.
func (s *SyncService) CompanyStocks(ctx context.Context, name string) ([]domain.StockItem, error) {
	snap, err := s.store.GetCompanySnapshot(ctx, domain.Slug(name))
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap.Stocks, nil
	}

	sess, err := s.source.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := s.requireActive(ctx, sess, name); err != nil {
		return nil, err
	}
	return sess.Stocks(ctx, name)
}

// CompanyParties mirrors CompanyStocks for party accounts.
func (s *SyncService) CompanyParties(ctx context.Context, name string) ([]domain.LedgerAccount, error) {
	snap, err := s.store.GetCompanySnapshot(ctx, domain.Slug(name))
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap.Parties, nil
	}

	sess, err := s.source.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := s.requireActive(ctx, sess, name); err != nil {
		return nil, err
	}
	ledgers, err := sess.Ledgers(ctx, name)
	if err != nil {
		return nil, err
	}
	_, parties := domain.PartitionLedgers(ledgers)
	return parties, nil
}

func (s *SyncService) requireActive(ctx context.Context, sess port.SourceSession, name string) error {
	active, err := s.resolveWithSession(ctx, sess)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(active.Name), strings.TrimSpace(name)) {
		return fmt.Errorf("%w: active company is %q", domain.ErrConflict, active.Name)
	}
	return nil
}
