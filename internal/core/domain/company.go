package domain

import "time"

// Company is a read-only mirror of a ledger-keeping entity in Tally.
// Dates stay as the formatted strings Tally serves; this system never
// mutates company data, only snapshots it.
type Company struct {
	Name      string `json:"companyName"`
	GUID      string `json:"companyGUID,omitempty"`
	Number    string `json:"companyNumber,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	BooksFrom string `json:"booksFrom,omitempty"`
	Address   string `json:"address,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// IsZero reports whether no field of the company is set.
func (c Company) IsZero() bool {
	return c == Company{}
}

// SnapshotCounts are the derived record counts persisted alongside a
// snapshot. They must equal the lengths of the record sets they describe.
type SnapshotCounts struct {
	Ledgers int `json:"ledgers"`
	Stocks  int `json:"stocks"`
	Parties int `json:"parties"`
}

// CompanySnapshot is the persisted aggregate for one company: metadata,
// the extracted record sets and sync timestamps. FirstSyncedAt is set once
// on create and preserved by every later upsert.
type CompanySnapshot struct {
	CompanyID     string          `json:"companyId"`
	CompanyName   string          `json:"companyName"`
	Details       Company         `json:"companyDetails"`
	Ledgers       []LedgerAccount `json:"ledgers"`
	Stocks        []StockItem     `json:"stocks"`
	Parties       []LedgerAccount `json:"parties"`
	Counts        SnapshotCounts  `json:"counts"`
	SavedLimited  bool            `json:"savedLimited"`
	FirstSyncedAt time.Time       `json:"firstSyncedAt"`
	LastSyncedAt  time.Time       `json:"lastSyncedAt"`
	FetchedAt     time.Time       `json:"fetchedAt"`
}

// CompanySummary is the lightweight listing shape for stored companies.
type CompanySummary struct {
	CompanyID     string         `json:"companyId"`
	CompanyName   string         `json:"companyName"`
	Counts        SnapshotCounts `json:"counts"`
	SavedLimited  bool           `json:"savedLimited"`
	FirstSyncedAt time.Time      `json:"firstSyncedAt"`
	LastSyncedAt  time.Time      `json:"lastSyncedAt"`
	FetchedAt     time.Time      `json:"fetchedAt"`
}

// StoreStats aggregates counts across every stored company.
type StoreStats struct {
	Companies int `json:"totalCompanies"`
	Ledgers   int `json:"totalLedgers"`
	Stocks    int `json:"totalStocks"`
	Parties   int `json:"totalParties"`
}
