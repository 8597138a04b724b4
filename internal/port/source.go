package port

import (
	"context"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
)

// SourceConnector opens sessions against the external accounting source.
// The source driver represents one exclusive session to the desktop
// application, so a session is opened per logical operation and closed
// before returning, never pooled.
type SourceConnector interface {
	Connect(ctx context.Context) (SourceSession, error)
}

// SourceSession is one open read session. All methods issue bounded
// single-query round trips; a timeout is a connectivity failure.
type SourceSession interface {
	// Probe runs a minimal ledger query. An error means no company is
	// loaded in the source.
	Probe(ctx context.Context) error

	// Companies lists the company rows the source currently serves.
	Companies(ctx context.Context) ([]domain.Company, error)

	// Ledgers extracts all ledger accounts, tagged with companyName.
	Ledgers(ctx context.Context, companyName string) ([]domain.LedgerAccount, error)

	// Stocks extracts all stock items, tagged with companyName.
	Stocks(ctx context.Context, companyName string) ([]domain.StockItem, error)

	Close() error
}
