package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/port"
)

// Tally's ODBC surface exposes masters as pseudo-tables with $-prefixed
// columns. These queries are the single place raw source fields are read;
// every other component sees only the canonical domain shapes produced
// here.
const (
	probeQuery = `SELECT $Name FROM LEDGER`

	companiesQuery = `SELECT $Name, $GUID, $_CompanyNumber, $StartingFrom, $BooksFrom, $Address, $Email, $Phone FROM COMPANY`

	ledgersQuery = `SELECT $Name, $Parent, $_PrimaryGroup, $OpeningBalance, $ClosingBalance, $Address, $Email, $Phone, $MailingName FROM LEDGER ORDER BY $ClosingBalance ASC`

	stocksQuery = `SELECT $Name, $Parent, $OpeningBalance, $ClosingBalance, $OpeningRate, $ClosingRate, $OpeningValue, $ClosingValue, $BaseUnits FROM STOCKITEM ORDER BY $ClosingValue ASC`
)

// TallyConnector opens one source session per logical operation. The DSN
// points at the desktop application's query endpoint; the driver name is
// configurable so the stock database/sql ODBC driver of the deployment
// environment can be used.
type TallyConnector struct {
	driver  string
	dsn     string
	timeout time.Duration
	log     *logrus.Logger
}

func NewTallyConnector(driver, dsn string, timeout time.Duration, log *logrus.Logger) *TallyConnector {
	return &TallyConnector{driver: driver, dsn: dsn, timeout: timeout, log: log}
}

func (c *TallyConnector) Connect(ctx context.Context) (port.SourceSession, error) {
	db, err := sql.Open(c.driver, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	// sql.Open validates arguments only; ping to establish the session now
	// so connectivity failures surface before any extraction starts.
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect source: %w", err)
	}
	return &tallySession{db: db, timeout: c.timeout, log: c.log}, nil
}

type tallySession struct {
	db      *sql.DB
	timeout time.Duration
	log     *logrus.Logger
}

func (s *tallySession) Close() error {
	return s.db.Close()
}

func (s *tallySession) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *tallySession) Probe(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var name sql.NullString
	err := s.db.QueryRowContext(ctx, probeQuery).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		// The table answered with zero rows; a company is loaded.
		return nil
	}
	if err != nil {
		return fmt.Errorf("probe ledger table: %w", err)
	}
	return nil
}

func (s *tallySession) Companies(ctx context.Context) ([]domain.Company, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, companiesQuery)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var companies []domain.Company
	for rows.Next() {
		var name, guid, number, startDate, booksFrom, address, email, phone sql.NullString
		if err := rows.Scan(&name, &guid, &number, &startDate, &booksFrom, &address, &email, &phone); err != nil {
			return nil, fmt.Errorf("scan company row: %w", err)
		}
		companies = append(companies, domain.Company{
			Name:      text(name),
			GUID:      text(guid),
			Number:    text(number),
			StartDate: text(startDate),
			BooksFrom: text(booksFrom),
			Address:   text(address),
			Email:     text(email),
			Phone:     text(phone),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read company rows: %w", err)
	}
	return companies, nil
}

func (s *tallySession) Ledgers(ctx context.Context, companyName string) ([]domain.LedgerAccount, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, ledgersQuery)
	if err != nil {
		return nil, fmt.Errorf("query ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []domain.LedgerAccount
	for rows.Next() {
		var name, parent, primaryGroup, opening, closing, address, email, phone, mailingName sql.NullString
		if err := rows.Scan(&name, &parent, &primaryGroup, &opening, &closing, &address, &email, &phone, &mailingName); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		ledgers = append(ledgers, domain.LedgerAccount{
			Name:           text(name),
			Parent:         text(parent),
			PrimaryGroup:   text(primaryGroup),
			OpeningBalance: amount(text(opening)),
			ClosingBalance: amount(text(closing)),
			Address:        text(address),
			Email:          text(email),
			Phone:          text(phone),
			MailingName:    text(mailingName),
			CompanyName:    companyName,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return ledgers, nil
}

func (s *tallySession) Stocks(ctx context.Context, companyName string) ([]domain.StockItem, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stocksQuery)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()

	var stocks []domain.StockItem
	for rows.Next() {
		var name, category, openQty, closeQty, openRate, closeRate, openValue, closeValue, unit sql.NullString
		if err := rows.Scan(&name, &category, &openQty, &closeQty, &openRate, &closeRate, &openValue, &closeValue, &unit); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}
		stocks = append(stocks, domain.StockItem{
			Name:         text(name),
			Category:     text(category),
			OpeningQty:   amount(text(openQty)),
			ClosingQty:   amount(text(closeQty)),
			OpeningRate:  amount(text(openRate)),
			ClosingRate:  amount(text(closeRate)),
			OpeningValue: amount(text(openValue)),
			ClosingValue: amount(text(closeValue)),
			Unit:         text(unit),
			CompanyName:  companyName,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stock rows: %w", err)
	}
	return stocks, nil
}

func text(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return strings.TrimSpace(v.String)
}

// amount parses a Tally-formatted numeric field. Quantity fields carry the
// unit inline ("120 nos") and values use thousands separators; the leading
// numeric token is what counts. Unparseable input maps to zero rather than
// failing the extraction.
func amount(v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero
	}
	if f := strings.Fields(v); len(f) > 0 {
		v = f[0]
	}
	v = strings.ReplaceAll(v, ",", "")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
