package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerAccount is an account record extracted from the accounting source.
// Records are superseded wholesale on every sync; there is no incremental
// diffing against previously stored ledgers.
type LedgerAccount struct {
	Name           string          `json:"ledgerName"`
	Parent         string          `json:"parentGroup,omitempty"`
	PrimaryGroup   string          `json:"primaryGroup,omitempty"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Address        string          `json:"address,omitempty"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	MailingName    string          `json:"mailingName,omitempty"`
	CompanyName    string          `json:"companyName,omitempty"`
}

// IsParty reports whether the ledger is a counterparty account, i.e. its
// primary group names a sundry debtor or creditor. Tally leaves the primary
// group blank on some masters, in which case the parent group is consulted.
func (l LedgerAccount) IsParty() bool {
	group := l.PrimaryGroup
	if group == "" {
		group = l.Parent
	}
	group = strings.ToLower(group)
	return strings.Contains(group, "sundry debtor") || strings.Contains(group, "sundry creditor")
}
