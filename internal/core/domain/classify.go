package domain

// PartitionLedgers splits extracted ledgers into ordinary accounts and
// party accounts (debtors/creditors). The split is pure and
// order-preserving: records keep their extraction order within each
// partition.
func PartitionLedgers(ledgers []LedgerAccount) (ordinary, parties []LedgerAccount) {
	for _, l := range ledgers {
		if l.IsParty() {
			parties = append(parties, l)
		} else {
			ordinary = append(ordinary, l)
		}
	}
	return ordinary, parties
}
