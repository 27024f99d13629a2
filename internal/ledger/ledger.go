// Package ledger provides the pure money arithmetic shared by invoicing
// and payment reconciliation.
//
// Invoice amounts and balances are stored hors taxes (HT) while payments
// and everything the accountant sees are toutes taxes comprises (TTC).
// The conversion between the two lives here and nowhere else.
package ledger

// DefaultVATRate applies when company settings are unavailable.
const DefaultVATRate = 0.20

// PaidTolerance absorbs floating point noise when deciding whether an
// invoice is settled.
const PaidTolerance = 0.01

// TTC converts an HT amount to TTC for the given VAT rate.
func TTC(ht, vatRate float64) float64 {
	return ht * (1 + vatRate)
}

// HT converts a TTC amount back to HT for the given VAT rate.
func HT(ttc, vatRate float64) float64 {
	return ttc / (1 + vatRate)
}

// TotalPaid sums a set of TTC payment amounts.
func TotalPaid(amounts []float64) float64 {
	var total float64
	for _, a := range amounts {
		total += a
	}
	return total
}

// RemainingTTC returns the TTC amount still owed on an invoice whose
// face value is amountHT, never negative.
func RemainingTTC(amountHT, vatRate, totalPaidTTC float64) float64 {
	remaining := TTC(amountHT, vatRate) - totalPaidTTC
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BalanceHT returns the stored HT balance for an invoice given the TTC
// paid so far, never negative. The persisted balance column keeps the HT
// convention of the amount column even though settlement is decided in
// TTC terms.
func BalanceHT(amountHT, vatRate, totalPaidTTC float64) float64 {
	balance := amountHT - HT(totalPaidTTC, vatRate)
	if balance < 0 {
		return 0
	}
	return balance
}

// Settled reports whether a remaining TTC amount counts as fully paid.
func Settled(remainingTTC float64) bool {
	return remainingTTC <= PaidTolerance
}
