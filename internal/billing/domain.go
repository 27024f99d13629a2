// Package billing owns invoices, payments and the reconciliation engine
// that recomputes invoice status, stored balance and client debt from
// the full payment set on every payment mutation.
package billing

import (
	"time"

	"github.com/douma-dental/manager/internal/ledger"
)

// InvoiceStatus enumerates invoice statuses.
type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "UNPAID"
	InvoicePartial   InvoiceStatus = "PARTIAL"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is issued once per order, on delivery. The amount and balance
// columns keep the HT convention; settlement is decided in TTC.
type Invoice struct {
	ID          int64
	Number      string
	OrderID     int64
	ClientID    int64
	ClientEmail string
	AmountHT    float64
	BalanceHT   float64
	Status      InvoiceStatus
	PaidAt      *time.Time
	PaidBy      *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Method enumerates recognised payment methods.
type Method string

const (
	MethodCash     Method = "CASH"
	MethodCheck    Method = "CHECK"
	MethodTransfer Method = "TRANSFER"
	MethodCard     Method = "CARD"
	MethodCOD      Method = "COD"
)

// IsValid checks if the method is recognised.
func (m Method) IsValid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodTransfer, MethodCard, MethodCOD:
		return true
	default:
		return false
	}
}

// Payment is one TTC payment applied to an invoice.
type Payment struct {
	ID        int64
	InvoiceID int64
	AmountTTC float64
	Method    Method
	Reference string
	CreatedAt time.Time
}

// Reconciliation is the outcome of recomputing an invoice from its
// payment set. Recomputation is a pure function of that set: running it
// twice over the same payments yields the same result.
type Reconciliation struct {
	TotalPaidTTC float64
	RemainingTTC float64
	BalanceHT    float64
	Status       InvoiceStatus
}

// Reconcile recomputes status and balances for an invoice face value
// given its complete payment set and the authoritative VAT rate.
func Reconcile(amountHT, vatRate float64, payments []Payment) Reconciliation {
	amounts := make([]float64, 0, len(payments))
	for _, p := range payments {
		amounts = append(amounts, p.AmountTTC)
	}
	totalPaid := ledger.TotalPaid(amounts)
	remaining := ledger.RemainingTTC(amountHT, vatRate, totalPaid)

	status := InvoiceUnpaid
	switch {
	case ledger.Settled(remaining):
		status = InvoicePaid
	case totalPaid > 0:
		status = InvoicePartial
	}

	return Reconciliation{
		TotalPaidTTC: totalPaid,
		RemainingTTC: remaining,
		BalanceHT:    ledger.BalanceHT(amountHT, vatRate, totalPaid),
		Status:       status,
	}
}
