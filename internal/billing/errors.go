package billing

import "errors"

// Domain errors for invoicing and payments. Each maps to one user-facing
// message; callers match with errors.Is.
var (
	// ErrInvoiceNotFound indicates the requested invoice was not found.
	ErrInvoiceNotFound = errors.New("facture introuvable")
	// ErrPaymentNotFound indicates the requested payment was not found.
	ErrPaymentNotFound = errors.New("versement introuvable")
	// ErrInvoiceLocked indicates the invoice is PAID and its payment
	// history is frozen.
	ErrInvoiceLocked = errors.New("facture payée: les versements sont verrouillés")
	// ErrExceedsBalance indicates the payment exceeds the remaining TTC balance.
	ErrExceedsBalance = errors.New("le versement dépasse le solde restant")
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("le montant doit être supérieur à zéro")
	// ErrInvalidMethod indicates an unrecognised payment method.
	ErrInvalidMethod = errors.New("mode de paiement inconnu")
)
