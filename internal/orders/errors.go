package orders

import "errors"

// Domain errors for the order lifecycle. Each maps to one user-facing
// message; callers match with errors.Is.
var (
	// ErrNotFound indicates the requested order was not found.
	ErrNotFound = errors.New("commande introuvable")
	// ErrInvalidStatus indicates an unknown target status.
	ErrInvalidStatus = errors.New("statut de commande inconnu")
	// ErrInvalidTransition indicates the transition table forbids the move.
	ErrInvalidTransition = errors.New("transition de statut non autorisée")
	// ErrTerminalState indicates the order is DELIVERED or CANCELLED.
	ErrTerminalState = errors.New("commande dans un état final")
	// ErrCannotCancelPaid indicates the order's invoice is fully paid.
	ErrCannotCancelPaid = errors.New("impossible d'annuler une commande déjà payée")
	// ErrApprovalRequired indicates the order awaits administrative sign-off.
	ErrApprovalRequired = errors.New("commande en attente d'approbation administrateur")

	// Validation errors.
	ErrEmptyLines      = errors.New("au moins une ligne est requise")
	ErrInvalidQuantity = errors.New("la quantité doit être supérieure à zéro")
)
