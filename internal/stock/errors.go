package stock

import "errors"

var (
	// ErrInsufficientStock indicates consumption would drive stock negative.
	ErrInsufficientStock = errors.New("stock insuffisant pour ce produit")
	// ErrInvalidQuantity indicates a zero delta.
	ErrInvalidQuantity = errors.New("quantité de mouvement invalide")
	// ErrProductNotFound indicates the product or variant does not exist.
	ErrProductNotFound = errors.New("produit introuvable")
)
