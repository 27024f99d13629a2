package orders

// CreateRequest represents a request to place an order.
type CreateRequest struct {
	ClientID        int64           `json:"client_id" validate:"omitempty,gt=0"`
	DeliveryAddress string          `json:"delivery_address" validate:"required,max=300"`
	DeliveryCity    string          `json:"delivery_city" validate:"required,max=100"`
	DeliveryPhone   string          `json:"delivery_phone" validate:"required,max=30"`
	Lines           []CreateLineReq `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineReq represents one requested product line.
type CreateLineReq struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// StatusChangeRequest represents a workflow transition request.
type StatusChangeRequest struct {
	Status string `json:"status" validate:"required"`
}

// ListRequest filters the order list.
type ListRequest struct {
	ClientID int64
	Status   Status
	Limit    int
	Offset   int
}
