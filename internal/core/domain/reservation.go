package domain

import "time"

type RejectReason string

const (
	ReasonInsufficientStock RejectReason = "insufficient_stock"
	ReasonProductNotFound   RejectReason = "product_not_found"
	ReasonConflictExhausted RejectReason = "conflict_exhausted"
)

type ReservationRequest struct {
	OrderID     string
	ProductID   string
	Quantity    int
	RequestedAt time.Time
}

// ReservationOutcome is the terminal result of a reservation attempt.
// Reason is set only when Confirmed is false.
type ReservationOutcome struct {
	OrderID   string
	ProductID string
	Quantity  int
	Confirmed bool
	Reason    RejectReason
}

func Confirmed(req ReservationRequest) ReservationOutcome {
	return ReservationOutcome{
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Confirmed: true,
	}
}

func Rejected(req ReservationRequest, reason RejectReason) ReservationOutcome {
	return ReservationOutcome{
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    reason,
	}
}

type CompensationRequest struct {
	OrderID   string
	ProductID string
	Quantity  int
}
