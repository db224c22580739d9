package model

// Ticket is a booked seat produced by redeeming a hold after a
// successful payment.  Tickets are returned by the backend and only
// passed through by this service.
type Ticket struct {
	ID            int64   `json:"id"`
	ScreeningID   int64   `json:"screening_id"`
	SeatID        int64   `json:"seat_id"`
	UserID        int64   `json:"user_id"`
	ReservationID int64   `json:"reservation_id"`
	Price         float64 `json:"price"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}
