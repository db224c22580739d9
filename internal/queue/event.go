// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Event types published by the seat board gateway.
const (
	TypeCheckoutCreated = "checkout.created"
	TypeHoldsExpired    = "holds.expired"
	TypeTicketsBooked   = "tickets.booked"
)

// Event is published whenever a board reaches a state other services care
// about: a checkout was handed off, holds ran out, or tickets were booked.
// It carries enough for the audit consumer to write a line without
// querying the reservation backend.
type Event struct {
	Type           string    `json:"type"`
	BoardID        string    `json:"board_id,omitempty"`
	CheckoutRef    string    `json:"checkout_ref,omitempty"`
	ScreeningID    int64     `json:"screening_id"`
	UserKey        string    `json:"user"`
	ReservationIDs []int64   `json:"reservation_ids,omitempty"`
	Seats          []string  `json:"seats,omitempty"`
	TotalCents     int       `json:"total_cents,omitempty"`
	PaymentRef     string    `json:"payment_reference,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
