package model

import "time"

// BookingState is the state of a booking.  Confirmed is the only state a
// member can leave (by cancelling); attended and no_show are recorded after
// the class ends.
type BookingState string

const (
	BookingConfirmed BookingState = "confirmed"
	BookingCancelled BookingState = "cancelled"
	BookingAttended  BookingState = "attended"
	BookingNoShow    BookingState = "no_show"
)

// HoldsSeat reports whether a booking in this state occupies a seat.
// Outcomes are recorded on bookings that held a seat, so they keep it.
func (s BookingState) HoldsSeat() bool {
	return s == BookingConfirmed || s == BookingAttended || s == BookingNoShow
}

// IsOutcome reports whether s is a post-class outcome.
func (s BookingState) IsOutcome() bool {
	return s == BookingAttended || s == BookingNoShow
}

// PaymentMode records how a booking was paid for.
type PaymentMode string

const (
	PaymentCredit PaymentMode = "credit"
	PaymentDirect PaymentMode = "direct"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	return m == PaymentCredit || m == PaymentDirect
}

// Booking is a member's seat on a scheduled instance.
//
// Fields:
//
//	ID          – primary key identifier.
//	InstanceID  – instance the seat belongs to.
//	UserID      – member holding the seat.
//	State       – booking state.
//	PaymentMode – credit or direct payment.
//	PackageID   – package a credit was drawn from (credit bookings only).
//	CreatedAt   – when the seat was reserved.
//	CancelledAt – when the booking was cancelled (nil otherwise).
//	UpdatedAt   – last state change.
type Booking struct {
	ID          string       `json:"id"`
	InstanceID  string       `json:"instance_id"`
	UserID      string       `json:"user_id"`
	State       BookingState `json:"state"`
	PaymentMode PaymentMode  `json:"payment_mode"`
	PackageID   *string      `json:"package_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
