package model

import "time"

// WaitlistStatus distinguishes entries still queued from entries that
// were promoted into a booking and are awaiting confirmation.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistPromoted WaitlistStatus = "promoted"
)

// WaitlistEntry is a member's place in the queue of a full instance.
// Waiting entries of one instance always carry positions 1..N.  Once
// promoted the entry leaves the queue (Position becomes 0) and remains as a
// promotion record until the member confirms, the window expires or the
// booking is cancelled.
//
// Fields:
//
//	ID                 – primary key identifier.
//	InstanceID         – instance being waited on.
//	UserID             – waiting member.
//	Position           – 1-based queue position (0 once promoted).
//	Status             – waiting or promoted.
//	PaymentMode        – how the seat is paid for once promoted.
//	JoinedAt           – when the member joined the queue.
//	BookingID          – booking created by the promotion.
//	PromotionExpiresAt – deadline for confirming a promotion.
type WaitlistEntry struct {
	ID                 string         `json:"id"`
	InstanceID         string         `json:"instance_id"`
	UserID             string         `json:"user_id"`
	Position           int            `json:"position"`
	Status             WaitlistStatus `json:"status"`
	PaymentMode        PaymentMode    `json:"payment_mode"`
	JoinedAt           time.Time      `json:"joined_at"`
	BookingID          *string        `json:"booking_id,omitempty"`
	PromotionExpiresAt *time.Time     `json:"promotion_expires_at,omitempty"`
}
