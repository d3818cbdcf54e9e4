package model

import "time"

// NotificationKind names the event a member is informed about.
type NotificationKind string

const (
	NotifyPromoted          NotificationKind = "promoted"
	NotifyCancelled         NotificationKind = "cancelled"
	NotifySeatFreed         NotificationKind = "seat_freed"
	NotifyInstanceCancelled NotificationKind = "instance_cancelled"
	NotifyReminderDue       NotificationKind = "reminder_due"
)

// Notification is an intent emitted by the booking engine.  Delivery
// (email, push, queue) is the job of the notifier implementation.
type Notification struct {
	UserID             string           `json:"user_id"`
	Kind               NotificationKind `json:"kind"`
	InstanceID         string           `json:"instance_id"`
	BookingID          string           `json:"booking_id,omitempty"`
	WaitlistEntryID    string           `json:"waitlist_entry_id,omitempty"`
	StartsAt           *time.Time       `json:"starts_at,omitempty"`
	PromotionExpiresAt *time.Time       `json:"promotion_expires_at,omitempty"`
	Reason             string           `json:"reason,omitempty"`
	PromotedUserID     string           `json:"promoted_user_id,omitempty"`
	CreditRefunded     bool             `json:"credit_refunded,omitempty"`
	OccurredAt         time.Time        `json:"occurred_at"`
}
