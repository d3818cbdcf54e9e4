// Package queue carries booking engine notifications over RabbitMQ.  The
// publisher implements the engine's Notifier; the consumer appends every
// delivered notification to logs/notifications.log.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/studio-booking/internal/model"
)

// DefaultQueueName is the durable queue notifications are published to.
const DefaultQueueName = "studio.notifications"

// NotificationEvent is the message body published for every notification.
// It carries enough to render a message to the member without querying
// the booking database.
type NotificationEvent struct {
	EventID            string `json:"event_id"`
	Kind               string `json:"kind"`
	UserID             string `json:"user_id"`
	InstanceID         string `json:"instance_id"`
	BookingID          string `json:"booking_id,omitempty"`
	WaitlistEntryID    string `json:"waitlist_entry_id,omitempty"`
	StartsAt           string `json:"starts_at,omitempty"`
	PromotionExpiresAt string `json:"promotion_expires_at,omitempty"`
	Reason             string `json:"reason,omitempty"`
	PromotedUserID     string `json:"promoted_user_id,omitempty"`
	CreditRefunded     bool   `json:"credit_refunded,omitempty"`
	OccurredAt         string `json:"occurred_at"`
}

// NewNotificationEvent converts an engine notification into its wire form.
func NewNotificationEvent(n model.Notification) NotificationEvent {
	ev := NotificationEvent{
		EventID:         uuid.NewString(),
		Kind:            string(n.Kind),
		UserID:          n.UserID,
		InstanceID:      n.InstanceID,
		BookingID:       n.BookingID,
		WaitlistEntryID: n.WaitlistEntryID,
		Reason:          n.Reason,
		PromotedUserID:  n.PromotedUserID,
		CreditRefunded:  n.CreditRefunded,
		OccurredAt:      stamp(n.OccurredAt),
	}
	if n.StartsAt != nil {
		ev.StartsAt = stamp(*n.StartsAt)
	}
	if n.PromotionExpiresAt != nil {
		ev.PromotionExpiresAt = stamp(*n.PromotionExpiresAt)
	}
	return ev
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// Line renders the event as one log line.
func (ev NotificationEvent) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | event_id=%s | user_id=%s | instance_id=%s", ev.OccurredAt, ev.Kind, ev.EventID, ev.UserID, ev.InstanceID)
	for _, kv := range [][2]string{
		{"booking_id", ev.BookingID},
		{"waitlist_entry_id", ev.WaitlistEntryID},
		{"starts_at", ev.StartsAt},
		{"promotion_expires_at", ev.PromotionExpiresAt},
		{"reason", ev.Reason},
		{"promoted_user_id", ev.PromotedUserID},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " | %s=%s", kv[0], kv[1])
		}
	}
	if ev.CreditRefunded {
		b.WriteString(" | credit_refunded=true")
	}
	b.WriteByte('\n')
	return b.String()
}
