package service

import (
	"context"
	"log"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Notifier delivers notification intents to members.  Implementations must
// be safe for concurrent use.  The engine calls Notify only after it has
// released every lock and committed every write.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n model.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n model.Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to the standard logger.  It is the
// fallback when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) error {
	log.Printf("notify: kind=%s user=%s instance=%s booking=%s", n.Kind, n.UserID, n.InstanceID, n.BookingID)
	return nil
}

// outbox collects notifications produced inside a unit of work.
type outbox []model.Notification

func (o *outbox) add(n model.Notification) { *o = append(*o, n) }
