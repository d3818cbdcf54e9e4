// Package service implements the studio booking engine: the class catalog,
// the credit ledger, the per-instance waitlist and the booking ledger that
// ties them together.  Every operation that touches an instance's seat
// count or waitlist runs under a per-instance lock inside one store
// transaction; notifications are sent after both are released.
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// PromotionMode selects what happens to a waitlist entry that was promoted
// into a booking.
type PromotionMode string

const (
	// PromotionConfirm keeps the promoted booking pending until the member
	// confirms it within the promotion window.
	PromotionConfirm PromotionMode = "confirm"
	// PromotionAuto makes the promoted booking final straight away.
	PromotionAuto PromotionMode = "auto"
)

// ParsePromotionMode accepts "confirm" or "auto" (case-insensitive).
func ParsePromotionMode(s string) (PromotionMode, error) {
	switch m := PromotionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PromotionConfirm, PromotionAuto:
		return m, nil
	case "":
		return PromotionConfirm, nil
	}
	return "", fmt.Errorf("%w: unknown promotion mode %q", ErrInvalidInput, s)
}

// Options tunes the engine.  Zero values fall back to the defaults.
type Options struct {
	PromotionMode       PromotionMode
	PromotionWindow     time.Duration
	ReserveMaxAttempts  int
	ReserveRetryBackoff time.Duration
	// Clock and NewID are replaced in tests.
	Clock func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.PromotionMode == "" {
		o.PromotionMode = PromotionConfirm
	}
	if o.PromotionWindow <= 0 {
		o.PromotionWindow = 24 * time.Hour
	}
	if o.ReserveMaxAttempts < 1 {
		o.ReserveMaxAttempts = 3
	}
	if o.ReserveRetryBackoff < 0 {
		o.ReserveRetryBackoff = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Actor is the caller of an operation.  Operator is the studio staff
// capability checked at the HTTP boundary.
type Actor struct {
	UserID   string
	Operator bool
}

// Engine wires the four components over one store.
type Engine struct {
	Catalog  *ClassCatalog
	Credits  *CreditLedger
	Waitlist *WaitlistManager
	Bookings *BookingLedger

	store    repository.Store
	notifier Notifier
	locks    *keyedMutex
	opts     Options
}

// NewEngine builds an engine.  A nil notifier logs notifications.
func NewEngine(store repository.Store, notifier Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		locks:    newKeyedMutex(),
		opts:     opts.withDefaults(),
	}
	e.Catalog = &ClassCatalog{e: e}
	e.Credits = &CreditLedger{e: e}
	e.Waitlist = &WaitlistManager{e: e}
	e.Bookings = &BookingLedger{e: e}
	return e
}

// Options returns the effective engine options.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) now() time.Time { return e.opts.Clock().UTC() }

// withInstance serializes fn against every other operation on instanceID,
// runs it in one transaction and, once the lock is released, dispatches
// whatever fn queued in the outbox.  fn must take tx.LockInstance before
// any other read.
func (e *Engine) withInstance(ctx context.Context, instanceID string, fn func(tx repository.Tx, out *outbox) error) error {
	var out outbox
	unlock := e.locks.Lock(instanceID)
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		out = out[:0]
		return fn(tx, &out)
	})
	unlock()
	if err != nil {
		return err
	}
	e.dispatch(ctx, out)
	return nil
}

// dispatch sends notifications.  Failures are logged; the operation that
// produced them has already committed.
func (e *Engine) dispatch(ctx context.Context, notes []model.Notification) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range notes {
		if err := e.notifier.Notify(ctx, n); err != nil {
			log.Printf("notify: kind=%s user=%s instance=%s failed: %v", n.Kind, n.UserID, n.InstanceID, err)
		}
	}
}
