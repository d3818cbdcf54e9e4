package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// ReservationKind tells a caller whether a request ended in a seat or in
// the waitlist.
type ReservationKind string

const (
	ReservationBooked     ReservationKind = "booked"
	ReservationWaitlisted ReservationKind = "waitlisted"
)

// Reservation is the result of ReserveSeat.  Exactly one of Booking and
// Entry is set, matching Kind.
type Reservation struct {
	Kind    ReservationKind      `json:"kind"`
	Booking *model.Booking       `json:"booking,omitempty"`
	Entry   *model.WaitlistEntry `json:"waitlist_entry,omitempty"`
}

// Reasons attached to cancellation notifications.
const (
	ReasonCancelledByOperator = "cancelled_by_operator"
	ReasonPromotionExpired    = "promotion_expired"
	ReasonPromotionDeclined   = "promotion_declined"
	ReasonInstanceCancelled   = "instance_cancelled"
)

// BookingLedger is the only writer of an instance's occupied seat count
// and of booking state.
type BookingLedger struct {
	e *Engine
}

// bookable rejects instances that are not scheduled or already started.
func bookable(inst *model.ScheduledInstance, now time.Time) error {
	if inst.Status != model.InstanceScheduled || !now.Before(inst.StartsAt) {
		return ErrInstanceNotBookable
	}
	return nil
}

// ReserveSeat books a seat on instanceID for userID, or puts the user on
// the waitlist when the instance is full.  It makes a single attempt; a
// lost race surfaces as ErrConcurrentCapacityExceeded.
func (l *BookingLedger) ReserveSeat(ctx context.Context, instanceID, userID string, mode model.PaymentMode) (*Reservation, error) {
	if userID == "" || !mode.Valid() {
		return nil, fmt.Errorf("%w: user and payment mode are required", ErrInvalidInput)
	}
	var res *Reservation
	err := l.e.withInstance(ctx, instanceID, func(tx repository.Tx, _ *outbox) error {
		now := l.e.now()
		inst, err := tx.LockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if err := bookable(inst, now); err != nil {
			return err
		}
		if _, err := tx.FindConfirmedBooking(ctx, instanceID, userID); err == nil {
			return ErrDuplicateBooking
		} else if !isNotFound(err) {
			return err
		}

		if inst.IsFull() {
			entry, err := l.e.Waitlist.enqueueTx(ctx, tx, inst, userID, mode, now)
			if err != nil {
				return err
			}
			res = &Reservation{Kind: ReservationWaitlisted, Entry: entry}
			return nil
		}

		b, err := l.bookTx(ctx, tx, inst, userID, mode, now)
		if err != nil {
			return err
		}
		// A seat beats a queue place: drop the user's waiting entry if any.
		if entry, err := tx.FindWaitlistEntry(ctx, instanceID, userID); err == nil {
			if entry.Status == model.WaitlistWaiting {
				if err := l.e.Waitlist.dropTx(ctx, tx, entry); err != nil {
					return err
				}
			}
		} else if !isNotFound(err) {
			return err
		}
		res = &Reservation{Kind: ReservationBooked, Booking: b}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return res, nil
}

// ReserveWithRetry calls ReserveSeat until it stops failing with
// ErrConcurrentCapacityExceeded or the configured attempts run out.  The
// wait between attempts grows linearly.
func (l *BookingLedger) ReserveWithRetry(ctx context.Context, instanceID, userID string, mode model.PaymentMode) (*Reservation, error) {
	attempts := l.e.opts.ReserveMaxAttempts
	for attempt := 1; ; attempt++ {
		res, err := l.ReserveSeat(ctx, instanceID, userID, mode)
		if !errors.Is(err, ErrConcurrentCapacityExceeded) || attempt >= attempts {
			return res, err
		}
		wait := l.e.opts.ReserveRetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// bookTx creates a confirmed booking on a locked instance with a free seat.
// The credit check runs first so a member without credit leaves no write
// behind in tx.
func (l *BookingLedger) bookTx(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, userID string, mode model.PaymentMode, now time.Time) (*model.Booking, error) {
	b := &model.Booking{
		ID:          l.e.opts.NewID(),
		InstanceID:  inst.ID,
		UserID:      userID,
		State:       model.BookingConfirmed,
		PaymentMode: mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mode == model.PaymentCredit {
		pkg, err := l.e.Credits.consume(ctx, tx, userID, "", now)
		if err != nil {
			return nil, err
		}
		b.PackageID = &pkg
	}
	if err := l.adjustSeats(ctx, tx, inst, +1, now); err != nil {
		return nil, err
	}
	if err := tx.InsertBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// promoteTx books a seat for a waitlist entry, bypassing the queue check.
func (l *BookingLedger) promoteTx(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, entry *model.WaitlistEntry, now time.Time) (*model.Booking, error) {
	if _, err := tx.FindConfirmedBooking(ctx, inst.ID, entry.UserID); err == nil {
		return nil, ErrDuplicateBooking
	} else if !isNotFound(err) {
		return nil, err
	}
	mode := entry.PaymentMode
	if !mode.Valid() {
		mode = model.PaymentDirect
	}
	return l.bookTx(ctx, tx, inst, entry.UserID, mode, now)
}

// adjustSeats is the single place occupiedSeats changes.  The store only
// applies the delta when the version read under the lock is still current.
func (l *BookingLedger) adjustSeats(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, delta int, now time.Time) error {
	version, err := tx.AdjustOccupiedSeats(ctx, inst.ID, delta, inst.Version, now)
	if err != nil {
		return err
	}
	inst.Version = version
	inst.OccupiedSeats += delta
	inst.UpdatedAt = now
	return nil
}

// Cancel cancels a confirmed booking on behalf of its owner or an
// operator, refunds its credit and promotes the head of the waitlist into
// the freed seat.
func (l *BookingLedger) Cancel(ctx context.Context, bookingID string, actor Actor) error {
	b, err := l.e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return storeErr(err)
	}
	err = l.e.withInstance(ctx, b.InstanceID, func(tx repository.Tx, out *outbox) error {
		// Lock first so every read below sees the state the lock protects.
		inst, err := tx.LockInstance(ctx, b.InstanceID)
		if err != nil {
			return err
		}
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.Operator && actor.UserID != cur.UserID {
			return ErrForbidden
		}
		if cur.State != model.BookingConfirmed {
			return ErrBookingNotActive
		}
		if inst.Status != model.InstanceScheduled {
			return ErrInstanceNotBookable
		}
		reason := ""
		if actor.UserID != cur.UserID {
			reason = ReasonCancelledByOperator
		}
		return l.releaseSeatTx(ctx, tx, inst, cur, reason, l.e.now(), out)
	})
	return storeErr(err)
}

// releaseSeatTx cancels b, promotes the next waiting member and queues the
// notifications.  The owner is told about the freed seat; with a reason
// set they also get a cancellation notice since they did not act.
func (l *BookingLedger) releaseSeatTx(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, b *model.Booking, reason string, now time.Time, out *outbox) error {
	refunded, err := l.cancelTx(ctx, tx, inst, b, now)
	if err != nil {
		return err
	}
	promoted, err := l.e.Waitlist.promoteIfPending(ctx, tx, inst, now, out)
	if err != nil {
		return err
	}
	startsAt := inst.StartsAt
	freed := model.Notification{
		UserID:         b.UserID,
		Kind:           model.NotifySeatFreed,
		InstanceID:     inst.ID,
		BookingID:      b.ID,
		StartsAt:       &startsAt,
		CreditRefunded: refunded,
		OccurredAt:     now,
	}
	if promoted != nil {
		freed.PromotedUserID = promoted.UserID
	}
	out.add(freed)
	if reason != "" {
		out.add(model.Notification{
			UserID:         b.UserID,
			Kind:           model.NotifyCancelled,
			InstanceID:     inst.ID,
			BookingID:      b.ID,
			StartsAt:       &startsAt,
			Reason:         reason,
			CreditRefunded: refunded,
			OccurredAt:     now,
		})
	}
	return nil
}

// cancelTx moves b to cancelled, frees its seat, refunds its credit and
// retires any promotion record tied to it.
func (l *BookingLedger) cancelTx(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, b *model.Booking, now time.Time) (refunded bool, err error) {
	b.State = model.BookingCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return false, err
	}
	if err := l.adjustSeats(ctx, tx, inst, -1, now); err != nil {
		return false, err
	}
	if b.PaymentMode == model.PaymentCredit && b.PackageID != nil {
		if err := l.e.Credits.refund(ctx, tx, b.UserID, *b.PackageID); err != nil {
			return false, err
		}
		refunded = true
	}
	rec, err := tx.FindPromotionByBooking(ctx, b.ID)
	switch {
	case err == nil:
		if err := tx.DeleteWaitlistEntry(ctx, rec.ID); err != nil {
			return false, err
		}
	case !isNotFound(err):
		return false, err
	}
	return refunded, nil
}

// MarkOutcome records attended or no_show once the class has ended.
// Repeating the same outcome is a no-op.
func (l *BookingLedger) MarkOutcome(ctx context.Context, bookingID string, outcome model.BookingState) (*model.Booking, error) {
	if !outcome.IsOutcome() {
		return nil, fmt.Errorf("%w: outcome must be attended or no_show", ErrInvalidInput)
	}
	b, err := l.e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err)
	}
	err = l.e.withInstance(ctx, b.InstanceID, func(tx repository.Tx, _ *outbox) error {
		now := l.e.now()
		inst, err := tx.LockInstance(ctx, b.InstanceID)
		if err != nil {
			return err
		}
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if now.Before(inst.EndsAt()) {
			return ErrOutcomeTooEarly
		}
		switch {
		case cur.State == outcome:
			b = cur
			return nil
		case cur.State.IsOutcome():
			return ErrOutcomeAlreadyRecorded
		case cur.State != model.BookingConfirmed:
			return ErrBookingNotActive
		}
		cur.State = outcome
		cur.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return b, nil
}

// GetBooking returns a booking visible to actor.
func (l *BookingLedger) GetBooking(ctx context.Context, bookingID string, actor Actor) (*model.Booking, error) {
	b, err := l.e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !actor.Operator && b.UserID != actor.UserID {
		return nil, ErrNotFound
	}
	return b, nil
}

// ListUserBookings returns the user's bookings, newest first.
func (l *BookingLedger) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	bs, err := l.e.store.ListBookingsByUser(ctx, userID)
	return bs, storeErr(err)
}

// ListInstanceBookings returns every booking of an instance in creation
// order.
func (l *BookingLedger) ListInstanceBookings(ctx context.Context, instanceID string) ([]model.Booking, error) {
	if _, err := l.e.store.GetInstance(ctx, instanceID); err != nil {
		return nil, storeErr(err)
	}
	bs, err := l.e.store.ListBookingsByInstance(ctx, instanceID)
	return bs, storeErr(err)
}

// Reminders builds one reminder per confirmed booking on scheduled
// instances starting in [from, to).
func (l *BookingLedger) Reminders(ctx context.Context, from, to time.Time) ([]model.Notification, error) {
	insts, err := l.e.store.ListInstances(ctx, from, to)
	if err != nil {
		return nil, storeErr(err)
	}
	now := l.e.now()
	var notes []model.Notification
	for i := range insts {
		inst := insts[i]
		if inst.Status != model.InstanceScheduled {
			continue
		}
		bs, err := l.e.store.ListBookingsByInstance(ctx, inst.ID)
		if err != nil {
			return nil, storeErr(err)
		}
		for _, b := range bs {
			if b.State != model.BookingConfirmed {
				continue
			}
			startsAt := inst.StartsAt
			notes = append(notes, model.Notification{
				UserID:     b.UserID,
				Kind:       model.NotifyReminderDue,
				InstanceID: inst.ID,
				BookingID:  b.ID,
				StartsAt:   &startsAt,
				OccurredAt: now,
			})
		}
	}
	return notes, nil
}

// InvariantReport is the result of CheckInvariants.
type InvariantReport struct {
	InstanceID          string   `json:"instance_id"`
	Capacity            int      `json:"capacity"`
	OccupiedSeats       int      `json:"occupied_seats"`
	SeatHoldingBookings int      `json:"seat_holding_bookings"`
	WaitlistLength      int      `json:"waitlist_length"`
	PendingPromotions   int      `json:"pending_promotions"`
	Violations          []string `json:"violations"`
}

// OK reports whether no violation was found.
func (r *InvariantReport) OK() bool { return len(r.Violations) == 0 }

// CheckInvariants audits one instance under its lock: the seat count must
// be within capacity and equal the number of seat-holding bookings, each
// user may hold one confirmed booking, and waiting positions must be
// exactly 1..N.
func (l *BookingLedger) CheckInvariants(ctx context.Context, instanceID string) (*InvariantReport, error) {
	rep := &InvariantReport{InstanceID: instanceID, Violations: []string{}}
	err := l.e.withInstance(ctx, instanceID, func(tx repository.Tx, _ *outbox) error {
		inst, err := tx.LockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		rep.Capacity = inst.Capacity
		rep.OccupiedSeats = inst.OccupiedSeats
		if inst.OccupiedSeats < 0 || inst.OccupiedSeats > inst.Capacity {
			rep.Violations = append(rep.Violations, fmt.Sprintf("occupied seats %d outside [0, %d]", inst.OccupiedSeats, inst.Capacity))
		}

		bs, err := tx.ListBookingsByInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		confirmed := map[string]int{}
		for _, b := range bs {
			if b.State.HoldsSeat() {
				rep.SeatHoldingBookings++
			}
			if b.State == model.BookingConfirmed {
				confirmed[b.UserID]++
			}
		}
		if rep.SeatHoldingBookings != inst.OccupiedSeats {
			rep.Violations = append(rep.Violations, fmt.Sprintf("occupied seats %d but %d seat-holding bookings", inst.OccupiedSeats, rep.SeatHoldingBookings))
		}
		for user, n := range confirmed {
			if n > 1 {
				rep.Violations = append(rep.Violations, fmt.Sprintf("user %s holds %d confirmed bookings", user, n))
			}
		}

		queue, err := tx.ListWaitlist(ctx, instanceID)
		if err != nil {
			return err
		}
		rep.WaitlistLength = len(queue)
		for i, e := range queue {
			if e.Position != i+1 {
				rep.Violations = append(rep.Violations, fmt.Sprintf("waitlist entry %s at position %d, want %d", e.ID, e.Position, i+1))
			}
		}
		promos, err := tx.ListPromotions(ctx, instanceID)
		if err != nil {
			return err
		}
		rep.PendingPromotions = len(promos)
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return rep, nil
}
