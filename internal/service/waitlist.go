package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// WaitlistManager owns queue positions.  Waiting entries of one instance
// always carry positions 1..N; promoted entries leave the queue and stay
// behind as promotion records until confirmed, expired or cancelled.
type WaitlistManager struct {
	e *Engine
}

// Enqueue puts userID at the back of the queue of a full instance.
func (w *WaitlistManager) Enqueue(ctx context.Context, instanceID, userID string, mode model.PaymentMode) (*model.WaitlistEntry, error) {
	if userID == "" || !mode.Valid() {
		return nil, fmt.Errorf("%w: user and payment mode are required", ErrInvalidInput)
	}
	var entry *model.WaitlistEntry
	err := w.e.withInstance(ctx, instanceID, func(tx repository.Tx, _ *outbox) error {
		now := w.e.now()
		inst, err := tx.LockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if err := bookable(inst, now); err != nil {
			return err
		}
		if _, err := tx.FindConfirmedBooking(ctx, instanceID, userID); err == nil {
			return ErrDuplicateWaitlistEntry
		} else if !isNotFound(err) {
			return err
		}
		if !inst.IsFull() {
			return fmt.Errorf("%w: %d seats still free, book directly", ErrInvalidInput, inst.Remaining())
		}
		entry, err = w.enqueueTx(ctx, tx, inst, userID, mode, now)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return entry, nil
}

// enqueueTx appends an entry at currentMax+1.  Positions are dense, so
// the current maximum is the queue length.
func (w *WaitlistManager) enqueueTx(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, userID string, mode model.PaymentMode, now time.Time) (*model.WaitlistEntry, error) {
	if _, err := tx.FindWaitlistEntry(ctx, inst.ID, userID); err == nil {
		return nil, ErrDuplicateWaitlistEntry
	} else if !isNotFound(err) {
		return nil, err
	}
	queue, err := tx.ListWaitlist(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	entry := &model.WaitlistEntry{
		ID:          w.e.opts.NewID(),
		InstanceID:  inst.ID,
		UserID:      userID,
		Position:    len(queue) + 1,
		Status:      model.WaitlistWaiting,
		PaymentMode: mode,
		JoinedAt:    now,
	}
	if err := tx.InsertWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns the waiting entries of an instance ordered by position.
func (w *WaitlistManager) List(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	if _, err := w.e.store.GetInstance(ctx, instanceID); err != nil {
		return nil, storeErr(err)
	}
	q, err := w.e.store.ListWaitlist(ctx, instanceID)
	return q, storeErr(err)
}

// Promotions returns the pending promotion records of an instance.
func (w *WaitlistManager) Promotions(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	p, err := w.e.store.ListPromotions(ctx, instanceID)
	return p, storeErr(err)
}

// Get returns an entry visible to actor.
func (w *WaitlistManager) Get(ctx context.Context, entryID string, actor Actor) (*model.WaitlistEntry, error) {
	entry, err := w.e.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !actor.Operator && entry.UserID != actor.UserID {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Leave removes a waiting entry and closes the gap behind it.  Leaving a
// pending promotion declines it: the promoted booking is cancelled and
// the seat goes to the next member in line.
func (w *WaitlistManager) Leave(ctx context.Context, entryID string, actor Actor) error {
	entry, err := w.e.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return storeErr(err)
	}
	err = w.e.withInstance(ctx, entry.InstanceID, func(tx repository.Tx, out *outbox) error {
		inst, err := tx.LockInstance(ctx, entry.InstanceID)
		if err != nil {
			return err
		}
		entry, err := tx.GetWaitlistEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !actor.Operator && actor.UserID != entry.UserID {
			return ErrForbidden
		}
		if entry.Status == model.WaitlistWaiting {
			return w.dropTx(ctx, tx, entry)
		}
		b, err := tx.GetBooking(ctx, *entry.BookingID)
		if err != nil {
			return err
		}
		if b.State != model.BookingConfirmed {
			return tx.DeleteWaitlistEntry(ctx, entry.ID)
		}
		if inst.Status != model.InstanceScheduled {
			return ErrInstanceNotBookable
		}
		return w.e.Bookings.releaseSeatTx(ctx, tx, inst, b, ReasonPromotionDeclined, w.e.now(), out)
	})
	return storeErr(err)
}

// dropTx deletes an entry and, for a waiting one, shifts everyone behind
// it up by one.
func (w *WaitlistManager) dropTx(ctx context.Context, tx repository.Tx, entry *model.WaitlistEntry) error {
	if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
		return err
	}
	if entry.Status != model.WaitlistWaiting {
		return nil
	}
	return tx.CloseWaitlistGap(ctx, entry.InstanceID, entry.Position)
}

// promoteIfPending fills free seats of a locked instance from the head of
// its queue.  It iterates rather than recursing: a head whose booking
// fails (no credit left, already booked) is dropped and logged and the
// next one is tried, while each success consumes one free seat.  It
// returns the last member promoted, or nil.
func (w *WaitlistManager) promoteIfPending(ctx context.Context, tx repository.Tx, inst *model.ScheduledInstance, now time.Time, out *outbox) (*model.WaitlistEntry, error) {
	if bookable(inst, now) != nil {
		return nil, nil
	}
	var promoted *model.WaitlistEntry
	for !inst.IsFull() {
		queue, err := tx.ListWaitlist(ctx, inst.ID)
		if err != nil {
			return promoted, err
		}
		if len(queue) == 0 {
			break
		}
		head := queue[0]
		b, err := w.e.Bookings.promoteTx(ctx, tx, inst, &head, now)
		if err != nil {
			if !errors.Is(err, ErrInsufficientCredit) && !errors.Is(err, ErrDuplicateBooking) {
				return promoted, err
			}
			log.Printf("waitlist: dropping entry %s of user %s on instance %s: %v", head.ID, head.UserID, inst.ID, err)
			if err := w.dropTx(ctx, tx, &head); err != nil {
				return promoted, err
			}
			continue
		}
		if err := w.retireTx(ctx, tx, &head, b, now); err != nil {
			return promoted, err
		}
		startsAt := inst.StartsAt
		out.add(model.Notification{
			UserID:             head.UserID,
			Kind:               model.NotifyPromoted,
			InstanceID:         inst.ID,
			BookingID:          b.ID,
			WaitlistEntryID:    head.ID,
			StartsAt:           &startsAt,
			PromotionExpiresAt: head.PromotionExpiresAt,
			OccurredAt:         now,
		})
		log.Printf("waitlist: promoted user %s into booking %s on instance %s", head.UserID, b.ID, inst.ID)
		promoted = &head
	}
	return promoted, nil
}

// retireTx takes a promoted head out of the queue.  In confirm mode it is
// kept as a promotion record with a deadline; in auto mode it is deleted.
func (w *WaitlistManager) retireTx(ctx context.Context, tx repository.Tx, head *model.WaitlistEntry, b *model.Booking, now time.Time) error {
	position := head.Position
	if w.e.opts.PromotionMode == PromotionAuto {
		if err := tx.DeleteWaitlistEntry(ctx, head.ID); err != nil {
			return err
		}
	} else {
		expires := now.Add(w.e.opts.PromotionWindow)
		bookingID := b.ID
		head.Status = model.WaitlistPromoted
		head.Position = 0
		head.BookingID = &bookingID
		head.PromotionExpiresAt = &expires
		if err := tx.UpdateWaitlistEntry(ctx, head); err != nil {
			return err
		}
	}
	return tx.CloseWaitlistGap(ctx, head.InstanceID, position)
}

// ConfirmPromotion accepts a promoted seat before its window closes.  The
// promotion record is retired and the booking becomes final.
func (w *WaitlistManager) ConfirmPromotion(ctx context.Context, entryID string, actor Actor) (*model.Booking, error) {
	entry, err := w.e.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return nil, storeErr(err)
	}
	var b *model.Booking
	err = w.e.withInstance(ctx, entry.InstanceID, func(tx repository.Tx, _ *outbox) error {
		if _, err := tx.LockInstance(ctx, entry.InstanceID); err != nil {
			return err
		}
		entry, err := tx.GetWaitlistEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !actor.Operator && actor.UserID != entry.UserID {
			return ErrForbidden
		}
		if entry.Status != model.WaitlistPromoted || entry.BookingID == nil {
			return fmt.Errorf("%w: entry has not been promoted", ErrInvalidInput)
		}
		if entry.PromotionExpiresAt != nil && !w.e.now().Before(*entry.PromotionExpiresAt) {
			return ErrBookingNotActive
		}
		b, err = tx.GetBooking(ctx, *entry.BookingID)
		if err != nil {
			return err
		}
		if b.State != model.BookingConfirmed {
			return ErrBookingNotActive
		}
		return tx.DeleteWaitlistEntry(ctx, entry.ID)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return b, nil
}

// ExpirePromotion cancels a promoted booking whose confirmation window
// closed at or before now, exactly as a cancellation would, which in turn
// promotes the next member.  It reports whether a booking was cancelled
// and is a no-op for unknown, confirmed or not yet due entries.
func (w *WaitlistManager) ExpirePromotion(ctx context.Context, entryID string, now time.Time) (bool, error) {
	entry, err := w.e.store.GetWaitlistEntry(ctx, entryID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	expired := false
	err = w.e.withInstance(ctx, entry.InstanceID, func(tx repository.Tx, out *outbox) error {
		inst, err := tx.LockInstance(ctx, entry.InstanceID)
		if err != nil {
			return err
		}
		entry, err := tx.GetWaitlistEntry(ctx, entryID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Status != model.WaitlistPromoted || entry.PromotionExpiresAt == nil || now.Before(*entry.PromotionExpiresAt) {
			return nil
		}
		if entry.BookingID == nil {
			return tx.DeleteWaitlistEntry(ctx, entry.ID)
		}
		b, err := tx.GetBooking(ctx, *entry.BookingID)
		if isNotFound(err) {
			return tx.DeleteWaitlistEntry(ctx, entry.ID)
		}
		if err != nil {
			return err
		}
		// Once the class is under way the seat stays with the member.
		if b.State != model.BookingConfirmed || inst.Status != model.InstanceScheduled {
			return tx.DeleteWaitlistEntry(ctx, entry.ID)
		}
		expired = true
		return w.e.Bookings.releaseSeatTx(ctx, tx, inst, b, ReasonPromotionExpired, now, out)
	})
	if err != nil {
		return false, storeErr(err)
	}
	return expired, nil
}

// ExpireDuePromotions runs ExpirePromotion for every record due at now.
// A failing record is logged and skipped.
func (w *WaitlistManager) ExpireDuePromotions(ctx context.Context, now time.Time) (int, error) {
	due, err := w.e.store.ListDuePromotions(ctx, now)
	if err != nil {
		return 0, storeErr(err)
	}
	n := 0
	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := w.ExpirePromotion(ctx, entry.ID, now)
		if err != nil {
			log.Printf("waitlist: expire promotion %s failed: %v", entry.ID, err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}
