package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

func TestReserveSeatBooksUntilFullThenWaitlists(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)

	f.book(t, inst.ID, "alice")
	f.book(t, inst.ID, "bob")
	entry := f.waitlist(t, inst.ID, "carol")

	if entry.Position != 1 {
		t.Fatalf("expected position 1, got %d", entry.Position)
	}
	if got := f.occupied(t, inst.ID); got != 2 {
		t.Fatalf("expected 2 occupied seats, got %d", got)
	}
	f.assertInvariants(t, inst.ID)
}

func TestReserveSeatRejectsDuplicateBooking(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 3)
	f.book(t, inst.ID, "alice")

	_, err := f.engine.Bookings.ReserveSeat(context.Background(), inst.ID, "alice", model.PaymentDirect)
	if !errors.Is(err, ErrDuplicateBooking) {
		t.Fatalf("expected ErrDuplicateBooking, got %v", err)
	}
}

func TestReserveSeatRejectsUnbookableInstance(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 3)
	ctx := context.Background()

	if _, err := f.engine.Bookings.ReserveSeat(ctx, "missing", "alice", model.PaymentDirect); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "alice", "cash"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	f.clock.Advance(48 * time.Hour)
	if _, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "alice", model.PaymentDirect); !errors.Is(err, ErrInstanceNotBookable) {
		t.Fatalf("expected ErrInstanceNotBookable, got %v", err)
	}
}

func TestConcurrentReservationsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 5)
	ctx := context.Background()

	const users = 40
	var booked, waitlisted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Bookings.ReserveWithRetry(ctx, inst.ID, fmt.Sprintf("user-%02d", i), model.PaymentDirect)
			if err != nil {
				t.Errorf("reserve user-%02d: %v", i, err)
				return
			}
			if res.Kind == ReservationBooked {
				booked.Add(1)
			} else {
				waitlisted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if booked.Load() != 5 || waitlisted.Load() != users-5 {
		t.Fatalf("expected 5 booked and %d waitlisted, got %d and %d", users-5, booked.Load(), waitlisted.Load())
	}
	rep := f.assertInvariants(t, inst.ID)
	if rep.OccupiedSeats != 5 || rep.WaitlistLength != users-5 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	queueUsers(t, f, inst.ID)
}

func TestTwoUsersRaceForLastSeat(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, Options{})
		inst := f.instance(t, 1)
		ctx := context.Background()

		results := make([]*Reservation, 2)
		var wg sync.WaitGroup
		for i, user := range []string{"userA", "userB"} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				res, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, user, model.PaymentDirect)
				if err != nil {
					t.Errorf("reserve %s: %v", user, err)
					return
				}
				results[i] = res
			}(i, user)
		}
		wg.Wait()
		if results[0] == nil || results[1] == nil {
			t.FailNow()
		}

		var booked, waiting int
		for _, r := range results {
			switch r.Kind {
			case ReservationBooked:
				booked++
			case ReservationWaitlisted:
				waiting++
				if r.Entry.Position != 1 {
					t.Fatalf("expected waitlist position 1, got %d", r.Entry.Position)
				}
			}
		}
		if booked != 1 || waiting != 1 {
			t.Fatalf("round %d: expected one booking and one waitlist entry, got %d and %d", round, booked, waiting)
		}
		f.assertInvariants(t, inst.ID)
	}
}

func TestCreditBookingIsAllOrNothing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.instance(t, 5)
	second := f.instance(t, 5)

	if _, err := f.engine.Credits.GrantPackage(ctx, "alice", 1, 30); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, err := f.engine.Bookings.ReserveSeat(ctx, first.ID, "alice", model.PaymentCredit)
	if err != nil {
		t.Fatalf("credit booking: %v", err)
	}
	if res.Booking.PackageID == nil {
		t.Fatal("expected booking to reference the package")
	}
	if bal, _ := f.engine.Credits.Balance(ctx, "alice", f.clock.Now()); bal != 0 {
		t.Fatalf("expected balance 0, got %d", bal)
	}

	_, err = f.engine.Bookings.ReserveSeat(ctx, second.ID, "alice", model.PaymentCredit)
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if got := f.occupied(t, second.ID); got != 0 {
		t.Fatalf("expected no seat taken on failed credit booking, got %d", got)
	}
	bs, _ := f.engine.Bookings.ListInstanceBookings(ctx, second.ID)
	if len(bs) != 0 {
		t.Fatalf("expected no booking row, got %d", len(bs))
	}
}

func TestCancelOnFullClassPromotesHead(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 3)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	f.book(t, inst.ID, "b")
	f.book(t, inst.ID, "c")
	f.waitlist(t, inst.ID, "d")
	f.waitlist(t, inst.ID, "e")
	f.notifier.reset()

	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := f.occupied(t, inst.ID); got != 3 {
		t.Fatalf("expected occupied seats to stay at 3, got %d", got)
	}
	if users := queueUsers(t, f, inst.ID); len(users) != 1 || users[0] != "e" {
		t.Fatalf("expected e alone at position 1, got %v", users)
	}
	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "d"); err != nil {
		t.Fatalf("expected d to hold a confirmed booking: %v", err)
	}

	promoted := f.notifier.byKind(model.NotifyPromoted)
	if len(promoted) != 1 || promoted[0].UserID != "d" || promoted[0].PromotionExpiresAt == nil {
		t.Fatalf("unexpected promoted notifications: %+v", promoted)
	}
	freed := f.notifier.byKind(model.NotifySeatFreed)
	if len(freed) != 1 || freed[0].UserID != "a" || freed[0].PromotedUserID != "d" {
		t.Fatalf("unexpected seat_freed notifications: %+v", freed)
	}
	if got := f.notifier.byKind(model.NotifyCancelled); len(got) != 0 {
		t.Fatalf("self cancellation should not send a cancelled notice, got %d", len(got))
	}
	f.assertInvariants(t, inst.ID)
}

func TestCancelWithEmptyWaitlistFreesSeat(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	b := f.book(t, inst.ID, "alice")

	if err := f.engine.Bookings.Cancel(context.Background(), b.ID, Actor{UserID: "alice"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.occupied(t, inst.ID); got != 0 {
		t.Fatalf("expected 0 occupied seats, got %d", got)
	}
	err := f.engine.Bookings.Cancel(context.Background(), b.ID, Actor{UserID: "alice"})
	if !errors.Is(err, ErrBookingNotActive) {
		t.Fatalf("expected ErrBookingNotActive on second cancel, got %v", err)
	}
}

func TestCancelRefundsCredit(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	ctx := context.Background()
	if _, err := f.engine.Credits.GrantPackage(ctx, "alice", 2, 30); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "alice", model.PaymentCredit)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.engine.Bookings.Cancel(ctx, res.Booking.ID, Actor{UserID: "ops", Operator: true}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if bal, _ := f.engine.Credits.Balance(ctx, "alice", f.clock.Now()); bal != 2 {
		t.Fatalf("expected credit refunded to 2, got %d", bal)
	}
	cancelled := f.notifier.byKind(model.NotifyCancelled)
	if len(cancelled) != 1 || cancelled[0].Reason != ReasonCancelledByOperator || !cancelled[0].CreditRefunded {
		t.Fatalf("unexpected cancelled notifications: %+v", cancelled)
	}
}

func TestCancelByAnotherMemberIsForbidden(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	b := f.book(t, inst.ID, "alice")

	err := f.engine.Bookings.Cancel(context.Background(), b.ID, Actor{UserID: "mallory"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := f.occupied(t, inst.ID); got != 1 {
		t.Fatalf("seat must stay taken, got %d", got)
	}
}

func TestPromotionSkipsMemberWhoseCreditExpired(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	if _, err := f.engine.Credits.GrantPackage(ctx, "b", 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "b", model.PaymentCredit)
	if err != nil || res.Kind != ReservationWaitlisted {
		t.Fatalf("expected b on the waitlist, got %+v, %v", res, err)
	}
	f.waitlist(t, inst.ID, "c")

	// b's package lapses before a seat frees up.
	f.clock.Advance(25 * time.Hour)
	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "c"); err != nil {
		t.Fatalf("expected c promoted: %v", err)
	}
	if _, err := f.store.FindWaitlistEntry(ctx, inst.ID, "b"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected b dropped from the waitlist, got %v", err)
	}
	if users := queueUsers(t, f, inst.ID); len(users) != 0 {
		t.Fatalf("expected empty queue, got %v", users)
	}
	f.assertInvariants(t, inst.ID)
}

func TestMarkOutcome(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	b := f.book(t, inst.ID, "alice")
	ctx := context.Background()

	if _, err := f.engine.Bookings.MarkOutcome(ctx, b.ID, model.BookingAttended); !errors.Is(err, ErrOutcomeTooEarly) {
		t.Fatalf("expected ErrOutcomeTooEarly, got %v", err)
	}
	f.clock.Advance(50 * time.Hour)

	got, err := f.engine.Bookings.MarkOutcome(ctx, b.ID, model.BookingAttended)
	if err != nil || got.State != model.BookingAttended {
		t.Fatalf("mark attended: %+v, %v", got, err)
	}
	if _, err := f.engine.Bookings.MarkOutcome(ctx, b.ID, model.BookingAttended); err != nil {
		t.Fatalf("repeating the same outcome should be a no-op, got %v", err)
	}
	if _, err := f.engine.Bookings.MarkOutcome(ctx, b.ID, model.BookingNoShow); !errors.Is(err, ErrOutcomeAlreadyRecorded) {
		t.Fatalf("expected ErrOutcomeAlreadyRecorded, got %v", err)
	}
	if _, err := f.engine.Bookings.MarkOutcome(ctx, b.ID, model.BookingCancelled); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// An attended booking still holds its seat.
	if got := f.occupied(t, inst.ID); got != 1 {
		t.Fatalf("expected 1 occupied seat after the outcome, got %d", got)
	}
	rep := f.assertInvariants(t, inst.ID)
	if rep.SeatHoldingBookings != 1 {
		t.Fatalf("expected 1 seat-holding booking, got %d", rep.SeatHoldingBookings)
	}
}

// conflictStore makes the first n seat updates lose their compare-and-swap.
type conflictStore struct {
	*repository.MemoryStore
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx repository.Tx) error {
		return fn(&conflictTx{Tx: tx, s: s})
	})
}

type conflictTx struct {
	repository.Tx
	s *conflictStore
}

func (t *conflictTx) AdjustOccupiedSeats(ctx context.Context, id string, delta int, version int64, now time.Time) (int64, error) {
	t.s.attempts.Add(1)
	if t.s.remaining.Add(-1) >= 0 {
		return 0, repository.ErrConflict
	}
	return t.Tx.AdjustOccupiedSeats(ctx, id, delta, version, now)
}

func newConflictFixture(t *testing.T, conflicts int32, attempts int) (*Engine, *conflictStore, string) {
	t.Helper()
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	cs := &conflictStore{MemoryStore: f.store}
	cs.remaining.Store(conflicts)
	e := NewEngine(cs, f.notifier, Options{Clock: f.clock.Now, ReserveMaxAttempts: attempts})
	return e, cs, inst.ID
}

func TestReserveWithRetryRecoversFromLostRace(t *testing.T) {
	e, cs, instanceID := newConflictFixture(t, 2, 3)

	res, err := e.Bookings.ReserveWithRetry(context.Background(), instanceID, "alice", model.PaymentDirect)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Kind != ReservationBooked {
		t.Fatalf("expected booking, got %s", res.Kind)
	}
	if got := cs.attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestReserveWithRetryGivesUp(t *testing.T) {
	e, cs, instanceID := newConflictFixture(t, 10, 3)

	_, err := e.Bookings.ReserveWithRetry(context.Background(), instanceID, "alice", model.PaymentDirect)
	if !errors.Is(err, ErrConcurrentCapacityExceeded) {
		t.Fatalf("expected ErrConcurrentCapacityExceeded, got %v", err)
	}
	if got := cs.attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if inst, _ := cs.GetInstance(context.Background(), instanceID); inst.OccupiedSeats != 0 {
		t.Fatalf("lost races must not take seats, got %d", inst.OccupiedSeats)
	}
	if bs, _ := cs.ListBookingsByInstance(context.Background(), instanceID); len(bs) != 0 {
		t.Fatalf("lost races must not leave bookings, got %d", len(bs))
	}
}

func TestRemindersListConfirmedBookings(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 3)
	f.book(t, inst.ID, "alice")
	b := f.book(t, inst.ID, "bob")
	if err := f.engine.Bookings.Cancel(context.Background(), b.ID, Actor{UserID: "bob"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	notes, err := f.engine.Bookings.Reminders(context.Background(), inst.StartsAt.Add(-time.Minute), inst.StartsAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	if len(notes) != 1 || notes[0].UserID != "alice" || notes[0].Kind != model.NotifyReminderDue {
		t.Fatalf("unexpected reminders: %+v", notes)
	}
}
