package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

func TestEnqueueRejectsDuplicatesAndFreeSeats(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	ctx := context.Background()

	if _, err := f.engine.Waitlist.Enqueue(ctx, inst.ID, "alice", model.PaymentDirect); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput while seats are free, got %v", err)
	}
	f.book(t, inst.ID, "alice")
	if _, err := f.engine.Waitlist.Enqueue(ctx, inst.ID, "alice", model.PaymentDirect); !errors.Is(err, ErrDuplicateWaitlistEntry) {
		t.Fatalf("expected ErrDuplicateWaitlistEntry for a booked member, got %v", err)
	}
	if _, err := f.engine.Waitlist.Enqueue(ctx, inst.ID, "bob", model.PaymentDirect); err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}
	if _, err := f.engine.Waitlist.Enqueue(ctx, inst.ID, "bob", model.PaymentDirect); !errors.Is(err, ErrDuplicateWaitlistEntry) {
		t.Fatalf("expected ErrDuplicateWaitlistEntry, got %v", err)
	}
	_, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "bob", model.PaymentDirect)
	if !errors.Is(err, ErrDuplicateWaitlistEntry) {
		t.Fatalf("expected ErrDuplicateWaitlistEntry from reserve, got %v", err)
	}
}

func TestWaitlistPositionsStayDense(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	ctx := context.Background()
	f.book(t, inst.ID, "holder")

	rng := rand.New(rand.NewSource(7))
	entries := map[string]*model.WaitlistEntry{}
	for step := 0; step < 200; step++ {
		if len(entries) == 0 || rng.Intn(3) > 0 {
			user := fmt.Sprintf("user-%03d", step)
			entries[user] = f.waitlist(t, inst.ID, user)
		} else {
			for user, e := range entries {
				if err := f.engine.Waitlist.Leave(ctx, e.ID, Actor{UserID: user}); err != nil {
					t.Fatalf("leave %s: %v", user, err)
				}
				delete(entries, user)
				break
			}
		}
		if users := queueUsers(t, f, inst.ID); len(users) != len(entries) {
			t.Fatalf("step %d: queue has %d entries, want %d", step, len(users), len(entries))
		}
	}
	f.assertInvariants(t, inst.ID)
}

func TestConcurrentEnqueueKeepsFIFOPositions(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	f.book(t, inst.ID, "holder")

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.engine.Waitlist.Enqueue(context.Background(), inst.ID, fmt.Sprintf("u%02d", i), model.PaymentDirect); err != nil {
				t.Errorf("enqueue: %v", err)
			}
		}(i)
	}
	wg.Wait()

	q, err := f.engine.Waitlist.List(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(q) != 30 {
		t.Fatalf("expected 30 entries, got %d", len(q))
	}
	for i := 1; i < len(q); i++ {
		if q[i].Position != i+1 || q[i].JoinedAt.Before(q[i-1].JoinedAt) {
			t.Fatalf("queue not FIFO at %d: %+v", i, q[i])
		}
	}
}

func TestUnconfirmedPromotionExpiresAndPromotesNext(t *testing.T) {
	f := newFixture(t, Options{PromotionWindow: 2 * time.Hour})
	inst := f.instance(t, 1)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	f.waitlist(t, inst.ID, "b")
	f.waitlist(t, inst.ID, "c")
	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	promos, _ := f.engine.Waitlist.Promotions(ctx, inst.ID)
	if len(promos) != 1 || promos[0].UserID != "b" {
		t.Fatalf("expected a pending promotion for b, got %+v", promos)
	}

	// Not due yet.
	if n, err := f.engine.Waitlist.ExpireDuePromotions(ctx, f.clock.Now().Add(time.Hour)); err != nil || n != 0 {
		t.Fatalf("expected nothing due, got %d, %v", n, err)
	}

	f.clock.Advance(3 * time.Hour)
	f.notifier.reset()
	n, err := f.engine.Waitlist.ExpireDuePromotions(ctx, f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d, %v", n, err)
	}

	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "b"); err == nil {
		t.Fatal("b's promoted booking should be cancelled")
	}
	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "c"); err != nil {
		t.Fatalf("expected c promoted: %v", err)
	}
	cancelled := f.notifier.byKind(model.NotifyCancelled)
	if len(cancelled) != 1 || cancelled[0].UserID != "b" || cancelled[0].Reason != ReasonPromotionExpired {
		t.Fatalf("unexpected cancelled notifications: %+v", cancelled)
	}
	if promoted := f.notifier.byKind(model.NotifyPromoted); len(promoted) != 1 || promoted[0].UserID != "c" {
		t.Fatalf("unexpected promoted notifications: %+v", promoted)
	}

	// Running the sweep again at the same instant changes nothing.
	if n, err := f.engine.Waitlist.ExpireDuePromotions(ctx, f.clock.Now()); err != nil || n != 0 {
		t.Fatalf("second sweep: %d, %v", n, err)
	}
	if got := f.occupied(t, inst.ID); got != 1 {
		t.Fatalf("expected 1 occupied seat, got %d", got)
	}
	f.assertInvariants(t, inst.ID)
}

func TestConfirmPromotionRetiresRecord(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	entry := f.waitlist(t, inst.ID, "b")
	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.engine.Waitlist.ConfirmPromotion(ctx, entry.ID, Actor{UserID: "a"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	b, err := f.engine.Waitlist.ConfirmPromotion(ctx, entry.ID, Actor{UserID: "b"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if b.UserID != "b" || b.State != model.BookingConfirmed {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if _, err := f.engine.Waitlist.Get(ctx, entry.ID, Actor{UserID: "b"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record retired, got %v", err)
	}

	expired, err := f.engine.Waitlist.ExpirePromotion(ctx, entry.ID, f.clock.Now().Add(48*time.Hour))
	if err != nil || expired {
		t.Fatalf("expiring a confirmed promotion must be a no-op, got %v, %v", expired, err)
	}
	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "b"); err != nil {
		t.Fatalf("b keeps the seat: %v", err)
	}
}

func TestAutoPromotionKeepsNoRecord(t *testing.T) {
	f := newFixture(t, Options{PromotionMode: PromotionAuto})
	inst := f.instance(t, 1)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	f.waitlist(t, inst.ID, "b")
	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	promos, _ := f.engine.Waitlist.Promotions(ctx, inst.ID)
	if len(promos) != 0 {
		t.Fatalf("auto mode keeps no promotion record, got %d", len(promos))
	}
	promoted := f.notifier.byKind(model.NotifyPromoted)
	if len(promoted) != 1 || promoted[0].PromotionExpiresAt != nil {
		t.Fatalf("unexpected promoted notifications: %+v", promoted)
	}
}

func TestLeavingPendingPromotionDeclinesIt(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 1)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	entry := f.waitlist(t, inst.ID, "b")
	f.waitlist(t, inst.ID, "c")
	if err := f.engine.Bookings.Cancel(ctx, a.ID, Actor{UserID: "a"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.engine.Waitlist.Leave(ctx, entry.ID, Actor{UserID: "b"}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := f.store.FindConfirmedBooking(ctx, inst.ID, "c"); err != nil {
		t.Fatalf("expected c promoted after b declined: %v", err)
	}
	f.assertInvariants(t, inst.ID)
}

func TestTwoCancellationsNeverPromoteTheSameHead(t *testing.T) {
	f := newFixture(t, Options{})
	inst := f.instance(t, 2)
	ctx := context.Background()

	a := f.book(t, inst.ID, "a")
	b := f.book(t, inst.ID, "b")
	f.waitlist(t, inst.ID, "c")
	f.waitlist(t, inst.ID, "d")
	f.waitlist(t, inst.ID, "e")

	var wg sync.WaitGroup
	for _, bk := range []*model.Booking{a, b} {
		wg.Add(1)
		go func(bk *model.Booking) {
			defer wg.Done()
			if err := f.engine.Bookings.Cancel(ctx, bk.ID, Actor{UserID: bk.UserID}); err != nil {
				t.Errorf("cancel %s: %v", bk.UserID, err)
			}
		}(bk)
	}
	wg.Wait()

	promoted := f.notifier.byKind(model.NotifyPromoted)
	if len(promoted) != 2 {
		t.Fatalf("expected two promotions, got %d", len(promoted))
	}
	if promoted[0].UserID == promoted[1].UserID {
		t.Fatalf("head promoted twice: %s", promoted[0].UserID)
	}
	if users := queueUsers(t, f, inst.ID); len(users) != 1 || users[0] != "e" {
		t.Fatalf("expected e alone in the queue, got %v", users)
	}
	f.assertInvariants(t, inst.ID)
}
