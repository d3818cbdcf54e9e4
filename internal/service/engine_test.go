package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// Monday 2 March 2026, 09:00 UTC.
var baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []model.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingNotifier) byKind(kind model.NotificationKind) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.notes = nil
	r.mu.Unlock()
}

type fixture struct {
	engine   *Engine
	store    *repository.MemoryStore
	notifier *recordingNotifier
	clock    *testClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	var seq atomic.Int64
	f := &fixture{
		store:    repository.NewMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: baseTime},
	}
	opts.Clock = f.clock.Now
	opts.NewID = func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }
	f.engine = NewEngine(f.store, f.notifier, opts)
	return f
}

// instance creates a template and one instance two days ahead.
func (f *fixture) instance(t *testing.T, capacity int) *model.ScheduledInstance {
	t.Helper()
	ctx := context.Background()
	tpl, err := f.engine.Catalog.CreateTemplate(ctx, TemplateInput{
		Name:            "Vinyasa Flow",
		Difficulty:      model.DifficultyIntermediate,
		InstructorID:    "instructor-1",
		DurationMinutes: 60,
		Capacity:        capacity,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	inst, err := f.engine.Catalog.ScheduleInstance(ctx, InstanceInput{
		TemplateID: tpl.ID,
		StartsAt:   f.clock.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule instance: %v", err)
	}
	return inst
}

func (f *fixture) book(t *testing.T, instanceID, userID string) *model.Booking {
	t.Helper()
	res, err := f.engine.Bookings.ReserveSeat(context.Background(), instanceID, userID, model.PaymentDirect)
	if err != nil {
		t.Fatalf("reserve %s: %v", userID, err)
	}
	if res.Kind != ReservationBooked {
		t.Fatalf("reserve %s: expected booking, got %s", userID, res.Kind)
	}
	return res.Booking
}

func (f *fixture) waitlist(t *testing.T, instanceID, userID string) *model.WaitlistEntry {
	t.Helper()
	res, err := f.engine.Bookings.ReserveSeat(context.Background(), instanceID, userID, model.PaymentDirect)
	if err != nil {
		t.Fatalf("reserve %s: %v", userID, err)
	}
	if res.Kind != ReservationWaitlisted {
		t.Fatalf("reserve %s: expected waitlist entry, got %s", userID, res.Kind)
	}
	return res.Entry
}

func (f *fixture) assertInvariants(t *testing.T, instanceID string) *InvariantReport {
	t.Helper()
	rep, err := f.engine.Bookings.CheckInvariants(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if !rep.OK() {
		t.Fatalf("invariants violated: %v", rep.Violations)
	}
	return rep
}

func (f *fixture) occupied(t *testing.T, instanceID string) int {
	t.Helper()
	inst, err := f.engine.Catalog.GetInstance(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	return inst.OccupiedSeats
}

func queueUsers(t *testing.T, f *fixture, instanceID string) []string {
	t.Helper()
	q, err := f.engine.Waitlist.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list waitlist: %v", err)
	}
	users := make([]string, len(q))
	for i, e := range q {
		if e.Position != i+1 {
			t.Fatalf("entry %s at position %d, want %d", e.ID, e.Position, i+1)
		}
		users[i] = e.UserID
	}
	return users
}

func TestParsePromotionMode(t *testing.T) {
	cases := map[string]PromotionMode{"": PromotionConfirm, "confirm": PromotionConfirm, " AUTO ": PromotionAuto}
	for in, want := range cases {
		got, err := ParsePromotionMode(in)
		if err != nil || got != want {
			t.Fatalf("ParsePromotionMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePromotionMode("later"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNotifierFailureDoesNotFailCancel(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = fmt.Errorf("broker down")
	inst := f.instance(t, 1)
	b := f.book(t, inst.ID, "alice")

	if err := f.engine.Bookings.Cancel(context.Background(), b.ID, Actor{UserID: "alice"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := len(f.notifier.byKind(model.NotifySeatFreed)); got != 1 {
		t.Fatalf("expected one seat_freed attempt, got %d", got)
	}
}
