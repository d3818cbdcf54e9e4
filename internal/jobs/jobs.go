// Package jobs runs the periodic sweeps of the booking engine: lifecycle
// transitions, promotion expiry, package expiry and class reminders.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/studio-booking/internal/service"
)

// jobTimeout bounds a single sweep.
const jobTimeout = 2 * time.Minute

// Specs holds the cron expressions for each job.  Empty specs disable the
// job.
type Specs struct {
	Lifecycle  string
	Promotions string
	Packages   string
	Reminders  string
}

// Runner executes the sweeps against one engine.
type Runner struct {
	engine   *service.Engine
	notifier service.Notifier
	dedupe   Deduper

	// ReminderLead is how long before start reminders go out and
	// ReminderSpan the width of the window each run covers.  The span
	// should match the reminder schedule.
	ReminderLead time.Duration
	ReminderSpan time.Duration

	clock func() time.Time
}

// NewRunner builds a runner.  A nil deduper sends every reminder the
// window yields; with a cron span that matches the schedule each booking
// falls in exactly one window anyway.
func NewRunner(engine *service.Engine, notifier service.Notifier, dedupe Deduper) *Runner {
	if notifier == nil {
		notifier = service.LogNotifier{}
	}
	if dedupe == nil {
		dedupe = noDedupe{}
	}
	return &Runner{
		engine:       engine,
		notifier:     notifier,
		dedupe:       dedupe,
		ReminderLead: time.Hour,
		ReminderSpan: 5 * time.Minute,
		clock:        time.Now,
	}
}

// Schedule registers the jobs on c.
func (r *Runner) Schedule(c *cron.Cron, specs Specs) error {
	for _, j := range []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"lifecycle", specs.Lifecycle, r.AdvanceLifecycle},
		{"promotions", specs.Promotions, r.ExpirePromotions},
		{"packages", specs.Packages, r.ExpirePackages},
		{"reminders", specs.Reminders, r.SendReminders},
	} {
		if j.spec == "" {
			continue
		}
		name, fn := j.name, j.fn
		if _, err := c.AddFunc(j.spec, func() { r.run(name, fn) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", name, j.spec, err)
		}
		log.Printf("jobs: scheduled %s (%s)", name, j.spec)
	}
	return nil
}

func (r *Runner) run(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("jobs: %s failed: %v", name, err)
	}
}

// AdvanceLifecycle moves started and finished instances forward.
func (r *Runner) AdvanceLifecycle(ctx context.Context) error {
	n, err := r.engine.Catalog.AdvanceLifecycle(ctx, r.clock())
	if n > 0 {
		log.Printf("jobs: lifecycle advanced %d instance(s)", n)
	}
	return err
}

// ExpirePromotions releases seats held by promotions whose window passed.
func (r *Runner) ExpirePromotions(ctx context.Context) error {
	n, err := r.engine.Waitlist.ExpireDuePromotions(ctx, r.clock())
	if n > 0 {
		log.Printf("jobs: expired %d promotion(s)", n)
	}
	return err
}

// ExpirePackages zeroes the balance of packages past their expiry.
func (r *Runner) ExpirePackages(ctx context.Context) error {
	n, err := r.engine.Credits.ExpireStalePackages(ctx, r.clock())
	if n > 0 {
		log.Printf("jobs: expired %d package(s)", n)
	}
	return err
}

// SendReminders notifies every confirmed booking on instances starting in
// [now+lead, now+lead+span).  Reminders already sent are skipped.
func (r *Runner) SendReminders(ctx context.Context) error {
	from := r.clock().UTC().Add(r.ReminderLead)
	notes, err := r.engine.Bookings.Reminders(ctx, from, from.Add(r.ReminderSpan))
	if err != nil {
		return err
	}
	ttl := r.ReminderLead + 2*r.ReminderSpan
	sent := 0
	for _, n := range notes {
		first, err := r.dedupe.First(ctx, "reminder:"+n.BookingID, ttl)
		if err != nil {
			log.Printf("jobs: reminder dedupe for booking %s failed: %v", n.BookingID, err)
		} else if !first {
			continue
		}
		if err := r.notifier.Notify(ctx, n); err != nil {
			log.Printf("jobs: reminder for booking %s not delivered: %v", n.BookingID, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Printf("jobs: sent %d reminder(s)", sent)
	}
	return nil
}
