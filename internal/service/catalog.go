package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// maxGenerateSpan bounds one GenerateInstances call.
const maxGenerateSpan = 366 * 24 * time.Hour

// TemplateInput carries the editable fields of a class template.
type TemplateInput struct {
	Name            string            `json:"name" validate:"required,max=200"`
	Difficulty      model.Difficulty  `json:"difficulty" validate:"required"`
	InstructorID    string            `json:"instructor_id" validate:"required,max=64"`
	DurationMinutes int               `json:"duration_minutes" validate:"required,min=1,max=1440"`
	Capacity        int               `json:"capacity" validate:"required,min=1,max=1000"`
	Recurrence      *model.Recurrence `json:"recurrence,omitempty"`
}

func (in *TemplateInput) check() error {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !in.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, in.Difficulty)
	case in.InstructorID == "":
		return fmt.Errorf("%w: instructor is required", ErrInvalidInput)
	case in.DurationMinutes < 1:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	case in.Capacity < 1:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}
	if r := in.Recurrence; r != nil {
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("%w: recurrence needs at least one weekday", ErrInvalidInput)
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: invalid weekday %d", ErrInvalidInput, d)
			}
		}
		if _, _, err := r.Clock(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if _, err := r.Zone(); err != nil {
			return fmt.Errorf("%w: unknown time zone %q", ErrInvalidInput, r.Location)
		}
	}
	return nil
}

// InstanceInput describes a one-off instance.  Zero values take the
// template defaults.
type InstanceInput struct {
	TemplateID      string    `json:"template_id" validate:"required"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	InstructorID    string    `json:"instructor_id,omitempty" validate:"max=64"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
	Capacity        int       `json:"capacity,omitempty" validate:"omitempty,min=1,max=1000"`
}

// ClassCatalog holds templates and scheduled instances.  Apart from
// CancelInstance it never touches seats or bookings.
type ClassCatalog struct {
	e *Engine
}

// CreateTemplate stores a new template.
func (c *ClassCatalog) CreateTemplate(ctx context.Context, in TemplateInput) (*model.ClassTemplate, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	now := c.e.now()
	t := &model.ClassTemplate{
		ID:              c.e.opts.NewID(),
		Name:            in.Name,
		Difficulty:      in.Difficulty,
		InstructorID:    in.InstructorID,
		DefaultDuration: time.Duration(in.DurationMinutes) * time.Minute,
		DefaultCapacity: in.Capacity,
		Recurrence:      in.Recurrence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := c.e.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTemplate(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("create template: %w", storeErr(err))
	}
	return t, nil
}

// UpdateTemplate replaces the template's fields.  Instances already
// created keep the values they copied.
func (c *ClassCatalog) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (*model.ClassTemplate, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	var t *model.ClassTemplate
	err := c.e.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		t, err = tx.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		t.Name = in.Name
		t.Difficulty = in.Difficulty
		t.InstructorID = in.InstructorID
		t.DefaultDuration = time.Duration(in.DurationMinutes) * time.Minute
		t.DefaultCapacity = in.Capacity
		t.Recurrence = in.Recurrence
		t.UpdatedAt = c.e.now()
		return tx.UpdateTemplate(ctx, t)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// GetTemplate returns one template.
func (c *ClassCatalog) GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error) {
	t, err := c.e.store.GetTemplate(ctx, id)
	return t, storeErr(err)
}

// ListTemplates returns every template ordered by name.
func (c *ClassCatalog) ListTemplates(ctx context.Context) ([]model.ClassTemplate, error) {
	ts, err := c.e.store.ListTemplates(ctx)
	return ts, storeErr(err)
}

// ScheduleInstance creates a one-off instance of a template in the future.
func (c *ClassCatalog) ScheduleInstance(ctx context.Context, in InstanceInput) (*model.ScheduledInstance, error) {
	now := c.e.now()
	if in.TemplateID == "" || in.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: template and start time are required", ErrInvalidInput)
	}
	if !in.StartsAt.After(now) {
		return nil, fmt.Errorf("%w: start time must be in the future", ErrInvalidInput)
	}
	if in.DurationMinutes < 0 || in.Capacity < 0 {
		return nil, fmt.Errorf("%w: duration and capacity must be positive", ErrInvalidInput)
	}
	var inst *model.ScheduledInstance
	err := c.e.store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTemplate(ctx, in.TemplateID)
		if err != nil {
			return err
		}
		inst = c.newInstance(t, in.StartsAt, now)
		if in.InstructorID != "" {
			inst.InstructorID = in.InstructorID
		}
		if in.DurationMinutes > 0 {
			inst.Duration = time.Duration(in.DurationMinutes) * time.Minute
		}
		if in.Capacity > 0 {
			inst.Capacity = in.Capacity
		}
		return tx.InsertInstance(ctx, inst)
	})
	if err != nil {
		err = storeErr(err)
		if errors.Is(err, ErrConcurrentCapacityExceeded) {
			return nil, fmt.Errorf("%w: template already has an instance at %s", ErrInvalidInput, in.StartsAt.UTC().Format(time.RFC3339))
		}
		return nil, err
	}
	return inst, nil
}

func (c *ClassCatalog) newInstance(t *model.ClassTemplate, startsAt, now time.Time) *model.ScheduledInstance {
	return &model.ScheduledInstance{
		ID:           c.e.opts.NewID(),
		TemplateID:   t.ID,
		InstructorID: t.InstructorID,
		StartsAt:     startsAt.UTC(),
		Duration:     t.DefaultDuration,
		Capacity:     t.DefaultCapacity,
		Status:       model.InstanceScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// GenerateInstances materialises the template's weekly recurrence for
// starts in [from, to).  Starts already taken by an instance of the
// template, and starts not in the future, are skipped.
func (c *ClassCatalog) GenerateInstances(ctx context.Context, templateID string, from, to time.Time) ([]model.ScheduledInstance, error) {
	if !to.After(from) || to.Sub(from) > maxGenerateSpan {
		return nil, fmt.Errorf("%w: range must be non-empty and at most 366 days", ErrInvalidInput)
	}
	now := c.e.now()
	created := make([]model.ScheduledInstance, 0)
	err := c.e.store.WithTx(ctx, func(tx repository.Tx) error {
		created = created[:0]
		t, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if t.Recurrence == nil {
			return fmt.Errorf("%w: template %s has no recurrence", ErrInvalidInput, t.ID)
		}
		starts, err := occurrences(*t.Recurrence, from, to)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		for _, start := range starts {
			if !start.After(now) {
				continue
			}
			if _, err := tx.FindInstance(ctx, t.ID, start); err == nil {
				continue
			} else if !isNotFound(err) {
				return err
			}
			inst := c.newInstance(t, start, now)
			if err := tx.InsertInstance(ctx, inst); err != nil {
				return err
			}
			created = append(created, *inst)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	log.Printf("catalog: generated %d instances of template %s", len(created), templateID)
	return created, nil
}

// occurrences lists the UTC starts of r in [from, to).  Days are walked in
// the recurrence's zone so the wall clock time survives DST changes.
func occurrences(r model.Recurrence, from, to time.Time) ([]time.Time, error) {
	h, m, err := r.Clock()
	if err != nil {
		return nil, err
	}
	loc, err := r.Zone()
	if err != nil {
		return nil, err
	}
	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	var out []time.Time
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		if !r.Matches(day.Weekday()) {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
		if start.Before(from) || !start.Before(to) {
			continue
		}
		out = append(out, start.UTC())
	}
	return out, nil
}

// GetInstance returns one instance.
func (c *ClassCatalog) GetInstance(ctx context.Context, id string) (*model.ScheduledInstance, error) {
	inst, err := c.e.store.GetInstance(ctx, id)
	return inst, storeErr(err)
}

// ListInstances returns instances starting in [from, to).
func (c *ClassCatalog) ListInstances(ctx context.Context, from, to time.Time) ([]model.ScheduledInstance, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty time range", ErrInvalidInput)
	}
	insts, err := c.e.store.ListInstances(ctx, from, to)
	return insts, storeErr(err)
}

// AdvanceLifecycle moves started instances to in_progress and finished
// ones to completed.  A class that starts takes its queue with it: waiting
// entries and pending promotion records are discarded.  It returns how
// many instances changed status.
func (c *ClassCatalog) AdvanceLifecycle(ctx context.Context, now time.Time) (int, error) {
	changed := 0
	for _, status := range []model.InstanceStatus{model.InstanceScheduled, model.InstanceInProgress} {
		insts, err := c.e.store.ListInstancesByStatus(ctx, status, now)
		if err != nil {
			return changed, storeErr(err)
		}
		for i := range insts {
			id := insts[i].ID
			moved := false
			err := c.e.withInstance(ctx, id, func(tx repository.Tx, _ *outbox) error {
				inst, err := tx.LockInstance(ctx, id)
				if err != nil {
					return err
				}
				next := inst.Status
				switch {
				case inst.Status != model.InstanceScheduled && inst.Status != model.InstanceInProgress:
				case !now.Before(inst.EndsAt()):
					next = model.InstanceCompleted
				case !now.Before(inst.StartsAt):
					next = model.InstanceInProgress
				}
				if next == inst.Status {
					return nil
				}
				if inst.Status == model.InstanceScheduled {
					if _, err := c.clearQueueTx(ctx, tx, id); err != nil {
						return err
					}
				}
				moved = true
				return tx.SetInstanceStatus(ctx, id, next, now)
			})
			if err != nil {
				return changed, storeErr(err)
			}
			if moved {
				changed++
			}
		}
	}
	if changed > 0 {
		log.Printf("catalog: advanced %d instances", changed)
	}
	return changed, nil
}

// clearQueueTx deletes every waitlist entry of an instance, waiting
// entries first, and returns what it deleted.
func (c *ClassCatalog) clearQueueTx(ctx context.Context, tx repository.Tx, instanceID string) ([]model.WaitlistEntry, error) {
	waiting, err := tx.ListWaitlist(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	promos, err := tx.ListPromotions(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	all := append(waiting, promos...)
	for _, e := range all {
		if err := tx.DeleteWaitlistEntry(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// CancelInstance cancels an instance in one unit of work: every confirmed
// booking is cancelled with its credit refunded, the waitlist is cleared
// and each affected member gets an instance_cancelled notification rather
// than a promotion.  Cancelling twice is a no-op; completed instances
// cannot be cancelled.
func (c *ClassCatalog) CancelInstance(ctx context.Context, instanceID string, actor Actor) (*model.ScheduledInstance, error) {
	if !actor.Operator {
		return nil, ErrForbidden
	}
	var inst *model.ScheduledInstance
	err := c.e.withInstance(ctx, instanceID, func(tx repository.Tx, out *outbox) error {
		var err error
		inst, err = tx.LockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		switch inst.Status {
		case model.InstanceCancelled:
			return nil
		case model.InstanceCompleted:
			return ErrInstanceNotBookable
		}
		now := c.e.now()
		if err := tx.SetInstanceStatus(ctx, instanceID, model.InstanceCancelled, now); err != nil {
			return err
		}
		inst.Status = model.InstanceCancelled
		startsAt := inst.StartsAt

		notified := map[string]bool{}
		cancelled := 0
		bookings, err := tx.ListBookingsByInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		for i := range bookings {
			b := &bookings[i]
			if b.State != model.BookingConfirmed {
				continue
			}
			refunded, err := c.e.Bookings.cancelTx(ctx, tx, inst, b, now)
			if err != nil {
				return err
			}
			out.add(model.Notification{
				UserID:         b.UserID,
				Kind:           model.NotifyInstanceCancelled,
				InstanceID:     instanceID,
				BookingID:      b.ID,
				StartsAt:       &startsAt,
				Reason:         ReasonInstanceCancelled,
				CreditRefunded: refunded,
				OccurredAt:     now,
			})
			notified[b.UserID] = true
			cancelled++
		}
		cleared, err := c.clearQueueTx(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		for _, e := range cleared {
			if notified[e.UserID] {
				continue
			}
			notified[e.UserID] = true
			out.add(model.Notification{
				UserID:          e.UserID,
				Kind:            model.NotifyInstanceCancelled,
				InstanceID:      instanceID,
				WaitlistEntryID: e.ID,
				StartsAt:        &startsAt,
				Reason:          ReasonInstanceCancelled,
				OccurredAt:      now,
			})
		}
		log.Printf("catalog: cancelled instance %s, %d bookings cancelled, %d waitlist entries cleared", instanceID, cancelled, len(cleared))
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return inst, nil
}
