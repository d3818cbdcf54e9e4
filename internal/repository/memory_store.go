package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// MemoryStore keeps all rows in process memory.  It backs tests and
// single-node development runs.  A transaction holds the store's write
// lock for its whole duration and records an undo log, so a failed
// transaction leaves no trace and readers never observe partial writes.
// Transactions on different instances therefore run one at a time; the
// server refuses this store in production (see config.MemoryStoreAllowed).
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		templates: map[string]model.ClassTemplate{},
		instances: map[string]model.ScheduledInstance{},
		bookings:  map[string]model.Booking{},
		waitlist:  map[string]model.WaitlistEntry{},
		packages:  map[string]model.UserPackage{},
	}}
}

type memData struct {
	templates map[string]model.ClassTemplate
	instances map[string]model.ScheduledInstance
	bookings  map[string]model.Booking
	waitlist  map[string]model.WaitlistEntry
	packages  map[string]model.UserPackage
}

// WithTx runs fn under the store's write lock.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{memData: s.data}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) read() (*memData, func()) {
	s.mu.RLock()
	return s.data, s.mu.RUnlock
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error) {
	d, done := s.read()
	defer done()
	return d.GetTemplate(ctx, id)
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]model.ClassTemplate, error) {
	d, done := s.read()
	defer done()
	return d.ListTemplates(ctx)
}

func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*model.ScheduledInstance, error) {
	d, done := s.read()
	defer done()
	return d.GetInstance(ctx, id)
}

func (s *MemoryStore) FindInstance(ctx context.Context, templateID string, startsAt time.Time) (*model.ScheduledInstance, error) {
	d, done := s.read()
	defer done()
	return d.FindInstance(ctx, templateID, startsAt)
}

func (s *MemoryStore) ListInstances(ctx context.Context, from, to time.Time) ([]model.ScheduledInstance, error) {
	d, done := s.read()
	defer done()
	return d.ListInstances(ctx, from, to)
}

func (s *MemoryStore) ListInstancesByStatus(ctx context.Context, status model.InstanceStatus, startedBy time.Time) ([]model.ScheduledInstance, error) {
	d, done := s.read()
	defer done()
	return d.ListInstancesByStatus(ctx, status, startedBy)
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	d, done := s.read()
	defer done()
	return d.GetBooking(ctx, id)
}

func (s *MemoryStore) FindConfirmedBooking(ctx context.Context, instanceID, userID string) (*model.Booking, error) {
	d, done := s.read()
	defer done()
	return d.FindConfirmedBooking(ctx, instanceID, userID)
}

func (s *MemoryStore) ListBookingsByInstance(ctx context.Context, instanceID string) ([]model.Booking, error) {
	d, done := s.read()
	defer done()
	return d.ListBookingsByInstance(ctx, instanceID)
}

func (s *MemoryStore) ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	d, done := s.read()
	defer done()
	return d.ListBookingsByUser(ctx, userID)
}

func (s *MemoryStore) GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.GetWaitlistEntry(ctx, id)
}

func (s *MemoryStore) FindWaitlistEntry(ctx context.Context, instanceID, userID string) (*model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.FindWaitlistEntry(ctx, instanceID, userID)
}

func (s *MemoryStore) ListWaitlist(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.ListWaitlist(ctx, instanceID)
}

func (s *MemoryStore) ListPromotions(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.ListPromotions(ctx, instanceID)
}

func (s *MemoryStore) FindPromotionByBooking(ctx context.Context, bookingID string) (*model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.FindPromotionByBooking(ctx, bookingID)
}

func (s *MemoryStore) ListDuePromotions(ctx context.Context, now time.Time) ([]model.WaitlistEntry, error) {
	d, done := s.read()
	defer done()
	return d.ListDuePromotions(ctx, now)
}

func (s *MemoryStore) GetPackage(ctx context.Context, id string) (*model.UserPackage, error) {
	d, done := s.read()
	defer done()
	return d.GetPackage(ctx, id)
}

func (s *MemoryStore) ListPackagesByUser(ctx context.Context, userID string) ([]model.UserPackage, error) {
	d, done := s.read()
	defer done()
	return d.ListPackagesByUser(ctx, userID)
}

// ---- reads (callers hold the store lock) ----

func (d *memData) GetTemplate(_ context.Context, id string) (*model.ClassTemplate, error) {
	t, ok := d.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTemplate(t)
	return &t, nil
}

func (d *memData) ListTemplates(_ context.Context) ([]model.ClassTemplate, error) {
	out := make([]model.ClassTemplate, 0, len(d.templates))
	for _, t := range d.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memData) GetInstance(_ context.Context, id string) (*model.ScheduledInstance, error) {
	inst, ok := d.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inst, nil
}

func (d *memData) FindInstance(_ context.Context, templateID string, startsAt time.Time) (*model.ScheduledInstance, error) {
	for _, inst := range d.instances {
		if inst.TemplateID == templateID && inst.StartsAt.Equal(startsAt) {
			return &inst, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) ListInstances(_ context.Context, from, to time.Time) ([]model.ScheduledInstance, error) {
	out := make([]model.ScheduledInstance, 0)
	for _, inst := range d.instances {
		if !inst.StartsAt.Before(from) && inst.StartsAt.Before(to) {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

func (d *memData) ListInstancesByStatus(_ context.Context, status model.InstanceStatus, startedBy time.Time) ([]model.ScheduledInstance, error) {
	out := make([]model.ScheduledInstance, 0)
	for _, inst := range d.instances {
		if inst.Status == status && !inst.StartsAt.After(startedBy) {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

func (d *memData) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	b, ok := d.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b = cloneBooking(b)
	return &b, nil
}

func (d *memData) FindConfirmedBooking(_ context.Context, instanceID, userID string) (*model.Booking, error) {
	for _, b := range d.bookings {
		if b.InstanceID == instanceID && b.UserID == userID && b.State == model.BookingConfirmed {
			b = cloneBooking(b)
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) ListBookingsByInstance(_ context.Context, instanceID string) ([]model.Booking, error) {
	out := make([]model.Booking, 0)
	for _, b := range d.bookings {
		if b.InstanceID == instanceID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memData) ListBookingsByUser(_ context.Context, userID string) ([]model.Booking, error) {
	out := make([]model.Booking, 0)
	for _, b := range d.bookings {
		if b.UserID == userID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (d *memData) GetWaitlistEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	e, ok := d.waitlist[id]
	if !ok {
		return nil, ErrNotFound
	}
	e = cloneEntry(e)
	return &e, nil
}

func (d *memData) FindWaitlistEntry(_ context.Context, instanceID, userID string) (*model.WaitlistEntry, error) {
	for _, e := range d.waitlist {
		if e.InstanceID == instanceID && e.UserID == userID {
			e = cloneEntry(e)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) ListWaitlist(_ context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	out := d.entries(func(e model.WaitlistEntry) bool {
		return e.InstanceID == instanceID && e.Status == model.WaitlistWaiting
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (d *memData) ListPromotions(_ context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	out := d.entries(func(e model.WaitlistEntry) bool {
		return e.InstanceID == instanceID && e.Status == model.WaitlistPromoted
	})
	sortByDeadline(out)
	return out, nil
}

func (d *memData) FindPromotionByBooking(_ context.Context, bookingID string) (*model.WaitlistEntry, error) {
	for _, e := range d.waitlist {
		if e.Status == model.WaitlistPromoted && e.BookingID != nil && *e.BookingID == bookingID {
			e = cloneEntry(e)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) ListDuePromotions(_ context.Context, now time.Time) ([]model.WaitlistEntry, error) {
	out := d.entries(func(e model.WaitlistEntry) bool {
		return e.Status == model.WaitlistPromoted && e.PromotionExpiresAt != nil && !e.PromotionExpiresAt.After(now)
	})
	sortByDeadline(out)
	return out, nil
}

func (d *memData) GetPackage(_ context.Context, id string) (*model.UserPackage, error) {
	p, ok := d.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (d *memData) ListPackagesByUser(_ context.Context, userID string) ([]model.UserPackage, error) {
	out := make([]model.UserPackage, 0)
	for _, p := range d.packages {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (d *memData) entries(keep func(model.WaitlistEntry) bool) []model.WaitlistEntry {
	out := make([]model.WaitlistEntry, 0)
	for _, e := range d.waitlist {
		if keep(e) {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// ---- transaction ----

type memTx struct {
	*memData
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func put[T any](t *memTx, m map[string]T, id string, v T) {
	prev, existed := m[id]
	t.undo = append(t.undo, func() {
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
	})
	m[id] = v
}

func (t *memTx) LockInstance(ctx context.Context, id string) (*model.ScheduledInstance, error) {
	return t.GetInstance(ctx, id)
}

func (t *memTx) LockPackages(ctx context.Context, userID string) ([]model.UserPackage, error) {
	return t.ListPackagesByUser(ctx, userID)
}

func (t *memTx) InsertTemplate(_ context.Context, tpl *model.ClassTemplate) error {
	if _, ok := t.templates[tpl.ID]; ok {
		return ErrConflict
	}
	put(t, t.templates, tpl.ID, cloneTemplate(*tpl))
	return nil
}

func (t *memTx) UpdateTemplate(_ context.Context, tpl *model.ClassTemplate) error {
	if _, ok := t.templates[tpl.ID]; !ok {
		return ErrNotFound
	}
	put(t, t.templates, tpl.ID, cloneTemplate(*tpl))
	return nil
}

func (t *memTx) InsertInstance(_ context.Context, inst *model.ScheduledInstance) error {
	if _, ok := t.instances[inst.ID]; ok {
		return ErrConflict
	}
	for _, other := range t.instances {
		if other.TemplateID == inst.TemplateID && other.StartsAt.Equal(inst.StartsAt) {
			return ErrConflict
		}
	}
	put(t, t.instances, inst.ID, *inst)
	return nil
}

func (t *memTx) SetInstanceStatus(_ context.Context, id string, status model.InstanceStatus, now time.Time) error {
	inst, ok := t.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.Status = status
	inst.UpdatedAt = now
	put(t, t.instances, id, inst)
	return nil
}

func (t *memTx) AdjustOccupiedSeats(_ context.Context, id string, delta int, expectedVersion int64, now time.Time) (int64, error) {
	inst, ok := t.instances[id]
	if !ok {
		return 0, ErrNotFound
	}
	next := inst.OccupiedSeats + delta
	if inst.Version != expectedVersion || next < 0 || next > inst.Capacity {
		return 0, ErrConflict
	}
	inst.OccupiedSeats = next
	inst.Version++
	inst.UpdatedAt = now
	put(t, t.instances, id, inst)
	return inst.Version, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, ok := t.bookings[b.ID]; ok {
		return ErrConflict
	}
	put(t, t.bookings, b.ID, cloneBooking(*b))
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *model.Booking) error {
	if _, ok := t.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	put(t, t.bookings, b.ID, cloneBooking(*b))
	return nil
}

func (t *memTx) InsertWaitlistEntry(_ context.Context, e *model.WaitlistEntry) error {
	if _, ok := t.waitlist[e.ID]; ok {
		return ErrConflict
	}
	for _, other := range t.waitlist {
		if other.InstanceID != e.InstanceID {
			continue
		}
		if other.UserID == e.UserID {
			return ErrConflict
		}
		if e.Status == model.WaitlistWaiting && other.Status == model.WaitlistWaiting && other.Position == e.Position {
			return ErrConflict
		}
	}
	put(t, t.waitlist, e.ID, cloneEntry(*e))
	return nil
}

func (t *memTx) UpdateWaitlistEntry(_ context.Context, e *model.WaitlistEntry) error {
	if _, ok := t.waitlist[e.ID]; !ok {
		return ErrNotFound
	}
	put(t, t.waitlist, e.ID, cloneEntry(*e))
	return nil
}

func (t *memTx) DeleteWaitlistEntry(_ context.Context, id string) error {
	prev, ok := t.waitlist[id]
	if !ok {
		return ErrNotFound
	}
	t.undo = append(t.undo, func() { t.waitlist[id] = prev })
	delete(t.waitlist, id)
	return nil
}

func (t *memTx) CloseWaitlistGap(_ context.Context, instanceID string, position int) error {
	for id, e := range t.waitlist {
		if e.InstanceID == instanceID && e.Status == model.WaitlistWaiting && e.Position > position {
			e.Position--
			put(t, t.waitlist, id, e)
		}
	}
	return nil
}

func (t *memTx) InsertPackage(_ context.Context, p *model.UserPackage) error {
	if _, ok := t.packages[p.ID]; ok {
		return ErrConflict
	}
	put(t, t.packages, p.ID, *p)
	return nil
}

func (t *memTx) ConsumeCredit(_ context.Context, packageID string, now time.Time) error {
	p, ok := t.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	if !p.Usable(now) {
		return ErrConflict
	}
	p.CreditsRemaining--
	put(t, t.packages, packageID, p)
	return nil
}

func (t *memTx) RefundCredit(_ context.Context, packageID string) error {
	p, ok := t.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	if p.CreditsRemaining < p.CreditsPurchased {
		p.CreditsRemaining++
		put(t, t.packages, packageID, p)
	}
	return nil
}

func (t *memTx) ExpirePackages(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, p := range t.packages {
		if p.CreditsRemaining > 0 && !now.Before(p.ExpiresAt) {
			p.CreditsRemaining = 0
			put(t, t.packages, id, p)
			n++
		}
	}
	return n, nil
}

// ---- helpers ----

func sortInstances(out []model.ScheduledInstance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortByDeadline(out []model.WaitlistEntry) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PromotionExpiresAt, out[j].PromotionExpiresAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
}

func cloneTemplate(t model.ClassTemplate) model.ClassTemplate {
	if t.Recurrence != nil {
		r := *t.Recurrence
		r.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
		t.Recurrence = &r
	}
	return t
}

func cloneBooking(b model.Booking) model.Booking {
	if b.PackageID != nil {
		id := *b.PackageID
		b.PackageID = &id
	}
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		b.CancelledAt = &at
	}
	return b
}

func cloneEntry(e model.WaitlistEntry) model.WaitlistEntry {
	if e.BookingID != nil {
		id := *e.BookingID
		e.BookingID = &id
	}
	if e.PromotionExpiresAt != nil {
		at := *e.PromotionExpiresAt
		e.PromotionExpiresAt = &at
	}
	return e
}
