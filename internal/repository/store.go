package repository

import (
	"context"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Reader groups the read operations available both outside and inside a
// transaction.  Inside a transaction reads observe the transaction's own
// writes.  All list methods return an empty (non-nil) slice when nothing
// matches.
type Reader interface {
	GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error)
	ListTemplates(ctx context.Context) ([]model.ClassTemplate, error)

	GetInstance(ctx context.Context, id string) (*model.ScheduledInstance, error)
	// FindInstance looks up the instance a template produced at startsAt.
	FindInstance(ctx context.Context, templateID string, startsAt time.Time) (*model.ScheduledInstance, error)
	// ListInstances returns instances starting in [from, to) ordered by start.
	ListInstances(ctx context.Context, from, to time.Time) ([]model.ScheduledInstance, error)
	// ListInstancesByStatus returns instances in status that started at or
	// before startedBy, ordered by start.
	ListInstancesByStatus(ctx context.Context, status model.InstanceStatus, startedBy time.Time) ([]model.ScheduledInstance, error)

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// FindConfirmedBooking returns the confirmed booking of userID on
	// instanceID, or ErrNotFound.
	FindConfirmedBooking(ctx context.Context, instanceID, userID string) (*model.Booking, error)
	// ListBookingsByInstance returns bookings ordered by creation time.
	ListBookingsByInstance(ctx context.Context, instanceID string) ([]model.Booking, error)
	// ListBookingsByUser returns bookings newest first.
	ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error)

	GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	// FindWaitlistEntry returns the entry (waiting or promoted) of userID
	// on instanceID, or ErrNotFound.
	FindWaitlistEntry(ctx context.Context, instanceID, userID string) (*model.WaitlistEntry, error)
	// ListWaitlist returns waiting entries ordered by position.
	ListWaitlist(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error)
	// ListPromotions returns promoted records of an instance.
	ListPromotions(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error)
	// FindPromotionByBooking returns the promotion record that created
	// bookingID, or ErrNotFound.
	FindPromotionByBooking(ctx context.Context, bookingID string) (*model.WaitlistEntry, error)
	// ListDuePromotions returns promoted records whose window closed at or
	// before now, oldest deadline first.
	ListDuePromotions(ctx context.Context, now time.Time) ([]model.WaitlistEntry, error)

	GetPackage(ctx context.Context, id string) (*model.UserPackage, error)
	// ListPackagesByUser returns packages ordered by expiry, then creation
	// time, then id.
	ListPackagesByUser(ctx context.Context, userID string) ([]model.UserPackage, error)
}

// Tx is a unit of work.  Nothing written through a Tx is visible to other
// readers until the surrounding WithTx call commits.
type Tx interface {
	Reader

	// LockInstance reads an instance and holds its row lock until the
	// transaction ends.
	LockInstance(ctx context.Context, id string) (*model.ScheduledInstance, error)
	// LockPackages reads and locks all packages of userID, ordered like
	// ListPackagesByUser.
	LockPackages(ctx context.Context, userID string) ([]model.UserPackage, error)

	InsertTemplate(ctx context.Context, t *model.ClassTemplate) error
	UpdateTemplate(ctx context.Context, t *model.ClassTemplate) error

	InsertInstance(ctx context.Context, inst *model.ScheduledInstance) error
	SetInstanceStatus(ctx context.Context, id string, status model.InstanceStatus, now time.Time) error
	// AdjustOccupiedSeats adds delta to the seat count when the stored
	// version still equals expectedVersion and the result stays within
	// [0, capacity].  It returns the new version, or ErrConflict.
	AdjustOccupiedSeats(ctx context.Context, id string, delta int, expectedVersion int64, now time.Time) (int64, error)

	InsertBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error

	InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, id string) error
	// CloseWaitlistGap decrements the position of every waiting entry of
	// instanceID placed after position.
	CloseWaitlistGap(ctx context.Context, instanceID string, position int) error

	InsertPackage(ctx context.Context, p *model.UserPackage) error
	// ConsumeCredit decrements a package that still has credit and has not
	// expired at now; otherwise ErrConflict.
	ConsumeCredit(ctx context.Context, packageID string, now time.Time) error
	// RefundCredit increments a package, never above its purchased amount.
	RefundCredit(ctx context.Context, packageID string) error
	// ExpirePackages zeroes the remaining credits of packages expired at
	// now and returns how many packages changed.
	ExpirePackages(ctx context.Context, now time.Time) (int, error)
}

// Store is the persistence boundary used by the booking engine.
type Store interface {
	Reader
	// WithTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.  Serialization failures reported by the
	// database surface as ErrConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
