package service

import (
	"errors"

	"github.com/iliyamo/studio-booking/internal/repository"
)

// Errors returned by the booking engine.  Handlers map them onto HTTP
// status codes; ErrConcurrentCapacityExceeded is the only one worth an
// automatic retry.
var (
	ErrInstanceNotBookable        = errors.New("instance is not bookable")
	ErrDuplicateBooking           = errors.New("user already holds a booking for this instance")
	ErrDuplicateWaitlistEntry     = errors.New("user is already on the waitlist for this instance")
	ErrInsufficientCredit         = errors.New("no usable credit package")
	ErrConcurrentCapacityExceeded = errors.New("seat count changed concurrently, retry")
	ErrOutcomeAlreadyRecorded     = errors.New("a different outcome was already recorded")
	ErrNotFound                   = errors.New("not found")
	ErrForbidden                  = errors.New("forbidden")
	ErrOutcomeTooEarly            = errors.New("outcome can only be recorded after the class ends")
	ErrBookingNotActive           = errors.New("booking is not confirmed")
	ErrInvalidInput               = errors.New("invalid input")
)

// storeErr translates repository sentinels at the service boundary.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConcurrentCapacityExceeded
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrNotFound)
}
