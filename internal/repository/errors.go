// Package repository defines the persistence boundary of the booking
// engine together with a MySQL implementation and an in-memory one.
// Sentinel errors below are shared by both stores so that the service
// layer can tell a missing row from a lost race.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write loses against a
// concurrent writer: a seat-count compare-and-swap whose version no longer
// matches, a credit decrement on a package that ran dry, a deadlock or a
// unique key violation.  Callers may retry the whole unit of work.
var ErrConflict = errors.New("conflict")
