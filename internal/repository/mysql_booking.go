package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

const bookingColumns = `id, instance_id, user_id, state, payment_mode, package_id, created_at, cancelled_at, updated_at`

func scanBooking(s scanner) (*model.Booking, error) {
	var (
		b         model.Booking
		packageID sql.NullString
		cancelled sql.NullTime
	)
	if err := s.Scan(&b.ID, &b.InstanceID, &b.UserID, &b.State, &b.PaymentMode, &packageID,
		&b.CreatedAt, &cancelled, &b.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	b.PackageID = stringPtr(packageID)
	if cancelled.Valid {
		at := cancelled.Time.UTC()
		b.CancelledAt = &at
	}
	return &b, nil
}

func (r sqlReader) bookings(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r sqlReader) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return scanBooking(r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
}

func (r sqlReader) FindConfirmedBooking(ctx context.Context, instanceID, userID string) (*model.Booking, error) {
	return scanBooking(r.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE instance_id = ? AND user_id = ? AND state = ? LIMIT 1`,
		instanceID, userID, model.BookingConfirmed))
}

func (r sqlReader) ListBookingsByInstance(ctx context.Context, instanceID string) ([]model.Booking, error) {
	return r.bookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE instance_id = ? ORDER BY created_at, id`, instanceID)
}

func (r sqlReader) ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	return r.bookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (t *mysqlTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	var cancelled sql.NullTime
	if b.CancelledAt != nil {
		cancelled = sql.NullTime{Time: b.CancelledAt.UTC(), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.InstanceID, b.UserID, b.State, b.PaymentMode, nullString(b.PackageID),
		b.CreatedAt.UTC(), cancelled, b.UpdatedAt.UTC())
	return translate(err)
}

func (t *mysqlTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	var cancelled sql.NullTime
	if b.CancelledAt != nil {
		cancelled = sql.NullTime{Time: b.CancelledAt.UTC(), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET state = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
		b.State, cancelled, b.UpdatedAt.UTC(), b.ID)
	if err := expectOne(res, err); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

const packageColumns = `id, user_id, credits_purchased, credits_remaining, expires_at, created_at`

func scanPackage(s scanner) (*model.UserPackage, error) {
	var p model.UserPackage
	if err := s.Scan(&p.ID, &p.UserID, &p.CreditsPurchased, &p.CreditsRemaining, &p.ExpiresAt, &p.CreatedAt); err != nil {
		return nil, translate(err)
	}
	p.ExpiresAt = p.ExpiresAt.UTC()
	return &p, nil
}

func (r sqlReader) packages(ctx context.Context, query string, args ...any) ([]model.UserPackage, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.UserPackage, 0)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r sqlReader) GetPackage(ctx context.Context, id string) (*model.UserPackage, error) {
	return scanPackage(r.q.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM user_packages WHERE id = ?`, id))
}

func (r sqlReader) ListPackagesByUser(ctx context.Context, userID string) ([]model.UserPackage, error) {
	return r.packages(ctx,
		`SELECT `+packageColumns+` FROM user_packages WHERE user_id = ? ORDER BY expires_at, created_at, id`, userID)
}

func (t *mysqlTx) LockPackages(ctx context.Context, userID string) ([]model.UserPackage, error) {
	return t.packages(ctx,
		`SELECT `+packageColumns+` FROM user_packages WHERE user_id = ? ORDER BY expires_at, created_at, id FOR UPDATE`, userID)
}

func (t *mysqlTx) InsertPackage(ctx context.Context, p *model.UserPackage) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_packages (`+packageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CreditsPurchased, p.CreditsRemaining, p.ExpiresAt.UTC(), p.CreatedAt.UTC())
	return translate(err)
}

func (t *mysqlTx) ConsumeCredit(ctx context.Context, packageID string, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE user_packages SET credits_remaining = credits_remaining - 1
		 WHERE id = ? AND credits_remaining > 0 AND expires_at > ?`,
		packageID, now.UTC())
	return expectOne(res, err)
}

func (t *mysqlTx) RefundCredit(ctx context.Context, packageID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE user_packages SET credits_remaining = credits_remaining + 1
		 WHERE id = ? AND credits_remaining < credits_purchased`,
		packageID)
	return translate(err)
}

func (t *mysqlTx) ExpirePackages(ctx context.Context, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE user_packages SET credits_remaining = 0 WHERE credits_remaining > 0 AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
