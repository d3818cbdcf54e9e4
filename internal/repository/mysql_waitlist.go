package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Promoted entries store a NULL position so the (instance_id, position)
// unique key only constrains the live queue.
const waitlistColumns = `id, instance_id, user_id, position, status, payment_mode, joined_at, booking_id, promotion_expires_at`

func scanEntry(s scanner) (*model.WaitlistEntry, error) {
	var (
		e         model.WaitlistEntry
		position  sql.NullInt64
		bookingID sql.NullString
		expires   sql.NullTime
	)
	if err := s.Scan(&e.ID, &e.InstanceID, &e.UserID, &position, &e.Status, &e.PaymentMode, &e.JoinedAt, &bookingID, &expires); err != nil {
		return nil, translate(err)
	}
	e.Position = int(position.Int64)
	e.BookingID = stringPtr(bookingID)
	if expires.Valid {
		at := expires.Time.UTC()
		e.PromotionExpiresAt = &at
	}
	return &e, nil
}

func entryArgs(e *model.WaitlistEntry) (sql.NullInt64, sql.NullTime) {
	var position sql.NullInt64
	if e.Status == model.WaitlistWaiting {
		position = sql.NullInt64{Int64: int64(e.Position), Valid: true}
	}
	var expires sql.NullTime
	if e.PromotionExpiresAt != nil {
		expires = sql.NullTime{Time: e.PromotionExpiresAt.UTC(), Valid: true}
	}
	return position, expires
}

func (r sqlReader) entries(ctx context.Context, query string, args ...any) ([]model.WaitlistEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r sqlReader) GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return scanEntry(r.q.QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ?`, id))
}

func (r sqlReader) FindWaitlistEntry(ctx context.Context, instanceID, userID string) (*model.WaitlistEntry, error) {
	return scanEntry(r.q.QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE instance_id = ? AND user_id = ?`, instanceID, userID))
}

func (r sqlReader) ListWaitlist(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	return r.entries(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE instance_id = ? AND status = ? ORDER BY position`,
		instanceID, model.WaitlistWaiting)
}

func (r sqlReader) ListPromotions(ctx context.Context, instanceID string) ([]model.WaitlistEntry, error) {
	return r.entries(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE instance_id = ? AND status = ? ORDER BY promotion_expires_at, id`,
		instanceID, model.WaitlistPromoted)
}

func (r sqlReader) FindPromotionByBooking(ctx context.Context, bookingID string) (*model.WaitlistEntry, error) {
	return scanEntry(r.q.QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE booking_id = ? AND status = ?`,
		bookingID, model.WaitlistPromoted))
}

func (r sqlReader) ListDuePromotions(ctx context.Context, now time.Time) ([]model.WaitlistEntry, error) {
	return r.entries(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE status = ? AND promotion_expires_at IS NOT NULL AND promotion_expires_at <= ?
		 ORDER BY promotion_expires_at, id`,
		model.WaitlistPromoted, now.UTC())
}

func (t *mysqlTx) InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	position, expires := entryArgs(e)
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO waitlist_entries (`+waitlistColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InstanceID, e.UserID, position, e.Status, e.PaymentMode, e.JoinedAt.UTC(), nullString(e.BookingID), expires)
	return translate(err)
}

func (t *mysqlTx) UpdateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	position, expires := entryArgs(e)
	res, err := t.tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET position = ?, status = ?, booking_id = ?, promotion_expires_at = ? WHERE id = ?`,
		position, e.Status, nullString(e.BookingID), expires, e.ID)
	if err := expectOne(res, err); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (t *mysqlTx) DeleteWaitlistEntry(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id)
	if err := expectOne(res, err); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// CloseWaitlistGap walks positions in ascending order so the unique key on
// (instance_id, position) never sees two rows with the same position.
func (t *mysqlTx) CloseWaitlistGap(ctx context.Context, instanceID string, position int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET position = position - 1
		 WHERE instance_id = ? AND status = ? AND position > ?
		 ORDER BY position ASC`,
		instanceID, model.WaitlistWaiting, position)
	return translate(err)
}
