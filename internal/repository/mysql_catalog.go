package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

const templateColumns = `id, name, difficulty, instructor_id, default_duration_sec, default_capacity, recurrence, created_at, updated_at`

const instanceColumns = `id, template_id, instructor_id, starts_at, duration_sec, capacity, occupied_seats, status, version, created_at, updated_at`

func scanTemplate(s scanner) (*model.ClassTemplate, error) {
	var (
		t        model.ClassTemplate
		duration int64
		rec      sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Name, &t.Difficulty, &t.InstructorID, &duration, &t.DefaultCapacity, &rec, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	t.DefaultDuration = time.Duration(duration) * time.Second
	if rec.Valid && rec.String != "" {
		var r model.Recurrence
		if err := json.Unmarshal([]byte(rec.String), &r); err != nil {
			return nil, fmt.Errorf("decode recurrence of template %s: %w", t.ID, err)
		}
		t.Recurrence = &r
	}
	return &t, nil
}

func encodeRecurrence(r *model.Recurrence) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func scanInstance(s scanner) (*model.ScheduledInstance, error) {
	var (
		inst     model.ScheduledInstance
		duration int64
	)
	if err := s.Scan(&inst.ID, &inst.TemplateID, &inst.InstructorID, &inst.StartsAt, &duration, &inst.Capacity,
		&inst.OccupiedSeats, &inst.Status, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	inst.Duration = time.Duration(duration) * time.Second
	inst.StartsAt = inst.StartsAt.UTC()
	return &inst, nil
}

func (r sqlReader) instances(ctx context.Context, query string, args ...any) ([]model.ScheduledInstance, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ScheduledInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (r sqlReader) GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error) {
	return scanTemplate(r.q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM class_templates WHERE id = ?`, id))
}

func (r sqlReader) ListTemplates(ctx context.Context) ([]model.ClassTemplate, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+templateColumns+` FROM class_templates ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ClassTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r sqlReader) GetInstance(ctx context.Context, id string) (*model.ScheduledInstance, error) {
	return scanInstance(r.q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM class_instances WHERE id = ?`, id))
}

func (r sqlReader) FindInstance(ctx context.Context, templateID string, startsAt time.Time) (*model.ScheduledInstance, error) {
	return scanInstance(r.q.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM class_instances WHERE template_id = ? AND starts_at = ?`,
		templateID, startsAt.UTC()))
}

func (r sqlReader) ListInstances(ctx context.Context, from, to time.Time) ([]model.ScheduledInstance, error) {
	return r.instances(ctx,
		`SELECT `+instanceColumns+` FROM class_instances WHERE starts_at >= ? AND starts_at < ? ORDER BY starts_at, id`,
		from.UTC(), to.UTC())
}

func (r sqlReader) ListInstancesByStatus(ctx context.Context, status model.InstanceStatus, startedBy time.Time) ([]model.ScheduledInstance, error) {
	return r.instances(ctx,
		`SELECT `+instanceColumns+` FROM class_instances WHERE status = ? AND starts_at <= ? ORDER BY starts_at, id`,
		status, startedBy.UTC())
}

func (t *mysqlTx) LockInstance(ctx context.Context, id string) (*model.ScheduledInstance, error) {
	return scanInstance(t.tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM class_instances WHERE id = ? FOR UPDATE`, id))
}

func (t *mysqlTx) InsertTemplate(ctx context.Context, tpl *model.ClassTemplate) error {
	rec, err := encodeRecurrence(tpl.Recurrence)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO class_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.Difficulty, tpl.InstructorID, int64(tpl.DefaultDuration/time.Second),
		tpl.DefaultCapacity, rec, tpl.CreatedAt.UTC(), tpl.UpdatedAt.UTC())
	return translate(err)
}

func (t *mysqlTx) UpdateTemplate(ctx context.Context, tpl *model.ClassTemplate) error {
	rec, err := encodeRecurrence(tpl.Recurrence)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE class_templates
		 SET name = ?, difficulty = ?, instructor_id = ?, default_duration_sec = ?, default_capacity = ?, recurrence = ?, updated_at = ?
		 WHERE id = ?`,
		tpl.Name, tpl.Difficulty, tpl.InstructorID, int64(tpl.DefaultDuration/time.Second), tpl.DefaultCapacity,
		rec, tpl.UpdatedAt.UTC(), tpl.ID)
	if err := expectOne(res, err); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (t *mysqlTx) InsertInstance(ctx context.Context, inst *model.ScheduledInstance) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO class_instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TemplateID, inst.InstructorID, inst.StartsAt.UTC(), int64(inst.Duration/time.Second),
		inst.Capacity, inst.OccupiedSeats, inst.Status, inst.Version, inst.CreatedAt.UTC(), inst.UpdatedAt.UTC())
	return translate(err)
}

func (t *mysqlTx) SetInstanceStatus(ctx context.Context, id string, status model.InstanceStatus, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE class_instances SET status = ?, updated_at = ? WHERE id = ?`, status, now.UTC(), id)
	if err := expectOne(res, err); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// AdjustOccupiedSeats is a compare-and-swap on (version, capacity): the row
// only changes when nobody bumped the version since it was read.
func (t *mysqlTx) AdjustOccupiedSeats(ctx context.Context, id string, delta int, expectedVersion int64, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE class_instances
		 SET occupied_seats = occupied_seats + ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND occupied_seats + ? >= 0 AND occupied_seats + ? <= capacity`,
		delta, now.UTC(), id, expectedVersion, delta, delta)
	if err := expectOne(res, err); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}
