package model

import (
	"fmt"
	"strings"
	"time"
)

// Difficulty grades a class template for members browsing the schedule.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyAllLevels    Difficulty = "all_levels"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyAllLevels:
		return true
	}
	return false
}

// InstanceStatus is the lifecycle state of a scheduled class instance.
type InstanceStatus string

const (
	InstanceScheduled  InstanceStatus = "scheduled"
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceCancelled  InstanceStatus = "cancelled"
)

// Recurrence describes the weekly slot a template repeats on.  StartTime
// is a wall clock "HH:MM" interpreted in Location (an IANA zone name,
// UTC when empty).
type Recurrence struct {
	Weekdays  []time.Weekday `json:"weekdays"`
	StartTime string         `json:"start_time"`
	Location  string         `json:"location,omitempty"`
}

// Clock parses StartTime into hour and minute.
func (r Recurrence) Clock() (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(r.StartTime), "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid start_time %q: %w", r.StartTime, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid start_time %q", r.StartTime)
	}
	return h, m, nil
}

// Zone resolves Location, defaulting to UTC.
func (r Recurrence) Zone() (*time.Location, error) {
	if r.Location == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Location)
}

// Matches reports whether the weekday of t is part of the recurrence.
func (r Recurrence) Matches(day time.Weekday) bool {
	for _, w := range r.Weekdays {
		if w == day {
			return true
		}
	}
	return false
}

// ClassTemplate describes a kind of class offered by the studio.  Instances
// copy the template defaults when they are created, so editing a template
// only affects instances generated afterwards.
//
// Fields:
//
//	ID                  – primary key identifier.
//	Name                – display name of the class.
//	Difficulty          – difficulty level.
//	InstructorID        – default instructor for generated instances.
//	DefaultDuration     – default length of an instance.
//	DefaultCapacity     – default number of seats per instance.
//	Recurrence          – optional weekly schedule used by generation.
//	CreatedAt/UpdatedAt – timestamps.
type ClassTemplate struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Difficulty      Difficulty    `json:"difficulty"`
	InstructorID    string        `json:"instructor_id"`
	DefaultDuration time.Duration `json:"default_duration"`
	DefaultCapacity int           `json:"default_capacity"`
	Recurrence      *Recurrence   `json:"recurrence,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ScheduledInstance is one concrete occurrence of a template.  OccupiedSeats
// is maintained by the booking ledger only and Version is bumped on every
// seat count change so concurrent writers can detect lost updates.
//
// Fields:
//
//	ID            – primary key identifier.
//	TemplateID    – template the instance was created from.
//	InstructorID  – instructor teaching this occurrence.
//	StartsAt      – start time (UTC).
//	Duration      – length of the class.
//	Capacity      – maximum number of seats.
//	OccupiedSeats – seats held by confirmed (or completed) bookings.
//	Status        – lifecycle state.
//	Version       – optimistic locking counter for the seat count.
type ScheduledInstance struct {
	ID            string         `json:"id"`
	TemplateID    string         `json:"template_id"`
	InstructorID  string         `json:"instructor_id"`
	StartsAt      time.Time      `json:"starts_at"`
	Duration      time.Duration  `json:"duration"`
	Capacity      int            `json:"capacity"`
	OccupiedSeats int            `json:"occupied_seats"`
	Status        InstanceStatus `json:"status"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// EndsAt returns the end of the class.
func (i *ScheduledInstance) EndsAt() time.Time {
	return i.StartsAt.Add(i.Duration)
}

// Remaining returns the number of free seats.
func (i *ScheduledInstance) Remaining() int {
	return i.Capacity - i.OccupiedSeats
}

// IsFull returns true when no seats remain.
func (i *ScheduledInstance) IsFull() bool {
	return i.OccupiedSeats >= i.Capacity
}
