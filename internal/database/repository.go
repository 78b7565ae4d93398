package database

import (
	"context"
	"time"
)

// ResidentReader provides read-only access to enrolled residents
type ResidentReader interface {
	// ListActiveResidents returns every active resident ordered by enrollment (id)
	ListActiveResidents(ctx context.Context) ([]Resident, error)
	// GetResidentByName looks a resident up by normalized name, returns nil if not found
	GetResidentByName(ctx context.Context, name string) (*Resident, error)
	// CountResidents returns the number of active residents
	CountResidents(ctx context.Context) (int, error)
	// FindNearestResidents returns up to limit active residents ordered by Euclidean distance
	FindNearestResidents(ctx context.Context, embedding []float32, limit int) ([]Resident, []float64, error)
}

// ResidentWriter provides write access to residents
type ResidentWriter interface {
	ResidentReader

	// EnrollResident stores a new resident. A previously removed resident with the same
	// name is reactivated with the new embedding. Returns ErrResidentExists when an
	// active resident already uses the name.
	EnrollResident(ctx context.Context, name, imagePath string, embedding []float32) (int64, error)

	// DeactivateResident logically removes a resident. Returns ErrResidentNotFound when
	// no active resident has the name.
	DeactivateResident(ctx context.Context, name string) error
}

// VisitorRepository persists transient visitor records
type VisitorRepository interface {
	// CreateVisitor stores a new active visitor and returns its id
	CreateVisitor(ctx context.Context, token string, embedding []float32, firstSeenAt time.Time) (int64, error)
	// DeactivateVisitor marks a visitor as inactive
	DeactivateVisitor(ctx context.Context, id int64) error
	// ListActiveVisitors returns all active visitors ordered by id
	ListActiveVisitors(ctx context.Context) ([]VisitorRecord, error)
}

// AccessLog is the append-only log of entry and exit events
type AccessLog interface {
	// AppendEvent stores an event
	AppendEvent(ctx context.Context, event AccessEvent) error
	// ListEvents returns events newest first
	ListEvents(ctx context.Context, filter EventFilter) ([]AccessEvent, error)
}

// StatsReader aggregates the access log
type StatsReader interface {
	// Summary returns general statistics; "today" and "last week" are relative to now
	Summary(ctx context.Context, now time.Time) (*Summary, error)
	// PeakHours returns event counts per hour of day, busiest first
	PeakHours(ctx context.Context) ([]HourCount, error)
	// VisitsPerDay returns event counts per day since the given time, newest first
	VisitsPerDay(ctx context.Context, since time.Time) ([]DayCount, error)
	// TopResidents returns the residents with the most events
	TopResidents(ctx context.Context, limit int) ([]ResidentActivity, error)
}

// Purger removes old access log entries
type Purger interface {
	// PurgeEventsBefore deletes events older than cutoff and returns the count deleted
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles every capability a backend provides
type Store interface {
	ResidentWriter
	VisitorRepository
	AccessLog
	StatsReader
	Purger

	// Close releases the backend's connections
	Close() error
}
