package database

import (
	"errors"
	"time"
)

// Persistence errors shared by all backends.
var (
	ErrResidentExists   = errors.New("resident already enrolled")
	ErrResidentNotFound = errors.New("resident not found")
	ErrVisitorNotFound  = errors.New("visitor not found")
	ErrUnknownBackend   = errors.New("unknown database backend")
)

// SubjectKind tells residents apart from transient visitors in the access log.
type SubjectKind string

const (
	SubjectResident SubjectKind = "resident"
	SubjectVisitor  SubjectKind = "visitor"
)

// EventKind is the direction of an access event.
type EventKind string

const (
	EventEntry EventKind = "entry"
	EventExit  EventKind = "exit"
)

// Resident represents an enrolled neighbour stored in the database
type Resident struct {
	ID        int64
	Name      string
	ImagePath string
	Embedding []float32
	Active    bool
	CreatedAt time.Time
}

// VisitorRecord is the durable row behind a transient visitor
type VisitorRecord struct {
	ID          int64
	Token       string
	Embedding   []float32
	FirstSeenAt time.Time
	Active      bool
}

// AccessEvent is an append-only entry of the access log
type AccessEvent struct {
	ID          int64       `json:"id"`
	Label       string      `json:"label"`
	SubjectKind SubjectKind `json:"subject_kind"`
	EventKind   EventKind   `json:"event_kind"`
	At          time.Time   `json:"at"`
	ImageRef    string      `json:"image_ref,omitempty"`
}

// EventFilter narrows access log listings. Zero values mean "no filter".
type EventFilter struct {
	Limit       int
	Since       time.Time
	SubjectKind SubjectKind
	Label       string
}

// KindCount is the number of events per subject and event kind
type KindCount struct {
	SubjectKind SubjectKind `json:"subject_kind"`
	EventKind   EventKind   `json:"event_kind"`
	Count       int         `json:"count"`
}

// Summary contains general access statistics
type Summary struct {
	ActiveResidents int         `json:"active_residents"`
	ActiveVisitors  int         `json:"active_visitors"`
	TotalEvents     int         `json:"total_events"`
	EventsToday     int         `json:"events_today"`
	EventsLastWeek  int         `json:"events_last_week"`
	FirstEventAt    *time.Time  `json:"first_event_at,omitempty"`
	LastEventAt     *time.Time  `json:"last_event_at,omitempty"`
	ByKind          []KindCount `json:"by_kind"`
}

// HourCount is the number of events recorded in one hour of the day (UTC)
type HourCount struct {
	Hour      int `json:"hour"`
	Total     int `json:"total"`
	Residents int `json:"residents"`
	Visitors  int `json:"visitors"`
}

// DayCount is the number of events recorded on one calendar day (UTC)
type DayCount struct {
	Day            string `json:"day"` // YYYY-MM-DD
	Total          int    `json:"total"`
	Residents      int    `json:"residents"`
	Visitors       int    `json:"visitors"`
	DistinctLabels int    `json:"distinct_labels"`
}

// ResidentActivity counts the events logged for one resident
type ResidentActivity struct {
	Name   string    `json:"name"`
	Total  int       `json:"total"`
	LastAt time.Time `json:"last_at"`
}
