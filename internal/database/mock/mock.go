// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

// Store is an in-memory implementation of database.Store
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	residents []database.Resident
	visitors  []database.VisitorRecord
	events    []database.AccessEvent
	closed    bool

	// Error injection
	EnrollError            error
	DeactivateError        error
	ListResidentsError     error
	CreateVisitorError     error
	DeactivateVisitorError error
	ListVisitorsError      error
	AppendEventError       error
	ListEventsError        error
	StatsError             error
	PurgeError             error

	// Call counters
	CreateVisitorCalls     int
	DeactivateVisitorCalls int
	AppendEventCalls       int
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new empty mock store
func NewStore() *Store {
	return &Store{}
}

func (m *Store) id() int64 {
	m.nextID++
	return m.nextID
}

// AddResident adds an active resident directly, bypassing EnrollError
func (m *Store) AddResident(name string, embedding []float32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.residents = append(m.residents, database.Resident{
		ID:        id,
		Name:      name,
		Embedding: embedding,
		Active:    true,
		CreatedAt: time.Now(),
	})
	return id
}

// AddVisitor adds a visitor record directly, bypassing CreateVisitorError
func (m *Store) AddVisitor(token string, embedding []float32, firstSeenAt time.Time, active bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.visitors = append(m.visitors, database.VisitorRecord{
		ID:          id,
		Token:       token,
		Embedding:   embedding,
		FirstSeenAt: firstSeenAt,
		Active:      active,
	})
	return id
}

// Events returns a copy of all appended events in insertion order
func (m *Store) Events() []database.AccessEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AccessEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Visitors returns a copy of all visitor records, active or not
func (m *Store) Visitors() []database.VisitorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.VisitorRecord, len(m.visitors))
	copy(out, m.visitors)
	return out
}

// Closed reports whether Close was called
func (m *Store) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// ListActiveResidents returns active residents in insertion order
func (m *Store) ListActiveResidents(ctx context.Context) ([]database.Resident, error) {
	if m.ListResidentsError != nil {
		return nil, m.ListResidentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Resident
	for _, r := range m.residents {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetResidentByName returns the resident whose normalized name matches, or nil
func (m *Store) GetResidentByName(ctx context.Context, name string) (*database.Resident, error) {
	if m.ListResidentsError != nil {
		return nil, m.ListResidentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.residents {
		if facematch.SameName(r.Name, name) {
			res := r
			return &res, nil
		}
	}
	return nil, nil
}

// CountResidents returns the number of active residents
func (m *Store) CountResidents(ctx context.Context) (int, error) {
	residents, err := m.ListActiveResidents(ctx)
	if err != nil {
		return 0, err
	}
	return len(residents), nil
}

// FindNearestResidents returns active residents ordered by Euclidean distance
func (m *Store) FindNearestResidents(ctx context.Context, embedding []float32, limit int) ([]database.Resident, []float64, error) {
	residents, err := m.ListActiveResidents(ctx)
	if err != nil {
		return nil, nil, err
	}
	return database.RankResidents(residents, embedding, limit)
}

// EnrollResident adds a resident or reactivates a removed one
func (m *Store) EnrollResident(ctx context.Context, name, imagePath string, embedding []float32) (int64, error) {
	if m.EnrollError != nil {
		return 0, m.EnrollError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.residents {
		if !facematch.SameName(r.Name, name) {
			continue
		}
		if r.Active {
			return 0, fmt.Errorf("%w: %s", database.ErrResidentExists, name)
		}
		m.residents[i].Active = true
		m.residents[i].ImagePath = imagePath
		m.residents[i].Embedding = embedding
		return r.ID, nil
	}
	id := m.id()
	m.residents = append(m.residents, database.Resident{
		ID:        id,
		Name:      name,
		ImagePath: imagePath,
		Embedding: embedding,
		Active:    true,
		CreatedAt: time.Now(),
	})
	return id, nil
}

// DeactivateResident marks a resident inactive
func (m *Store) DeactivateResident(ctx context.Context, name string) error {
	if m.DeactivateError != nil {
		return m.DeactivateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.residents {
		if r.Active && facematch.SameName(r.Name, name) {
			m.residents[i].Active = false
			return nil
		}
	}
	return fmt.Errorf("%w: %s", database.ErrResidentNotFound, name)
}

// CreateVisitor stores a new active visitor
func (m *Store) CreateVisitor(ctx context.Context, token string, embedding []float32, firstSeenAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateVisitorCalls++
	if m.CreateVisitorError != nil {
		return 0, m.CreateVisitorError
	}
	id := m.id()
	m.visitors = append(m.visitors, database.VisitorRecord{
		ID:          id,
		Token:       token,
		Embedding:   embedding,
		FirstSeenAt: firstSeenAt,
		Active:      true,
	})
	return id, nil
}

// DeactivateVisitor marks a visitor inactive
func (m *Store) DeactivateVisitor(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeactivateVisitorCalls++
	if m.DeactivateVisitorError != nil {
		return m.DeactivateVisitorError
	}
	for i := range m.visitors {
		if m.visitors[i].ID == id {
			m.visitors[i].Active = false
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", database.ErrVisitorNotFound, id)
}

// ListActiveVisitors returns active visitors in insertion order
func (m *Store) ListActiveVisitors(ctx context.Context) ([]database.VisitorRecord, error) {
	if m.ListVisitorsError != nil {
		return nil, m.ListVisitorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.VisitorRecord
	for _, v := range m.visitors {
		if v.Active {
			out = append(out, v)
		}
	}
	return out, nil
}

// AppendEvent appends an event to the log
func (m *Store) AppendEvent(ctx context.Context, event database.AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendEventCalls++
	if m.AppendEventError != nil {
		return m.AppendEventError
	}
	event.ID = m.id()
	m.events = append(m.events, event)
	return nil
}

// ListEvents returns events newest first
func (m *Store) ListEvents(ctx context.Context, filter database.EventFilter) ([]database.AccessEvent, error) {
	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AccessEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if !filter.Since.IsZero() && e.At.Before(filter.Since) {
			continue
		}
		if filter.SubjectKind != "" && e.SubjectKind != filter.SubjectKind {
			continue
		}
		if filter.Label != "" && e.Label != filter.Label {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Summary computes general statistics over the in-memory log
func (m *Store) Summary(ctx context.Context, now time.Time) (*database.Summary, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &database.Summary{}
	for _, r := range m.residents {
		if r.Active {
			s.ActiveResidents++
		}
	}
	for _, v := range m.visitors {
		if v.Active {
			s.ActiveVisitors++
		}
	}

	y, mo, d := now.UTC().Date()
	dayStart := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	weekStart := now.Add(-7 * 24 * time.Hour)
	byKind := make(map[[2]string]int)
	for _, e := range m.events {
		s.TotalEvents++
		if !e.At.Before(dayStart) {
			s.EventsToday++
		}
		if !e.At.Before(weekStart) {
			s.EventsLastWeek++
		}
		at := e.At
		if s.FirstEventAt == nil || at.Before(*s.FirstEventAt) {
			s.FirstEventAt = &at
		}
		if s.LastEventAt == nil || at.After(*s.LastEventAt) {
			s.LastEventAt = &at
		}
		byKind[[2]string{string(e.SubjectKind), string(e.EventKind)}]++
	}
	for k, n := range byKind {
		s.ByKind = append(s.ByKind, database.KindCount{
			SubjectKind: database.SubjectKind(k[0]),
			EventKind:   database.EventKind(k[1]),
			Count:       n,
		})
	}
	sort.Slice(s.ByKind, func(i, j int) bool {
		if s.ByKind[i].SubjectKind != s.ByKind[j].SubjectKind {
			return s.ByKind[i].SubjectKind < s.ByKind[j].SubjectKind
		}
		return s.ByKind[i].EventKind < s.ByKind[j].EventKind
	})
	return s, nil
}

// PeakHours returns per-hour counts, busiest first
func (m *Store) PeakHours(ctx context.Context) ([]database.HourCount, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hours := make(map[int]*database.HourCount)
	for _, e := range m.events {
		h := e.At.UTC().Hour()
		hc, ok := hours[h]
		if !ok {
			hc = &database.HourCount{Hour: h}
			hours[h] = hc
		}
		hc.Total++
		if e.SubjectKind == database.SubjectResident {
			hc.Residents++
		} else {
			hc.Visitors++
		}
	}
	out := make([]database.HourCount, 0, len(hours))
	for _, hc := range hours {
		out = append(out, *hc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

// VisitsPerDay returns per-day counts since the given time, newest first
func (m *Store) VisitsPerDay(ctx context.Context, since time.Time) ([]database.DayCount, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	days := make(map[string]*database.DayCount)
	labels := make(map[string]map[string]struct{})
	for _, e := range m.events {
		if e.At.Before(since) {
			continue
		}
		key := e.At.UTC().Format("2006-01-02")
		dc, ok := days[key]
		if !ok {
			dc = &database.DayCount{Day: key}
			days[key] = dc
			labels[key] = make(map[string]struct{})
		}
		dc.Total++
		if e.SubjectKind == database.SubjectResident {
			dc.Residents++
		} else {
			dc.Visitors++
		}
		labels[key][e.Label] = struct{}{}
	}
	out := make([]database.DayCount, 0, len(days))
	for key, dc := range days {
		dc.DistinctLabels = len(labels[key])
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out, nil
}

// TopResidents returns the residents with the most events
func (m *Store) TopResidents(ctx context.Context, limit int) ([]database.ResidentActivity, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	activity := make(map[string]*database.ResidentActivity)
	for _, e := range m.events {
		if e.SubjectKind != database.SubjectResident {
			continue
		}
		a, ok := activity[e.Label]
		if !ok {
			a = &database.ResidentActivity{Name: e.Label}
			activity[e.Label] = a
		}
		a.Total++
		if e.At.After(a.LastAt) {
			a.LastAt = e.At
		}
	}
	out := make([]database.ResidentActivity, 0, len(activity))
	for _, a := range activity {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeEventsBefore removes events older than cutoff
func (m *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeError != nil {
		return 0, m.PurgeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, e := range m.events {
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return removed, nil
}

// Close marks the store as closed
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

