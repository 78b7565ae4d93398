package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicoCuadrado/Barrio-seguro/internal/config"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "registros", "accesos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "accesos.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)

	var version int
	require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)
	require.NoError(t, s.Close())

	// reopening an up-to-date file is a no-op
	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accesos.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), path)
	assert.Error(t, err)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestRegisteredBackend(t *testing.T) {
	cfg := &config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "accesos.db")}
	store, err := database.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	_, ok := store.(*Store)
	assert.True(t, ok)
}

func TestResidents_EnrollListRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	idA, err := s.EnrollResident(ctx, "Ana", "residentes/ana.jpg", []float32{0.1, 0.2})
	require.NoError(t, err)
	idB, err := s.EnrollResident(ctx, "Bruno", "", []float32{0.3, 0.4})
	require.NoError(t, err)
	assert.Less(t, idA, idB)

	_, err = s.EnrollResident(ctx, " ana ", "", []float32{0.5, 0.5})
	assert.ErrorIs(t, err, database.ErrResidentExists)

	residents, err := s.ListActiveResidents(ctx)
	require.NoError(t, err)
	require.Len(t, residents, 2)
	assert.Equal(t, "Ana", residents[0].Name)
	assert.Equal(t, []float32{0.1, 0.2}, residents[0].Embedding)
	assert.Equal(t, "residentes/ana.jpg", residents[0].ImagePath)
	assert.True(t, residents[0].Active)

	n, err := s.CountResidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.DeactivateResident(ctx, "ANA"))
	assert.ErrorIs(t, s.DeactivateResident(ctx, "Ana"), database.ErrResidentNotFound)

	r, err := s.GetResidentByName(ctx, "Ana")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Active)

	n, err = s.CountResidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// removed residents come back under the same id with the new embedding
	id, err := s.EnrollResident(ctx, "Ana", "", []float32{0.9, 0.9})
	require.NoError(t, err)
	assert.Equal(t, idA, id)
	r, err = s.GetResidentByName(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Equal(t, []float32{0.9, 0.9}, r.Embedding)
}

func TestResidents_NotFoundAndEmptyEmbedding(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r, err := s.GetResidentByName(ctx, "Nadie")
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = s.EnrollResident(ctx, "Vacio", "", nil)
	assert.Error(t, err)
}

func TestFindNearestResidents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.EnrollResident(ctx, "Lejos", "", []float32{1, 1})
	require.NoError(t, err)
	_, err = s.EnrollResident(ctx, "Cerca", "", []float32{0.1, 0})
	require.NoError(t, err)

	residents, dists, err := s.FindNearestResidents(ctx, []float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, residents, 1)
	assert.Equal(t, "Cerca", residents[0].Name)
	assert.InDelta(t, 0.1, dists[0], 1e-6)
}

func TestVisitors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id1, err := s.CreateVisitor(ctx, "20260301_100000_aaaa0000", []float32{0.2, 0.2}, first)
	require.NoError(t, err)
	_, err = s.CreateVisitor(ctx, "20260301_100500_bbbb0000", []float32{0.7, 0.7}, first.Add(5*time.Minute))
	require.NoError(t, err)

	_, err = s.CreateVisitor(ctx, "20260301_100000_aaaa0000", []float32{0.2, 0.2}, first)
	assert.Error(t, err, "tokens are unique")

	visitors, err := s.ListActiveVisitors(ctx)
	require.NoError(t, err)
	require.Len(t, visitors, 2)
	assert.Equal(t, first, visitors[0].FirstSeenAt)
	assert.Equal(t, []float32{0.2, 0.2}, visitors[0].Embedding)

	require.NoError(t, s.DeactivateVisitor(ctx, id1))
	visitors, err = s.ListActiveVisitors(ctx)
	require.NoError(t, err)
	require.Len(t, visitors, 1)
	assert.Equal(t, "20260301_100500_bbbb0000", visitors[0].Token)

	assert.ErrorIs(t, s.DeactivateVisitor(ctx, 999), database.ErrVisitorNotFound)
}

func seedEvents(t *testing.T, s *Store, base time.Time) {
	t.Helper()
	ctx := context.Background()
	events := []database.AccessEvent{
		{Label: "Ana", SubjectKind: database.SubjectResident, EventKind: database.EventEntry, At: base},
		{Label: "Ana", SubjectKind: database.SubjectResident, EventKind: database.EventEntry, At: base.Add(time.Hour)},
		{Label: "Bruno", SubjectKind: database.SubjectResident, EventKind: database.EventEntry, At: base.Add(time.Hour + time.Minute)},
		{Label: "Visita_x", SubjectKind: database.SubjectVisitor, EventKind: database.EventEntry, At: base.Add(-48 * time.Hour), ImageRef: "dataset/visitas/visita_x.jpg"},
		{Label: "Visita_x", SubjectKind: database.SubjectVisitor, EventKind: database.EventExit, At: base.Add(-47 * time.Hour)},
	}
	for _, e := range events {
		require.NoError(t, s.AppendEvent(ctx, e))
	}
}

func TestEvents_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedEvents(t, s, base)

	all, err := s.ListEvents(ctx, database.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "Bruno", all[0].Label, "newest first")
	assert.Equal(t, database.EventExit, all[3].EventKind)
	assert.Equal(t, "dataset/visitas/visita_x.jpg", all[4].ImageRef)
	assert.Equal(t, base.Add(-48*time.Hour), all[4].At)

	tests := []struct {
		name   string
		filter database.EventFilter
		want   int
	}{
		{"limit", database.EventFilter{Limit: 2}, 2},
		{"since", database.EventFilter{Since: base}, 3},
		{"subject", database.EventFilter{SubjectKind: database.SubjectVisitor}, 2},
		{"label", database.EventFilter{Label: "Ana"}, 2},
		{"combined", database.EventFilter{Label: "Ana", Since: base.Add(time.Minute)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListEvents(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedEvents(t, s, base)
	_, err := s.EnrollResident(ctx, "Ana", "", []float32{0.1})
	require.NoError(t, err)
	_, err = s.CreateVisitor(ctx, "tok", []float32{0.2}, base)
	require.NoError(t, err)

	summary, err := s.Summary(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActiveResidents)
	assert.Equal(t, 1, summary.ActiveVisitors)
	assert.Equal(t, 5, summary.TotalEvents)
	assert.Equal(t, 3, summary.EventsToday)
	assert.Equal(t, 5, summary.EventsLastWeek)
	require.NotNil(t, summary.FirstEventAt)
	assert.Equal(t, base.Add(-48*time.Hour), *summary.FirstEventAt)
	require.NotNil(t, summary.LastEventAt)
	assert.Equal(t, base.Add(time.Hour+time.Minute), *summary.LastEventAt)
	assert.Equal(t, []database.KindCount{
		{SubjectKind: database.SubjectResident, EventKind: database.EventEntry, Count: 3},
		{SubjectKind: database.SubjectVisitor, EventKind: database.EventEntry, Count: 1},
		{SubjectKind: database.SubjectVisitor, EventKind: database.EventExit, Count: 1},
	}, summary.ByKind)

	hours, err := s.PeakHours(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, hours)
	assert.Equal(t, database.HourCount{Hour: 9, Total: 3, Residents: 2, Visitors: 1}, hours[0])

	days, err := s.VisitsPerDay(ctx, base.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, database.DayCount{Day: "2026-03-10", Total: 3, Residents: 3, DistinctLabels: 2}, days[0])
	assert.Equal(t, database.DayCount{Day: "2026-03-08", Total: 2, Visitors: 2, DistinctLabels: 1}, days[1])

	top, err := s.TopResidents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Ana", top[0].Name)
	assert.Equal(t, 2, top[0].Total)
	assert.Equal(t, base.Add(time.Hour), top[0].LastAt)
}

func TestSummary_EmptyLog(t *testing.T) {
	s := openTestStore(t)
	summary, err := s.Summary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalEvents)
	assert.Nil(t, summary.FirstEventAt)
	assert.Nil(t, summary.LastEventAt)
	assert.Empty(t, summary.ByKind)
}

func TestPurgeEventsBefore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedEvents(t, s, base)

	n, err := s.PurgeEventsBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	remaining, err := s.ListEvents(ctx, database.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}
