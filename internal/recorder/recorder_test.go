package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database/mock"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func residentEvent(label string, at time.Time) database.AccessEvent {
	return database.AccessEvent{
		Label:       label,
		SubjectKind: database.SubjectResident,
		EventKind:   database.EventEntry,
		At:          at,
	}
}

// P4
func TestRecord_Cooldown(t *testing.T) {
	tests := []struct {
		name   string
		gap    time.Duration
		second bool
	}{
		{"inside cooldown", 29 * time.Second, false},
		{"immediately", 0, false},
		{"exactly cooldown", 30 * time.Second, true},
		{"past cooldown", 31 * time.Second, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := mock.NewStore()
			rec := New(db, WithLogger(zaptest.NewLogger(t)))
			ctx := context.Background()

			first, err := rec.Record(ctx, residentEvent("Ana", t0), 30*time.Second)
			require.NoError(t, err)
			second, err := rec.Record(ctx, residentEvent("Ana", t0.Add(tc.gap)), 30*time.Second)
			require.NoError(t, err)

			assert.True(t, first)
			assert.Equal(t, tc.second, second)
			if tc.second {
				assert.Len(t, db.Events(), 2)
			} else {
				assert.Len(t, db.Events(), 1)
			}
		})
	}
}

func TestRecord_LabelsAreIndependent(t *testing.T) {
	db := mock.NewStore()
	rec := New(db)
	ctx := context.Background()

	ok, err := rec.Record(ctx, residentEvent("Ana", t0), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rec.Record(ctx, residentEvent("Bruno", t0.Add(time.Second)), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// Scenario D: seen every 10s for two minutes with a 30s cooldown.
func TestRecord_RepeatedSightings(t *testing.T) {
	db := mock.NewStore()
	rec := New(db)
	ctx := context.Background()

	var recordedAt []time.Duration
	for offset := time.Duration(0); offset < 2*time.Minute; offset += 10 * time.Second {
		ok, err := rec.Record(ctx, database.AccessEvent{
			Label:       "Visita_20240301_080000_abcd1234",
			SubjectKind: database.SubjectVisitor,
			EventKind:   database.EventEntry,
			At:          t0.Add(offset),
		}, 30*time.Second)
		require.NoError(t, err)
		if ok {
			recordedAt = append(recordedAt, offset)
		}
	}

	assert.Equal(t, []time.Duration{0, 30 * time.Second, 60 * time.Second, 90 * time.Second}, recordedAt)
	assert.Len(t, db.Events(), 4)
}

func TestRecord_AppendFailureLeavesCooldown(t *testing.T) {
	db := mock.NewStore()
	table := NewMemoryCooldown()
	rec := New(db, WithCooldownTable(table))
	ctx := context.Background()

	db.AppendEventError = errors.New("database is locked")
	ok, err := rec.Record(ctx, residentEvent("Ana", t0), 30*time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, table.Len())

	// the next frame can record right away
	db.AppendEventError = nil
	ok, err = rec.Record(ctx, residentEvent("Ana", t0.Add(time.Second)), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingTable struct{ MemoryCooldown }

func (f *failingTable) LastRecorded(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection refused")
}

func TestRecord_UnreadableTableStillRecords(t *testing.T) {
	db := mock.NewStore()
	rec := New(db, WithCooldownTable(&failingTable{MemoryCooldown: MemoryCooldown{last: make(map[string]time.Time)}}))

	ok, err := rec.Record(context.Background(), residentEvent("Ana", t0), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordEntry_BypassesAndSeedsCooldown(t *testing.T) {
	db := mock.NewStore()
	rec := New(db)
	ctx := context.Background()

	ok, err := rec.Record(ctx, residentEvent("Ana", t0), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// forced entry inside the window
	require.NoError(t, rec.RecordEntry(ctx, residentEvent("Ana", t0.Add(time.Second)), 30*time.Second))
	assert.Len(t, db.Events(), 2)

	// the forced entry restarted the window
	ok, err = rec.Record(ctx, residentEvent("Ana", t0.Add(30*time.Second)), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordExit(t *testing.T) {
	db := mock.NewStore()
	table := NewMemoryCooldown()
	rec := New(db, WithCooldownTable(table))
	ctx := context.Background()

	label := "Visita_tok"
	require.NoError(t, rec.RecordEntry(ctx, database.AccessEvent{Label: label, SubjectKind: database.SubjectVisitor, At: t0}, 30*time.Second))
	require.NoError(t, rec.RecordExit(ctx, database.AccessEvent{Label: label, SubjectKind: database.SubjectVisitor, At: t0.Add(time.Second)}))

	events := db.Events()
	require.Len(t, events, 2)
	assert.Equal(t, database.EventEntry, events[0].EventKind)
	assert.Equal(t, database.EventExit, events[1].EventKind)
	assert.Zero(t, table.Len())

	db.AppendEventError = errors.New("read-only file system")
	err := rec.RecordExit(ctx, database.AccessEvent{Label: label, SubjectKind: database.SubjectVisitor, At: t0})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestMemoryCooldown_Prune(t *testing.T) {
	table := NewMemoryCooldown()
	ctx := context.Background()
	require.NoError(t, table.MarkRecorded(ctx, "a", t0, time.Minute))
	require.NoError(t, table.MarkRecorded(ctx, "b", t0.Add(time.Hour), time.Minute))

	assert.Equal(t, 1, table.Prune(t0.Add(time.Minute)))
	_, ok, _ := table.LastRecorded(ctx, "a")
	assert.False(t, ok)
	at, ok, _ := table.LastRecorded(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), at)
}

func TestPruneCooldowns(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryCooldown()
	rec := New(mock.NewStore(), WithCooldownTable(table))
	require.NoError(t, rec.RecordEntry(ctx, database.AccessEvent{Label: "Ana", SubjectKind: database.SubjectResident, At: t0}, 30*time.Second))
	require.NoError(t, rec.RecordEntry(ctx, database.AccessEvent{Label: "Luis", SubjectKind: database.SubjectResident, At: t0.Add(time.Minute)}, 30*time.Second))

	assert.Equal(t, 1, rec.PruneCooldowns(t0.Add(30*time.Second)))
	assert.Equal(t, 1, table.Len())
}
