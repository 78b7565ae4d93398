package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database/mock"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
)

func TestParseEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		dim     int
		want    *embeddingFile
		wantErr error
	}{
		{
			name: "bare array",
			data: "[0.1, 0.2, 0.3]",
			dim:  3,
			want: &embeddingFile{Embedding: []float32{0.1, 0.2, 0.3}},
		},
		{
			name: "object",
			data: `{"name": "Ana", "image_path": "dataset/residentes/ana.jpg", "embedding": [1, 2]}`,
			want: &embeddingFile{Name: "Ana", ImagePath: "dataset/residentes/ana.jpg", Embedding: []float32{1, 2}},
		},
		{
			name: "leading whitespace",
			data: "\n  [1]\n",
			dim:  1,
			want: &embeddingFile{Embedding: []float32{1}},
		},
		{name: "empty array", data: "[]", wantErr: errEmptyEmbedding},
		{name: "object without embedding", data: `{"name": "Ana"}`, wantErr: errEmptyEmbedding},
		{name: "wrong dimension", data: "[1, 2]", dim: 128, wantErr: facematch.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEmbedding([]byte(tt.data), tt.dim)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseEmbedding([]byte("{not json"), 0)
	assert.Error(t, err)
}

func TestReadEmbedding_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Juan Perez.json")
	require.NoError(t, os.WriteFile(path, []byte("[0.5, 0.5]"), 0o600))

	ef, err := readEmbedding(path, 2)
	require.NoError(t, err)
	assert.Equal(t, "Juan Perez", ef.Name)

	_, err = readEmbedding(filepath.Join(dir, "missing.json"), 2)
	assert.Error(t, err)
}

func TestEventFilter(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f, err := eventFilter(50, "visitor", "Visita_x", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, database.EventFilter{
		Limit:       50,
		Since:       now.Add(-time.Hour),
		SubjectKind: database.SubjectVisitor,
		Label:       "Visita_x",
	}, f)

	f, err = eventFilter(10, "", "", 0, now)
	require.NoError(t, err)
	assert.True(t, f.Since.IsZero())
	assert.Empty(t, f.SubjectKind)

	_, err = eventFilter(10, "guard", "", 0, now)
	assert.Error(t, err)
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()
	db := mock.NewStore()

	out, err := identify(ctx, db, []float32{0, 0}, 0.5, 1)
	require.NoError(t, err)
	assert.False(t, out.Match)
	assert.Empty(t, out.Candidates)

	db.AddResident("Ana", []float32{0, 0})
	db.AddResident("Luis", []float32{1, 1})

	tests := []struct {
		name      string
		query     []float32
		top       int
		wantMatch bool
		wantName  string
		wantRank  []string
	}{
		{name: "closest within tolerance", query: []float32{0.9, 1}, top: 1, wantMatch: true, wantName: "Luis", wantRank: []string{"Luis"}},
		{name: "top lists both", query: []float32{0.9, 1}, top: 5, wantMatch: true, wantName: "Luis", wantRank: []string{"Luis", "Ana"}},
		{name: "top below one is one", query: []float32{0.1, 0}, top: 0, wantMatch: true, wantName: "Ana", wantRank: []string{"Ana"}},
		{name: "nobody within tolerance", query: []float32{5, 5}, top: 2, wantRank: []string{"Luis", "Ana"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := identify(ctx, db, tt.query, 0.5, tt.top)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, out.Match)
			assert.Equal(t, tt.wantName, out.Name)
			names := make([]string, len(out.Candidates))
			for i, c := range out.Candidates {
				names[i] = c.Name
			}
			assert.Equal(t, tt.wantRank, names)
			assert.InDelta(t, out.Candidates[0].Distance, out.Distance, 1e-9)
		})
	}

	_, err = identify(ctx, db, []float32{1, 2, 3}, 0.5, 1)
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)
}

func TestSweepVisitors_ReportsStaleRows(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	db := mock.NewStore()
	db.AddVisitor("20260310T100000-ab12cd34", []float32{1, 1}, now.Add(-2*time.Hour), true)
	db.AddVisitor("20260310T115500-ef56ab78", []float32{2, 2}, now.Add(-5*time.Minute), true)

	opts := gate.DefaultOptions()
	opts.EmbeddingDim = 2
	session, err := gate.New(gate.Deps{Store: db, Clock: func() time.Time { return now }}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	st, err := sweepVisitors(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, 1, st.VisitorsExpired)
	assert.Equal(t, 1, st.EventsRecorded)
	assert.Equal(t, 1, st.ActiveVisitors)

	events := db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Visita_20260310T100000-ab12cd34", events[0].Label)
	assert.Equal(t, database.EventExit, events[0].EventKind)

	active, err := db.ListActiveVisitors(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "20260310T115500-ef56ab78", active[0].Token)
}
