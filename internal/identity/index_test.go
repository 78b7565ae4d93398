package identity

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

func resident(id int64, name string, vec ...float32) database.Resident {
	return database.Resident{ID: id, Name: name, Embedding: vec, Active: true}
}

func TestNearest_Empty(t *testing.T) {
	x := New()
	assert.False(t, x.Loaded())

	r, d, err := x.Nearest(facematch.FeatureVector{1, 2})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.True(t, math.IsInf(d, 1))

	require.NoError(t, x.Load(nil))
	assert.True(t, x.Loaded())
	r, d, err = x.Nearest(facematch.FeatureVector{1, 2})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.True(t, math.IsInf(d, 1))
}

func TestNearest_NoFiniteDistance(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{
		resident(1, "Ana", 0, 0),
		resident(2, "Bruno", 1, 0),
	}))

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name string
		q    facematch.FeatureVector
	}{
		{name: "nan", q: facematch.FeatureVector{nan, 0}},
		{name: "inf", q: facematch.FeatureVector{inf, inf}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				r   *database.Resident
				d   float64
				err error
			)
			require.NotPanics(t, func() { r, d, err = x.Nearest(tt.q) })
			require.NoError(t, err)
			assert.Nil(t, r)
			assert.True(t, math.IsInf(d, 1))
		})
	}
}

func TestNearest_PicksMinimum(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{
		resident(1, "Ana", 0, 0),
		resident(2, "Bruno", 1, 0),
		resident(3, "Carla", 0, 3),
	}))

	r, d, err := x.Nearest(facematch.FeatureVector{0.9, 0.1})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "Bruno", r.Name)
	assert.InDelta(t, math.Sqrt(0.02), d, 1e-6)
}

func TestNearest_TieBreakByInsertionOrder(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{
		resident(7, "Zoe", 1, 0),
		resident(3, "Ana", -1, 0),
	}))

	r, d, err := x.Nearest(facematch.FeatureVector{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "Zoe", r.Name, "equal distances resolve to the first inserted resident")
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestLoad_SkipsInactive(t *testing.T) {
	x := New()
	inactive := resident(1, "Old", 0, 0)
	inactive.Active = false
	require.NoError(t, x.Load([]database.Resident{inactive, resident(2, "Ana", 5, 5)}))

	assert.Equal(t, 1, x.Len())
	r, _, err := x.Nearest(facematch.FeatureVector{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "Ana", r.Name)
}

func TestLoad_RejectsMixedDimensions(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{resident(1, "Ana", 1, 1)}))

	err := x.Load([]database.Resident{resident(1, "Ana", 1, 1), resident(2, "Bruno", 1, 1, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, facematch.ErrDimensionMismatch))
	assert.Equal(t, 1, x.Len(), "failed load keeps the previous snapshot")
}

func TestNearest_DimensionMismatch(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{resident(1, "Ana", 1, 1)}))

	_, _, err := x.Nearest(facematch.FeatureVector{1, 1, 1})
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)
}

func TestLoad_CopiesEmbeddings(t *testing.T) {
	emb := []float32{1, 1}
	x := New()
	require.NoError(t, x.Load([]database.Resident{resident(1, "Ana", emb...)}))
	emb[0] = 100

	_, d, err := x.Nearest(facematch.FeatureVector{1, 1})
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestNearest_ConcurrentReload(t *testing.T) {
	x := New()
	require.NoError(t, x.Load([]database.Resident{resident(1, "Ana", 0, 0)}))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				_, _, err := x.Nearest(facematch.FeatureVector{float32(i), float32(j)})
				assert.NoError(t, err)
			}
		}()
	}
	for j := range 50 {
		require.NoError(t, x.Load([]database.Resident{
			resident(1, "Ana", 0, 0),
			resident(int64(j+2), "Visitante", float32(j), 1),
		}))
	}
	wg.Wait()
}

func TestNew_HNSWDefaults(t *testing.T) {
	x := New()
	assert.False(t, x.useHNSW)
	assert.Equal(t, constants.HNSWMinResidents, x.minHNSW)
	assert.Equal(t, constants.HNSWSearchCandidates, x.candidates)

	x = New(WithHNSW(true), WithHNSWThreshold(4))
	assert.True(t, x.useHNSW)
	assert.Equal(t, 4, x.minHNSW)
}

func TestNearest_HNSWMatchesExact(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 16

	var residents []database.Resident
	for i := range 64 {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(i*10) + rng.Float32()
		}
		residents = append(residents, resident(int64(i+1), "r", vec...))
	}

	exact := New()
	approx := New(WithHNSW(true), WithHNSWThreshold(1))
	require.NoError(t, exact.Load(residents))
	require.NoError(t, approx.Load(residents))

	// Clusters are far apart, so the true nearest neighbour is always among the candidates.
	for _, target := range []int{0, 13, 31, 63} {
		q := facematch.FeatureVector(residents[target].Embedding).Clone()
		q[0] += 0.01

		want, wantDist, err := exact.Nearest(q)
		require.NoError(t, err)
		got, gotDist, err := approx.Nearest(q)
		require.NoError(t, err)

		assert.Equal(t, want.ID, got.ID)
		assert.InDelta(t, wantDist, gotDist, 1e-9)
	}
}
