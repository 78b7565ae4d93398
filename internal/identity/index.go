// Package identity holds the snapshot of enrolled residents used for matching.
package identity

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

type entry struct {
	resident database.Resident
	vec      facematch.FeatureVector
}

// snapshot is never mutated after it is published.
type snapshot struct {
	entries []entry
	dim     int
	graph   *hnsw.Graph[int] // nil unless HNSW is enabled and the snapshot is large enough
}

// Index is the Known-Identity Index. Reads are lock-free; Load swaps the whole snapshot.
type Index struct {
	snap       atomic.Pointer[snapshot]
	useHNSW    bool
	minHNSW    int
	candidates int
	logger     *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithHNSW enables approximate candidate search for large resident sets.
func WithHNSW(enabled bool) Option {
	return func(x *Index) { x.useHNSW = enabled }
}

// WithHNSWThreshold sets the minimum snapshot size for which the graph is built.
func WithHNSWThreshold(n int) Option {
	return func(x *Index) { x.minHNSW = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// New creates an empty, not yet loaded index.
func New(opts ...Option) *Index {
	x := &Index{
		minHNSW:    constants.HNSWMinResidents,
		candidates: constants.HNSWSearchCandidates,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = logging.OrNop(x.logger)
	return x
}

// Load replaces the snapshot. Inactive residents and residents without an
// embedding are skipped. All embeddings must share one dimensionality.
func (x *Index) Load(residents []database.Resident) error {
	s := &snapshot{entries: make([]entry, 0, len(residents))}
	for _, r := range residents {
		if !r.Active || len(r.Embedding) == 0 {
			continue
		}
		if s.dim == 0 {
			s.dim = len(r.Embedding)
		} else if len(r.Embedding) != s.dim {
			return fmt.Errorf("%w: resident %q has %d values, expected %d",
				facematch.ErrDimensionMismatch, r.Name, len(r.Embedding), s.dim)
		}
		vec := facematch.FeatureVector(r.Embedding).Clone()
		r.Embedding = vec
		s.entries = append(s.entries, entry{resident: r, vec: vec})
	}

	if x.useHNSW && len(s.entries) >= x.minHNSW {
		s.graph = buildGraph(s.entries)
	}

	x.snap.Store(s)
	x.logger.Info("resident index loaded",
		zap.Int("residents", len(s.entries)),
		zap.Bool("hnsw", s.graph != nil))
	return nil
}

func buildGraph(entries []entry) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	for i := range entries {
		g.Add(hnsw.MakeNode(i, []float32(entries[i].vec)))
	}
	return g
}

// Loaded reports whether Load has been called at least once.
func (x *Index) Loaded() bool {
	return x.snap.Load() != nil
}

// Len returns the number of residents in the current snapshot.
func (x *Index) Len() int {
	s := x.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Residents returns a copy of the current snapshot in insertion order.
func (x *Index) Residents() []database.Resident {
	s := x.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]database.Resident, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.resident
	}
	return out
}

// Nearest returns the resident closest to q and its distance. An empty index,
// or one where no distance is finite, returns (nil, +Inf, nil). Equal
// distances resolve to the earliest inserted resident.
func (x *Index) Nearest(q facematch.FeatureVector) (*database.Resident, float64, error) {
	s := x.snap.Load()
	if s == nil || len(s.entries) == 0 {
		return nil, math.Inf(1), nil
	}
	if q.Dim() != s.dim {
		return nil, math.Inf(1), fmt.Errorf("%w: %d vs %d", facematch.ErrDimensionMismatch, q.Dim(), s.dim)
	}

	if s.graph != nil {
		return s.nearestCandidates(q, x.candidates)
	}
	return s.nearestExact(q)
}

func (s *snapshot) nearestExact(q facematch.FeatureVector) (*database.Resident, float64, error) {
	best := -1
	bestDist := math.Inf(1)
	for i := range s.entries {
		d, err := facematch.Distance(q, s.entries[i].vec)
		if err != nil {
			return nil, math.Inf(1), err
		}
		// strict less keeps the lowest insertion index on ties
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil, math.Inf(1), nil
	}
	r := s.entries[best].resident
	return &r, bestDist, nil
}

// nearestCandidates re-scores the HNSW candidates exactly.
func (s *snapshot) nearestCandidates(q facematch.FeatureVector, k int) (*database.Resident, float64, error) {
	neighbors := s.graph.Search([]float32(q), k)
	if len(neighbors) == 0 {
		return s.nearestExact(q)
	}

	best := -1
	bestDist := math.Inf(1)
	for _, n := range neighbors {
		d, err := facematch.Distance(q, s.entries[n.Key].vec)
		if err != nil {
			return nil, math.Inf(1), err
		}
		if d < bestDist || (d == bestDist && n.Key < best) {
			best, bestDist = n.Key, d
		}
	}
	if best < 0 {
		return nil, math.Inf(1), nil
	}
	r := s.entries[best].resident
	return &r, bestDist, nil
}
