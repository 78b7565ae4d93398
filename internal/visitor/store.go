// Package visitor keeps the live set of transient visitors, keyed by face
// similarity instead of exact identity, with TTL based expiry.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

// ErrPersistence is returned when the durable write for a new visitor fails.
var ErrPersistence = errors.New("visitor persistence failed")

// LabelPrefix prefixes the token in a visitor's access log label.
const LabelPrefix = "Visita_"

const tokenTimeLayout = "20060102_150405"

// Visitor is a transient identity. Vector is shared with the store and must not be modified.
type Visitor struct {
	ID          int64
	Token       string
	Vector      facematch.FeatureVector
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Label returns the stable access log label for the visitor.
func (v Visitor) Label() string {
	return LabelPrefix + v.Token
}

// NewToken builds a visitor token from the creation time plus a random suffix,
// e.g. 20240105_174502_1a2b3c4d.
func NewToken(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format(tokenTimeLayout) + "_" + suffix
}

// Persister durably creates visitor records. database.VisitorRepository satisfies it.
type Persister interface {
	CreateVisitor(ctx context.Context, token string, embedding []float32, firstSeenAt time.Time) (int64, error)
}

type entry struct {
	v       Visitor
	pending bool // inserted, durable write not yet confirmed
}

// Store is the Temporary Visitor Store. All mutations go through mu; durable
// writes happen outside of it.
type Store struct {
	mu        sync.Mutex
	entries   []*entry // insertion order
	persister Persister
	newToken  func(time.Time) string
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTokenFunc overrides token generation.
func WithTokenFunc(fn func(time.Time) string) Option {
	return func(s *Store) { s.newToken = fn }
}

// NewStore creates an empty store. A nil persister keeps visitors in memory only.
func NewStore(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		newToken:  NewToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// MatchOrCreate returns the first visitor, in insertion order, within tolerance
// of q and refreshes its LastSeenAt. When none matches a new visitor is created
// and persisted; if persisting fails the new entry is removed again and the
// error wraps ErrPersistence.
func (s *Store) MatchOrCreate(ctx context.Context, q facematch.FeatureVector, tolerance float64, now time.Time) (Visitor, bool, error) {
	s.mu.Lock()
	for _, e := range s.entries {
		ok, _, err := facematch.Within(q, e.v.Vector, tolerance)
		if err != nil {
			s.mu.Unlock()
			return Visitor{}, false, err
		}
		if ok {
			if now.After(e.v.LastSeenAt) {
				e.v.LastSeenAt = now
			}
			v := e.v
			s.mu.Unlock()
			return v, false, nil
		}
	}

	e := &entry{
		v: Visitor{
			Token:       s.newToken(now),
			Vector:      q.Clone(),
			FirstSeenAt: now,
			LastSeenAt:  now,
		},
		pending: true,
	}
	s.entries = append(s.entries, e)
	token, vec := e.v.Token, e.v.Vector
	s.mu.Unlock()

	var id int64
	if s.persister != nil {
		var err error
		id, err = s.persister.CreateVisitor(ctx, token, vec, now)
		if err != nil {
			s.remove(e)
			s.logger.Warn("visitor creation rolled back", zap.String("token", token), zap.Error(err))
			return Visitor{}, false, fmt.Errorf("%w: token %s: %w", ErrPersistence, token, err)
		}
	}

	s.mu.Lock()
	e.v.ID = id
	e.pending = false
	v := e.v
	s.mu.Unlock()

	s.logger.Debug("visitor created", zap.String("token", token), zap.Int64("id", id))
	return v, true, nil
}

func (s *Store) remove(target *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e == target {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// SweepExpired removes and returns every visitor with now - LastSeenAt > ttl,
// in insertion order. Entries still being persisted are never swept.
func (s *Store) SweepExpired(now time.Time, ttl time.Duration) []Visitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Visitor
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.pending && now.Sub(e.v.LastSeenAt) > ttl {
			expired = append(expired, e.v)
			continue
		}
		kept = append(kept, e)
	}
	// drop references held past the new length
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return expired
}

// Restore loads persisted active visitors after a restart. Records already
// past ttl at now, and records whose embedding is empty or not dim long (when
// dim > 0), are not loaded and are returned so the caller can expire them.
// Tokens already present are skipped. LastSeenAt starts at FirstSeenAt.
func (s *Store) Restore(records []database.VisitorRecord, now time.Time, ttl time.Duration, dim int) []database.VisitorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		known[e.v.Token] = struct{}{}
	}

	var stale []database.VisitorRecord
	for _, r := range records {
		if !r.Active {
			continue
		}
		if _, ok := known[r.Token]; ok {
			continue
		}
		if now.Sub(r.FirstSeenAt) > ttl || len(r.Embedding) == 0 || (dim > 0 && len(r.Embedding) != dim) {
			stale = append(stale, r)
			continue
		}
		s.entries = append(s.entries, &entry{v: Visitor{
			ID:          r.ID,
			Token:       r.Token,
			Vector:      facematch.FeatureVector(r.Embedding).Clone(),
			FirstSeenAt: r.FirstSeenAt,
			LastSeenAt:  r.FirstSeenAt,
		}})
		known[r.Token] = struct{}{}
	}
	return stale
}

// Active returns a snapshot of the confirmed visitors in insertion order.
func (s *Store) Active() []Visitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Visitor, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.pending {
			out = append(out, e.v)
		}
	}
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
