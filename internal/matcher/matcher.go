// Package matcher classifies detected faces as residents, returning visitors
// or new visitors and routes them to the access event recorder.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

// ErrNotInitialized is returned when the resident index or the visitor store is not ready.
var ErrNotInitialized = errors.New("matcher not initialized")

// Kind is the classification of a detection.
type Kind string

const (
	KindResident         Kind = "resident"
	KindReturningVisitor Kind = "returning_visitor"
	KindNewVisitor       Kind = "new_visitor"
)

// Detection is one face found in a frame. Frame holds the encoded frame image
// and is only needed to store the crop of a new visitor.
type Detection struct {
	Vector facematch.FeatureVector
	Region facematch.Region
	Frame  []byte
}

// Result is the outcome of classifying one detection.
type Result struct {
	Kind     Kind             `json:"kind,omitempty"`
	Label    string           `json:"label,omitempty"`
	Distance float64          `json:"distance"`
	Region   facematch.Region `json:"region"`
	Visitor  *visitor.Visitor `json:"-"`
	Recorded bool             `json:"recorded"`
	CropPath string           `json:"crop_path,omitempty"`
	Err      error            `json:"-"`
}

// ResidentIndex looks up the closest enrolled resident.
type ResidentIndex interface {
	Loaded() bool
	Nearest(q facematch.FeatureVector) (*database.Resident, float64, error)
}

// VisitorStore finds or creates transient visitors.
type VisitorStore interface {
	MatchOrCreate(ctx context.Context, q facematch.FeatureVector, tolerance float64, now time.Time) (visitor.Visitor, bool, error)
}

// EventRecorder writes access events.
type EventRecorder interface {
	Record(ctx context.Context, ev database.AccessEvent, cooldown time.Duration) (bool, error)
	RecordEntry(ctx context.Context, ev database.AccessEvent, cooldown time.Duration) error
}

// CropPersister stores the face crop of a new visitor.
type CropPersister interface {
	PersistCrop(ctx context.Context, token string, frame []byte, region facematch.Region) (string, error)
}

// Config holds the matching thresholds.
type Config struct {
	ResidentTolerance float64
	VisitorTolerance  float64
	Cooldown          time.Duration
}

// Matcher combines the resident index, the visitor store and the recorder.
type Matcher struct {
	index  ResidentIndex
	store  VisitorStore
	rec    EventRecorder
	crops  CropPersister // optional
	cfg    Config
	logger *zap.Logger
}

// New creates a Matcher. crops may be nil, in which case no crops are stored.
func New(index ResidentIndex, store VisitorStore, rec EventRecorder, crops CropPersister, cfg Config, logger *zap.Logger) *Matcher {
	return &Matcher{
		index:  index,
		store:  store,
		rec:    rec,
		crops:  crops,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}
}

func (m *Matcher) ready() bool {
	return m.index != nil && m.index.Loaded() && m.store != nil && m.rec != nil
}

// Classify resolves one detection: resident first, then an already seen
// visitor, otherwise a new visitor. Recording errors are returned together
// with the classified result.
func (m *Matcher) Classify(ctx context.Context, det Detection, now time.Time) (Result, error) {
	if !m.ready() {
		return Result{}, ErrNotInitialized
	}

	res := Result{Region: det.Region}

	resident, dist, err := m.index.Nearest(det.Vector)
	if err != nil {
		return res, err
	}
	if resident != nil && dist <= m.cfg.ResidentTolerance {
		res.Kind = KindResident
		res.Label = resident.Name
		res.Distance = dist
		res.Recorded, err = m.rec.Record(ctx, database.AccessEvent{
			Label:       resident.Name,
			SubjectKind: database.SubjectResident,
			EventKind:   database.EventEntry,
			At:          now,
		}, m.cfg.Cooldown)
		return res, err
	}

	v, isNew, err := m.store.MatchOrCreate(ctx, det.Vector, m.cfg.VisitorTolerance, now)
	if err != nil {
		return res, err
	}
	res.Visitor = &v
	res.Label = v.Label()

	if !isNew {
		res.Kind = KindReturningVisitor
		res.Distance, _ = facematch.Distance(det.Vector, v.Vector)
		res.Recorded, err = m.rec.Record(ctx, database.AccessEvent{
			Label:       res.Label,
			SubjectKind: database.SubjectVisitor,
			EventKind:   database.EventEntry,
			At:          now,
		}, m.cfg.Cooldown)
		return res, err
	}

	res.Kind = KindNewVisitor
	if m.crops != nil && len(det.Frame) > 0 {
		path, cropErr := m.crops.PersistCrop(ctx, v.Token, det.Frame, det.Region)
		if cropErr != nil {
			m.logger.Warn("visitor crop not stored", zap.String("token", v.Token), zap.Error(cropErr))
		} else {
			res.CropPath = path
		}
	}

	err = m.rec.RecordEntry(ctx, database.AccessEvent{
		Label:       res.Label,
		SubjectKind: database.SubjectVisitor,
		EventKind:   database.EventEntry,
		At:          now,
		ImageRef:    res.CropPath,
	}, m.cfg.Cooldown)
	res.Recorded = err == nil
	return res, err
}

// ClassifyBatch classifies the detections of one frame in order. Errors are
// per detection and joined; a dimension mismatch aborts the remaining
// detections. The returned results cover every detection that was attempted.
func (m *Matcher) ClassifyBatch(ctx context.Context, dets []Detection, now time.Time) ([]Result, error) {
	if !m.ready() {
		return nil, ErrNotInitialized
	}

	results := make([]Result, 0, len(dets))
	var errs []error
	for i, det := range dets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := m.Classify(ctx, det, now)
		if err != nil {
			err = fmt.Errorf("detection %d: %w", i, err)
			res.Err = err
			errs = append(errs, err)
		}
		results = append(results, res)

		if err != nil && errors.Is(err, facematch.ErrDimensionMismatch) {
			m.logger.Error("batch aborted", zap.Int("detection", i), zap.Error(err))
			break
		}
	}
	return results, errors.Join(errs...)
}
