// Package gate runs a recognition session: it owns the resident index, the
// visitor store, the recorder and the background expiry sweeper.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/config"
	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/identity"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
	"github.com/NicoCuadrado/Barrio-seguro/internal/matcher"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

var (
	ErrAlreadyStarted    = errors.New("session already started")
	ErrClosed            = errors.New("session closed")
	ErrTooManyDetections = errors.New("too many detections in frame")
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CropStore stores and removes visitor crops.
type CropStore interface {
	matcher.CropPersister
	recorder.CropDeleter
	PurgeOlderThan(now time.Time, age time.Duration) (int, error)
}

// Deps are the collaborators of a session.
type Deps struct {
	Store    database.Store
	Crops    CropStore              // optional
	Cooldown recorder.CooldownTable // optional, defaults to in-process
	Logger   *zap.Logger
	Clock    func() time.Time // defaults to time.Now
}

// Options are the session tunables.
type Options struct {
	ResidentTolerance float64
	VisitorTolerance  float64
	VisitorTTL        time.Duration
	Cooldown          time.Duration
	SweepInterval     time.Duration
	CropRetention     time.Duration
	ProcessEveryN     int
	EmbeddingDim      int // every detection, resident and restored visitor must have this length
	HNSW              bool
	// OwnsStore makes Close close the database store.
	OwnsStore bool
}

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		ResidentTolerance: constants.DefaultResidentTolerance,
		VisitorTolerance:  constants.DefaultVisitorTolerance,
		VisitorTTL:        constants.DefaultVisitorTTL,
		Cooldown:          constants.DefaultCooldown,
		SweepInterval:     constants.DefaultSweepInterval,
		CropRetention:     constants.DefaultCropRetention,
		ProcessEveryN:     constants.DefaultProcessEveryN,
		EmbeddingDim:      constants.DefaultEmbeddingDim,
	}
}

// OptionsFromConfig maps the gate configuration to session options.
func OptionsFromConfig(cfg config.GateConfig) Options {
	return Options{
		ResidentTolerance: cfg.ResidentTolerance,
		VisitorTolerance:  cfg.VisitorTolerance,
		VisitorTTL:        cfg.VisitorTTL,
		Cooldown:          cfg.Cooldown,
		SweepInterval:     cfg.SweepInterval,
		CropRetention:     cfg.CropRetention,
		ProcessEveryN:     cfg.ProcessEveryN,
		EmbeddingDim:      cfg.EmbeddingDim,
		HNSW:              cfg.HNSW,
	}
}

// Frame is one camera frame with the faces the feature extractor found in it.
type Frame struct {
	Image      []byte // encoded image, used for new visitor crops
	Detections []matcher.Detection
	At         time.Time // zero means now
}

// FrameResult is the outcome of Process.
type FrameResult struct {
	Number    uint64           `json:"frame"`
	Processed bool             `json:"processed"`
	Results   []matcher.Result `json:"results"`
}

// Session is one init -> active -> teardown run of the gate engine.
type Session struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	clock   func() time.Time
	state   atomic.Int32
	frames  atomic.Uint64
	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stats   *statsCollector
	index   *identity.Index
	store   *visitor.Store
	rec     *recorder.Recorder
	sweeper *recorder.Sweeper
	matcher *matcher.Matcher
}

// New wires a session. Nothing is loaded until Start.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("gate: database store is required")
	}
	if opts.ProcessEveryN < 1 {
		opts.ProcessEveryN = 1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = constants.DefaultSweepInterval
	}
	if opts.VisitorTTL <= 0 {
		opts.VisitorTTL = constants.DefaultVisitorTTL
	}
	if opts.EmbeddingDim <= 0 {
		opts.EmbeddingDim = constants.DefaultEmbeddingDim
	}

	logger := logging.OrNop(deps.Logger)
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Session{
		deps:   deps,
		opts:   opts,
		logger: logger,
		clock:  clock,
	}

	s.index = identity.New(identity.WithHNSW(opts.HNSW), identity.WithLogger(logger))
	s.store = visitor.NewStore(deps.Store, visitor.WithLogger(logger))
	s.rec = recorder.New(deps.Store,
		recorder.WithCooldownTable(deps.Cooldown),
		recorder.WithPersistTimeout(constants.DefaultPersistTimeout),
		recorder.WithLogger(logger))

	var crops matcher.CropPersister
	var cropDeleter recorder.CropDeleter
	if deps.Crops != nil {
		crops = deps.Crops
		cropDeleter = deps.Crops
	}
	s.sweeper = recorder.NewSweeper(s.store, s.rec, deps.Store, cropDeleter, opts.VisitorTTL, logger)
	s.matcher = matcher.New(s.index, s.store, s.rec, crops, matcher.Config{
		ResidentTolerance: opts.ResidentTolerance,
		VisitorTolerance:  opts.VisitorTolerance,
		Cooldown:          opts.Cooldown,
	}, logger)
	s.stats = newStatsCollector()
	return s, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start loads the residents, restores visitors persisted by a previous run and
// launches the periodic sweeper. The sweeper stops when ctx is cancelled or
// Close is called.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.State() {
	case StateActive:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrClosed
	}

	if _, err := s.reloadResidents(ctx); err != nil {
		return err
	}
	if err := s.restoreVisitors(ctx); err != nil {
		return err
	}
	s.purgeCrops()

	now := s.clock()
	s.stats.start(now)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.sweepLoop(runCtx, s.done)

	s.state.Store(int32(StateActive))
	s.logger.Info("gate session started",
		zap.Int("residents", s.index.Len()),
		zap.Int("visitors", s.store.Len()),
		zap.Duration("ttl", s.opts.VisitorTTL),
		zap.Duration("cooldown", s.opts.Cooldown),
		zap.Int("process_every_n", s.opts.ProcessEveryN))
	return nil
}

func (s *Session) restoreVisitors(ctx context.Context) error {
	records, err := s.deps.Store.ListActiveVisitors(ctx)
	if err != nil {
		return fmt.Errorf("listing active visitors: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	now := s.clock()
	stale := s.store.Restore(records, now, s.opts.VisitorTTL, s.opts.EmbeddingDim)
	expired := make([]visitor.Visitor, 0, len(stale))
	for _, r := range stale {
		expired = append(expired, visitor.Visitor{
			ID:          r.ID,
			Token:       r.Token,
			FirstSeenAt: r.FirstSeenAt,
			LastSeenAt:  r.FirstSeenAt,
		})
	}

	report, err := s.sweeper.Expire(ctx, expired, now)
	if err != nil {
		s.logger.Warn("stale visitors not fully expired", zap.Error(err))
	}
	s.stats.restore(len(records)-len(stale), report, err)
	s.logger.Info("visitors restored",
		zap.Int("active", len(records)-len(stale)),
		zap.Int("expired", len(stale)))
	return nil
}

func (s *Session) purgeCrops() {
	if s.deps.Crops == nil || s.opts.CropRetention <= 0 {
		return
	}
	if _, err := s.deps.Crops.PurgeOlderThan(s.clock(), s.opts.CropRetention); err != nil {
		s.logger.Warn("crop purge failed", zap.Error(err))
	}
}

func (s *Session) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires idle visitors now. It runs on the sweeper ticker and can also
// be triggered manually.
func (s *Session) Sweep(ctx context.Context) (recorder.SweepReport, error) {
	now := s.clock()
	report, err := s.sweeper.Sweep(ctx, now)
	if n := s.rec.PruneCooldowns(now.Add(-s.opts.Cooldown)); n > 0 {
		s.logger.Debug("cooldowns pruned", zap.Int("count", n))
	}
	s.stats.sweep(report, err, now)
	return report, err
}

// ReloadResidents swaps in the current set of active residents.
func (s *Session) ReloadResidents(ctx context.Context) (int, error) {
	if s.State() == StateClosed {
		return 0, ErrClosed
	}
	return s.reloadResidents(ctx)
}

func (s *Session) reloadResidents(ctx context.Context) (int, error) {
	residents, err := s.deps.Store.ListActiveResidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing residents: %w", err)
	}
	for _, r := range residents {
		if r.Active && len(r.Embedding) > 0 && len(r.Embedding) != s.opts.EmbeddingDim {
			return 0, fmt.Errorf("%w: resident %q has %d values, expected %d",
				facematch.ErrDimensionMismatch, r.Name, len(r.Embedding), s.opts.EmbeddingDim)
		}
	}
	if err := s.index.Load(residents); err != nil {
		return 0, fmt.Errorf("loading residents: %w", err)
	}
	return s.index.Len(), nil
}

// Process classifies the detections of one frame. Only every ProcessEveryN-th
// frame is processed; skipped frames return Processed=false.
func (s *Session) Process(ctx context.Context, frame Frame) (FrameResult, error) {
	switch s.State() {
	case StateIdle:
		return FrameResult{}, matcher.ErrNotInitialized
	case StateClosed:
		return FrameResult{}, ErrClosed
	}

	n := s.frames.Add(1)
	res := FrameResult{Number: n}
	if (n-1)%uint64(s.opts.ProcessEveryN) != 0 {
		s.stats.frame(false)
		return res, nil
	}
	s.stats.frame(true)

	if len(frame.Detections) > constants.MaxDetectionsPerFrame {
		return res, fmt.Errorf("%w: %d > %d", ErrTooManyDetections, len(frame.Detections), constants.MaxDetectionsPerFrame)
	}

	for i, d := range frame.Detections {
		if d.Vector.Dim() != s.opts.EmbeddingDim {
			return res, fmt.Errorf("detection %d: %w: %d vs %d",
				i, facematch.ErrDimensionMismatch, d.Vector.Dim(), s.opts.EmbeddingDim)
		}
	}

	now := frame.At
	if now.IsZero() {
		now = s.clock()
	}

	dets := make([]matcher.Detection, len(frame.Detections))
	for i, d := range frame.Detections {
		if d.Frame == nil {
			d.Frame = frame.Image
		}
		dets[i] = d
	}

	results, err := s.matcher.ClassifyBatch(ctx, dets, now)
	res.Processed = true
	res.Results = results
	s.stats.results(results)
	if err != nil {
		s.logger.Warn("frame processed with errors", zap.Uint64("frame", n), zap.Error(err))
	}
	return res, err
}

// Visitors returns the live visitors.
func (s *Session) Visitors() []visitor.Visitor {
	return s.store.Active()
}

// Residents returns the loaded resident snapshot.
func (s *Session) Residents() []database.Resident {
	return s.index.Residents()
}

// Stats returns the session statistics.
func (s *Session) Stats() Stats {
	st := s.stats.snapshot()
	st.State = s.State().String()
	st.Residents = s.index.Len()
	st.ActiveVisitors = s.store.Len()
	return st
}

// Close stops the sweeper, logs the session summary and closes the store if
// the session owns it. Calling Close twice is a no-op.
func (s *Session) Close() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	prev := s.State()
	if prev == StateClosed {
		return nil
	}
	s.state.Store(int32(StateClosed))

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	if prev == StateActive {
		st := s.Stats()
		s.logger.Info("gate session closed",
			zap.Duration("duration", s.clock().Sub(st.StartedAt)),
			zap.Uint64("frames_seen", st.FramesSeen),
			zap.Uint64("frames_processed", st.FramesProcessed),
			zap.Int("residents_seen", st.ResidentsSeen),
			zap.Int("visitors_created", st.VisitorsCreated),
			zap.Int("visitors_expired", st.VisitorsExpired),
			zap.Int("events_recorded", st.EventsRecorded))
	}

	if s.opts.OwnsStore {
		if err := s.deps.Store.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
	}
	return nil
}
