// Package recorder writes access events to the log, suppressing repeats of
// the same subject inside a cooldown window, and expires idle visitors.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

// ErrPersistence wraps access log append failures.
var ErrPersistence = errors.New("access event persistence failed")

// Recorder is the cooldown gated access event writer.
type Recorder struct {
	mu             sync.Mutex // serializes gate decisions so a label is never double-recorded
	log            database.AccessLog
	table          CooldownTable
	persistTimeout time.Duration
	logger         *zap.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCooldownTable replaces the default in-process table.
func WithCooldownTable(t CooldownTable) Option {
	return func(r *Recorder) { r.table = t }
}

// WithPersistTimeout bounds each append. Zero means no extra bound.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.persistTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// New creates a Recorder writing to log.
func New(log database.AccessLog, opts ...Option) *Recorder {
	r := &Recorder{log: log}
	for _, opt := range opts {
		opt(r)
	}
	if r.table == nil {
		r.table = NewMemoryCooldown()
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Record appends ev unless ev.Label was recorded less than cooldown before ev.At.
// It reports whether the event was written. When the append fails the cooldown
// table is left untouched and the error wraps ErrPersistence.
func (r *Recorder) Record(ctx context.Context, ev database.AccessEvent, cooldown time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok, err := r.table.LastRecorded(ctx, ev.Label)
	if err != nil {
		// treat the label as unseen
		r.logger.Warn("cooldown lookup failed", zap.String("label", ev.Label), zap.Error(err))
		ok = false
	}
	if ok && ev.At.Sub(last) < cooldown {
		return false, nil
	}

	if err := r.append(ctx, ev); err != nil {
		return false, err
	}
	r.mark(ctx, ev.Label, ev.At, cooldown)
	return true, nil
}

// RecordEntry appends an entry event regardless of cooldown and starts the
// label's cooldown window.
func (r *Recorder) RecordEntry(ctx context.Context, ev database.AccessEvent, cooldown time.Duration) error {
	ev.EventKind = database.EventEntry

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.append(ctx, ev); err != nil {
		return err
	}
	r.mark(ctx, ev.Label, ev.At, cooldown)
	return nil
}

// RecordExit appends an exit event regardless of cooldown. The label is then
// forgotten since an expired visitor never returns under the same label.
func (r *Recorder) RecordExit(ctx context.Context, ev database.AccessEvent) error {
	ev.EventKind = database.EventExit

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.append(ctx, ev); err != nil {
		return err
	}
	if err := r.table.Forget(ctx, ev.Label); err != nil {
		r.logger.Warn("cooldown forget failed", zap.String("label", ev.Label), zap.Error(err))
	}
	return nil
}

func (r *Recorder) append(ctx context.Context, ev database.AccessEvent) error {
	if r.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.persistTimeout)
		defer cancel()
	}
	if err := r.log.AppendEvent(ctx, ev); err != nil {
		r.logger.Error("access event dropped",
			zap.String("label", ev.Label),
			zap.String("event", string(ev.EventKind)),
			zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ErrPersistence, ev.EventKind, ev.Label, err)
	}
	r.logger.Info("access recorded",
		zap.String("label", ev.Label),
		zap.String("subject", string(ev.SubjectKind)),
		zap.String("event", string(ev.EventKind)),
		zap.Time("at", ev.At))
	return nil
}

func (r *Recorder) mark(ctx context.Context, label string, at time.Time, cooldown time.Duration) {
	if err := r.table.MarkRecorded(ctx, label, at, cooldown); err != nil {
		r.logger.Warn("cooldown update failed", zap.String("label", label), zap.Error(err))
	}
}

// pruner is implemented by cooldown tables that keep entries until told otherwise.
type pruner interface {
	Prune(cutoff time.Time) int
}

// PruneCooldowns drops cooldown entries recorded before cutoff from tables
// that do not expire them on their own. It returns the number dropped.
func (r *Recorder) PruneCooldowns(cutoff time.Time) int {
	p, ok := r.table.(pruner)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.Prune(cutoff)
}
