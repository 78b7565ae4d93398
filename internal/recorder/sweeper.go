package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

// ExpiringStore is the part of the visitor store the sweeper drives.
type ExpiringStore interface {
	SweepExpired(now time.Time, ttl time.Duration) []visitor.Visitor
}

// VisitorDeactivator marks persisted visitors inactive.
type VisitorDeactivator interface {
	DeactivateVisitor(ctx context.Context, id int64) error
}

// CropDeleter removes a visitor's stored crop.
type CropDeleter interface {
	DeleteCrop(ctx context.Context, token string) error
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Expired      []visitor.Visitor `json:"-"`
	Tokens       []string          `json:"tokens"`
	Exits        int               `json:"exits"`
	Deactivated  int               `json:"deactivated"`
	CropsDeleted int               `json:"crops_deleted"`
}

// Sweeper expires idle visitors: for each one it logs an exit, deactivates the
// durable record and deletes the crop.
type Sweeper struct {
	store    ExpiringStore
	recorder *Recorder
	visitors VisitorDeactivator
	crops    CropDeleter // optional
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. crops may be nil.
func NewSweeper(store ExpiringStore, rec *Recorder, visitors VisitorDeactivator, crops CropDeleter, ttl time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		recorder: rec,
		visitors: visitors,
		crops:    crops,
		ttl:      ttl,
		logger:   logging.OrNop(logger),
	}
}

// TTL returns the idle time after which visitors expire.
func (s *Sweeper) TTL() time.Duration {
	return s.ttl
}

// Sweep expires every visitor idle for longer than the TTL at now. A failure
// for one visitor never stops the others; all failures are joined in the
// returned error. Crop deletion failures are only logged.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	return s.Expire(ctx, s.store.SweepExpired(now, s.ttl), now)
}

// Expire logs an exit at now for visitors already removed from the live store,
// deactivates their records and deletes their crops. Sweep uses it for idle
// visitors, the session for records found stale on restart.
func (s *Sweeper) Expire(ctx context.Context, expired []visitor.Visitor, now time.Time) (SweepReport, error) {
	report := SweepReport{Expired: expired, Tokens: make([]string, 0, len(expired))}

	var errs []error
	for _, v := range expired {
		report.Tokens = append(report.Tokens, v.Token)

		err := s.recorder.RecordExit(ctx, database.AccessEvent{
			Label:       v.Label(),
			SubjectKind: database.SubjectVisitor,
			At:          now,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			report.Exits++
		}

		if v.ID != 0 && s.visitors != nil {
			if err := s.visitors.DeactivateVisitor(ctx, v.ID); err != nil {
				errs = append(errs, fmt.Errorf("deactivating visitor %s: %w", v.Token, err))
			} else {
				report.Deactivated++
			}
		}

		if s.crops != nil {
			if err := s.crops.DeleteCrop(ctx, v.Token); err != nil {
				s.logger.Warn("crop not deleted", zap.String("token", v.Token), zap.Error(err))
			} else {
				report.CropsDeleted++
			}
		}

		s.logger.Info("visitor expired",
			zap.String("token", v.Token),
			zap.Duration("stayed", v.LastSeenAt.Sub(v.FirstSeenAt)))
	}

	return report, errors.Join(errs...)
}
