package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"go.uber.org/zap"
)

// RepairReport summarises a repair run.
type RepairReport struct {
	Scanned     int `json:"scanned"`
	Expired     int `json:"expired"`
	Corrupt     int `json:"corrupt"`
	Regenerated int `json:"regenerated"`
	Vanished    int `json:"vanished"`
}

// Repairer cleans up sessions that would otherwise keep producing
// token-mismatch responses: expired sessions, undecodable payloads and
// sessions that lost their anti-forgery token.
type Repairer struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRepairer creates a repairer over store.
func NewRepairer(store Store, logger *zap.Logger) *Repairer {
	return &Repairer{store: store, logger: logger, now: time.Now}
}

// Fix walks every stored session once.
func (r *Repairer) Fix(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	ids, err := r.store.IDs(ctx)
	if err != nil {
		return report, err
	}

	now := r.now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		sess, err := r.store.Get(ctx, id)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			// expired or deleted between listing and loading
			report.Vanished++
			continue
		case errors.Is(err, ErrCorruptSession):
			if err := r.store.Delete(ctx, id); err != nil {
				return report, err
			}
			report.Corrupt++
			r.logger.Info("deleted corrupt session", zap.String("session_id", id))
			continue
		case err != nil:
			return report, fmt.Errorf("repair session %s: %w", id, err)
		}

		if sess.Expired(now) {
			if err := r.store.Delete(ctx, id); err != nil {
				return report, err
			}
			report.Expired++
			continue
		}

		if err := sess.Validate(); err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				if err := r.store.Delete(ctx, id); err != nil {
					return report, err
				}
				report.Corrupt++
				continue
			}
			if _, err := sess.RegenerateToken(); err != nil {
				return report, err
			}
			if err := r.store.Save(ctx, sess); err != nil {
				return report, err
			}
			report.Regenerated++
			r.logger.Info("regenerated csrf token", zap.String("session_id", id))
		}
	}

	metrics.SessionsRepaired.WithLabelValues("expired").Add(float64(report.Expired))
	metrics.SessionsRepaired.WithLabelValues("corrupt").Add(float64(report.Corrupt))
	metrics.SessionsRepaired.WithLabelValues("regenerated").Add(float64(report.Regenerated))

	r.logger.Info("session repair finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("corrupt", report.Corrupt),
		zap.Int("regenerated", report.Regenerated),
	)
	return report, nil
}
