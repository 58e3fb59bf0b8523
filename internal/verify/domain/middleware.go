package domain

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Reconcile(ctx context.Context, address string, opts ReconcileOptions) (*ReconciliationResult, error) {
	start := time.Now()
	res, err := m.next.Reconcile(ctx, address, opts)

	attrs := []any{
		"address", address,
		"explicit", opts.Explicit,
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil {
		attrs = append(attrs,
			"newly_satisfied", len(res.NewlySatisfied),
			"confirmed", len(res.ConfirmedSatisfied),
			"role_missing", len(res.SatisfiedRoleMissing),
			"unsatisfied", len(res.Unsatisfied),
		)
	}
	m.logger.Info("Reconcile", attrs...)
	return res, err
}

func (m *loggingMiddleware) ApplyRoles(ctx context.Context, res *ReconciliationResult) (*ApplyResult, error) {
	start := time.Now()
	applied, err := m.next.ApplyRoles(ctx, res)

	attrs := []any{
		"address", res.Address,
		"duration", time.Since(start),
		"error", err,
	}
	if applied != nil {
		attrs = append(attrs,
			"granted", applied.Granted,
			"repaired", applied.Repaired,
			"failed", applied.Failed,
		)
	}
	m.logger.Info("ApplyRoles", attrs...)
	return applied, err
}
