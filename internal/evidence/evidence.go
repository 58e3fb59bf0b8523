// Package evidence defines the provider abstraction that turns an external
// address into per-target participation evidence, plus concrete providers
// backed by a block-explorer API and a dashboard API.
package evidence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/throttle"
)

// Kind discriminates the evidence union so the engine's branching is
// exhaustive instead of relying on optional-field presence.
type Kind string

const (
	KindCount    Kind = "count"    // numeric interaction count
	KindEligible Kind = "eligible" // direct boolean eligibility
	KindError    Kind = "error"    // fetch failed; Retryable distinguishes transient from terminal
)

// Result is the evidence for one target
type Result struct {
	TargetID  string
	Kind      Kind
	Count     int64  // set for KindCount
	Eligible  bool   // set for KindEligible
	Detail    string // human-readable, for user-facing messages
	Reason    string // set for KindError
	Retryable bool   // set for KindError: upstream error, retry later
}

// Provider fetches evidence for an address. Implementations query the
// upstream once per address and derive all target results from that one
// response, so a bundle is always fetched whole.
type Provider interface {
	FetchEvidence(ctx context.Context, address string, target config.Target) (Result, error)
	FetchEvidenceBatch(ctx context.Context, address string, targets []config.Target) ([]Result, error)
}

// NewProvider creates a provider based on configuration
func NewProvider(cfg config.ProviderConfig, ctrl *throttle.Controller, logger *slog.Logger) (Provider, error) {
	switch cfg.Type {
	case "explorer":
		return NewExplorerProvider(cfg.BaseURL, cfg.APIKey, ctrl, logger), nil
	case "dashboard":
		return NewDashboardProvider(cfg.BaseURL, cfg.APIKey, ctrl, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// ErrorResults builds a per-target error bundle from a failed fetch, so
// a run-level failure still yields a classifiable result for every target.
func ErrorResults(targets []config.Target, err error) []Result {
	retryable := throttle.IsRetryable(err)
	results := make([]Result, len(targets))
	for i, t := range targets {
		results[i] = Result{
			TargetID:  t.ID,
			Kind:      KindError,
			Reason:    err.Error(),
			Retryable: retryable,
		}
	}
	return results
}
