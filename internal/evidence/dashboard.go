package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/throttle"
)

// DashboardProvider reads per-application participation numbers from a
// dashboard API. One participant lookup per address covers every target;
// target.Address is the application ID on the dashboard side.
type DashboardProvider struct {
	baseURL    string
	apiKey     string
	ctrl       *throttle.Controller
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDashboardProvider creates a dashboard-backed provider
func NewDashboardProvider(baseURL, apiKey string, ctrl *throttle.Controller, logger *slog.Logger) *DashboardProvider {
	return &DashboardProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		ctrl:       ctrl,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// dashboardParticipant is the dashboard API participant payload
type dashboardParticipant struct {
	Address      string                 `json:"address"`
	Applications []dashboardApplication `json:"applications"`
}

// dashboardApplication is one application's participation entry
type dashboardApplication struct {
	ID       string `json:"id"`
	Entries  int64  `json:"entries"`
	Eligible bool   `json:"eligible"`
}

// FetchEvidence fetches evidence for a single target
func (p *DashboardProvider) FetchEvidence(ctx context.Context, address string, target config.Target) (Result, error) {
	results, err := p.FetchEvidenceBatch(ctx, address, []config.Target{target})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// FetchEvidenceBatch fetches the participant record once and derives a
// result per target. An application absent from the response is a normal
// zero-evidence outcome.
func (p *DashboardProvider) FetchEvidenceBatch(ctx context.Context, address string, targets []config.Target) ([]Result, error) {
	participant, err := p.fetchParticipant(ctx, address)
	if err != nil {
		return nil, err
	}

	byApp := make(map[string]dashboardApplication, len(participant.Applications))
	for _, app := range participant.Applications {
		byApp[app.ID] = app
	}

	results := make([]Result, len(targets))
	for i, target := range targets {
		app, ok := byApp[target.Address]
		if !ok {
			app = dashboardApplication{ID: target.Address}
		}

		if target.Kind == config.TargetKindEligible {
			results[i] = Result{
				TargetID: target.ID,
				Kind:     KindEligible,
				Eligible: app.Eligible || app.Entries > 0,
				Detail:   fmt.Sprintf("%d entries for %s", app.Entries, target.DisplayName),
			}
			continue
		}
		results[i] = Result{
			TargetID: target.ID,
			Kind:     KindCount,
			Count:    app.Entries,
			Detail:   fmt.Sprintf("%d/%d entries", app.Entries, target.MinimumCount),
		}
	}
	return results, nil
}

// fetchParticipant pulls the participant record through the rate/retry
// controller. A 404 means the address has no participation yet.
func (p *DashboardProvider) fetchParticipant(ctx context.Context, address string) (*dashboardParticipant, error) {
	endpoint := p.baseURL + "/v1/participants/" + address

	var participant dashboardParticipant
	err := p.ctrl.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return throttle.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			// Unknown participant: zero evidence for every application
			participant = dashboardParticipant{Address: address}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("dashboard API status %d", resp.StatusCode)
			if throttle.RetryableStatus(resp.StatusCode) {
				return throttle.Retryable(err)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return throttle.Retryable(err)
		}
		if err := json.Unmarshal(body, &participant); err != nil {
			return fmt.Errorf("decoding dashboard response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("fetched participant", "address", address, "applications", len(participant.Applications))
	return &participant, nil
}
