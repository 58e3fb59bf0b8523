package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/throttle"
)

// ExplorerProvider counts on-chain interactions via an Etherscan-style
// block-explorer API. One txlist call per address covers every target.
type ExplorerProvider struct {
	baseURL    string
	apiKey     string
	ctrl       *throttle.Controller
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExplorerProvider creates an explorer-backed provider
func NewExplorerProvider(baseURL, apiKey string, ctrl *throttle.Controller, logger *slog.Logger) *ExplorerProvider {
	return &ExplorerProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		ctrl:       ctrl,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// explorerResponse is the explorer API envelope
type explorerResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Result  []explorerTxn `json:"result"`
}

// explorerTxn is one transaction row from the txlist endpoint
type explorerTxn struct {
	Hash    string `json:"hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	IsError string `json:"isError"`
}

// FetchEvidence fetches evidence for a single target. It shares the
// per-address txlist call with the batch path.
func (p *ExplorerProvider) FetchEvidence(ctx context.Context, address string, target config.Target) (Result, error) {
	results, err := p.FetchEvidenceBatch(ctx, address, []config.Target{target})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// FetchEvidenceBatch fetches the address's transaction list once and counts
// successful, de-duplicated interactions per target contract.
func (p *ExplorerProvider) FetchEvidenceBatch(ctx context.Context, address string, targets []config.Target) ([]Result, error) {
	txns, err := p.fetchTransactions(ctx, address)
	if err != nil {
		return nil, err
	}

	from := strings.ToLower(address)
	results := make([]Result, len(targets))
	for i, target := range targets {
		to := strings.ToLower(target.Address)

		// De-duplicate by transaction hash before counting; the engine
		// treats the count it receives as final.
		seen := make(map[string]bool)
		var count int64
		for _, tx := range txns {
			if strings.ToLower(tx.From) != from || strings.ToLower(tx.To) != to {
				continue
			}
			if tx.IsError == "1" || seen[tx.Hash] {
				continue
			}
			seen[tx.Hash] = true
			count++
		}

		results[i] = countResult(target, count)
	}
	return results, nil
}

// fetchTransactions pulls the full outbound transaction list for an address
// through the rate/retry controller.
func (p *ExplorerProvider) fetchTransactions(ctx context.Context, address string) ([]explorerTxn, error) {
	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", "txlist")
	query.Set("address", address)
	query.Set("sort", "asc")
	if p.apiKey != "" {
		query.Set("apikey", p.apiKey)
	}
	endpoint := p.baseURL + "/api?" + query.Encode()

	var txns []explorerTxn
	err := p.ctrl.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			// Transport errors (connection reset, DNS) are worth a retry
			return throttle.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("explorer API status %d", resp.StatusCode)
			if throttle.RetryableStatus(resp.StatusCode) {
				return throttle.Retryable(err)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return throttle.Retryable(err)
		}

		var envelope explorerResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decoding explorer response: %w", err)
		}

		// Status "0" with "No transactions found" is a valid zero-evidence
		// response, not an error.
		if envelope.Status != "1" && !strings.Contains(envelope.Message, "No transactions found") {
			return fmt.Errorf("explorer API error: %s", envelope.Message)
		}

		txns = envelope.Result
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("fetched transactions", "address", address, "count", len(txns))
	return txns, nil
}

// countResult builds a count or eligibility result from an interaction count
func countResult(target config.Target, count int64) Result {
	if target.Kind == config.TargetKindEligible {
		return Result{
			TargetID: target.ID,
			Kind:     KindEligible,
			Eligible: count > 0,
			Detail:   fmt.Sprintf("%d interactions with %s", count, target.DisplayName),
		}
	}
	return Result{
		TargetID: target.ID,
		Kind:     KindCount,
		Count:    count,
		Detail:   fmt.Sprintf("%d/%d transactions", count, target.MinimumCount),
	}
}
