package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/evidence"
	"github.com/pendergraft/rolewarden/internal/observability/metrics"
	"github.com/pendergraft/rolewarden/internal/storage"
	"github.com/pendergraft/rolewarden/internal/validation"
)

// Common errors returned by the verification service.
var (
	ErrNotLinked      = errors.New("address not linked to any account")
	ErrUnknownTarget  = errors.New("unknown target")
	ErrInvalidAddress = errors.New("invalid address")
)

// LinkStore defines the identity link operations needed by the engine.
type LinkStore interface {
	GetLinkByAddress(ctx context.Context, address string) (*storage.IdentityLink, error)
	IncrementAttempts(ctx context.Context, address string) (int64, error)
}

// RecordStore defines the verification record operations needed by the engine.
type RecordStore interface {
	GetRecord(ctx context.Context, address, targetID string) (*storage.VerificationRecord, error)
	UpsertRecord(ctx context.Context, rec *storage.VerificationRecord) error
}

// OutcomeStore defines the audit log operations needed by the engine.
type OutcomeStore interface {
	AppendOutcome(ctx context.Context, entry *storage.OutcomeEntry) error
}

// EvidenceSource fetches the evidence bundle for an address.
type EvidenceSource interface {
	FetchEvidenceBatch(ctx context.Context, address string, targets []config.Target) ([]evidence.Result, error)
}

// RoleGrantor checks and grants roles. GrantRole must be idempotent:
// granting an already-held role is a safe no-op.
type RoleGrantor interface {
	HasRole(ctx context.Context, discordID, roleID string) (bool, error)
	GrantRole(ctx context.Context, discordID, roleID string) error
}

// Service is the verification engine surface consumed by the bot, the
// scheduler, and the admin server.
type Service interface {
	Reconcile(ctx context.Context, address string, opts ReconcileOptions) (*ReconciliationResult, error)
	ApplyRoles(ctx context.Context, res *ReconciliationResult) (*ApplyResult, error)
}

type service struct {
	links    LinkStore
	records  RecordStore
	outcomes OutcomeStore
	provider EvidenceSource
	cache    *evidence.Cache
	grantor  RoleGrantor
	targets  []config.Target

	// locks serializes reconciliations per address; different addresses
	// proceed fully in parallel.
	locks sync.Map

	// now is swapped out in tests
	now func() time.Time
}

// NewService creates a new verification engine.
func NewService(links LinkStore, records RecordStore, outcomes OutcomeStore, provider EvidenceSource, cache *evidence.Cache, grantor RoleGrantor, targets []config.Target) Service {
	return &service{
		links:    links,
		records:  records,
		outcomes: outcomes,
		provider: provider,
		cache:    cache,
		grantor:  grantor,
		targets:  targets,
		now:      time.Now,
	}
}

// Reconcile fetches evidence for an address (via cache, else provider),
// compares it to the durable verification records, and returns the
// four-way partition of targets. Satisfaction is monotonic: a satisfied
// record is never re-derived from fresh evidence and never downgraded.
func (s *service) Reconcile(ctx context.Context, address string, opts ReconcileOptions) (*ReconciliationResult, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	address = validation.NormalizeAddress(address)

	targets, err := s.selectTargets(opts.TargetIDs)
	if err != nil {
		return nil, err
	}

	link, err := s.links.GetLinkByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("looking up link: %w", err)
	}

	mu := s.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	result := &ReconciliationResult{
		Address:   address,
		DiscordID: link.DiscordID,
	}

	if opts.Explicit {
		attempts, err := s.links.IncrementAttempts(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("incrementing attempts: %w", err)
		}
		result.Attempts = attempts
	}

	bundle := s.fetchBundle(ctx, address)
	checkedAt := s.now().UTC().Format(time.RFC3339)

	for _, target := range targets {
		ev, ok := bundle.ByTarget(target.ID)
		if !ok {
			ev = evidence.Result{
				TargetID: target.ID,
				Kind:     evidence.KindError,
				Reason:   "no evidence returned for target",
			}
		}

		rec, err := s.records.GetRecord(ctx, address, target.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("reading record for %s: %w", target.ID, err)
		}

		if rec != nil && rec.Satisfied {
			// Already satisfied: classification depends only on role
			// possession, never on fresh evidence.
			if err := s.classifySatisfied(ctx, result, target, ev, rec, checkedAt); err != nil {
				return nil, err
			}
			continue
		}

		if err := s.classifyUnsatisfied(ctx, result, target, ev, rec, checkedAt); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// classifySatisfied handles targets whose record is already satisfied.
func (s *service) classifySatisfied(ctx context.Context, result *ReconciliationResult, target config.Target, ev evidence.Result, rec *storage.VerificationRecord, checkedAt string) error {
	touched := *rec
	touched.LastCheckedAt = checkedAt
	if ev.Kind != evidence.KindError {
		// Refresh the snapshot for display; the satisfied flag stays up
		// even when the provider now reports less evidence.
		touched.EvidenceCount = evidenceCount(ev)
		touched.EvidenceDetail = ev.Detail
	}
	if err := s.records.UpsertRecord(ctx, &touched); err != nil {
		return fmt.Errorf("touching record for %s: %w", target.ID, err)
	}

	held, err := s.grantor.HasRole(ctx, result.DiscordID, target.RoleID)
	if err != nil {
		// Can't confirm possession; treat as missing so the next apply
		// re-grants, which is an idempotent no-op when already held.
		held = false
	}

	outcome := TargetOutcome{Target: target, Evidence: ev, Detail: rec.EvidenceDetail}
	if ev.Kind != evidence.KindError {
		outcome.Detail = ev.Detail
	}
	if held {
		metrics.Reconciliation("confirmed")
		result.ConfirmedSatisfied = append(result.ConfirmedSatisfied, outcome)
	} else {
		metrics.Reconciliation("role_missing")
		result.SatisfiedRoleMissing = append(result.SatisfiedRoleMissing, outcome)
	}
	return nil
}

// classifyUnsatisfied handles targets with no record or an unsatisfied one.
func (s *service) classifyUnsatisfied(ctx context.Context, result *ReconciliationResult, target config.Target, ev evidence.Result, rec *storage.VerificationRecord, checkedAt string) error {
	if ev.Kind == evidence.KindError {
		// Evidence is indeterminate this run. Never written as a
		// satisfaction downgrade; surfaced with the retryable tag so the
		// caller renders "try again later" instead of "not eligible".
		if rec != nil {
			touched := *rec
			touched.LastCheckedAt = checkedAt
			if err := s.records.UpsertRecord(ctx, &touched); err != nil {
				return fmt.Errorf("touching record for %s: %w", target.ID, err)
			}
		}
		metrics.Reconciliation("evidence_error")
		result.Unsatisfied = append(result.Unsatisfied, TargetOutcome{
			Target:    target,
			Evidence:  ev,
			Detail:    ev.Reason,
			Retryable: ev.Retryable,
		})
		return nil
	}

	if satisfiedNow(target, ev) {
		newRec := &storage.VerificationRecord{
			Address:          result.Address,
			TargetID:         target.ID,
			Satisfied:        true,
			EvidenceCount:    evidenceCount(ev),
			EvidenceDetail:   ev.Detail,
			FirstSatisfiedAt: checkedAt,
			LastCheckedAt:    checkedAt,
		}
		if rec != nil && rec.FirstSatisfiedAt != "" {
			newRec.FirstSatisfiedAt = rec.FirstSatisfiedAt
		}
		if err := s.records.UpsertRecord(ctx, newRec); err != nil {
			return fmt.Errorf("writing record for %s: %w", target.ID, err)
		}
		metrics.Reconciliation("newly_satisfied")
		result.NewlySatisfied = append(result.NewlySatisfied, TargetOutcome{
			Target:   target,
			Evidence: ev,
			Detail:   ev.Detail,
		})
		return nil
	}

	// Genuine zero/insufficient evidence. Rows are created lazily, so no
	// record is written here; an existing unsatisfied row still gets its
	// check timestamp refreshed.
	if rec != nil {
		touched := *rec
		touched.EvidenceCount = evidenceCount(ev)
		touched.EvidenceDetail = ev.Detail
		touched.LastCheckedAt = checkedAt
		if err := s.records.UpsertRecord(ctx, &touched); err != nil {
			return fmt.Errorf("touching record for %s: %w", target.ID, err)
		}
	}
	metrics.Reconciliation("unsatisfied")
	result.Unsatisfied = append(result.Unsatisfied, TargetOutcome{
		Target:   target,
		Evidence: ev,
		Detail:   ev.Detail,
	})
	return nil
}

// ApplyRoles grants roles for newly-satisfied and drift-repair entries and
// records the outcomes in the audit log. A grant failure leaves the
// satisfied record in place; the next reconciliation classifies the target
// as role-missing again and retries.
func (s *service) ApplyRoles(ctx context.Context, res *ReconciliationResult) (*ApplyResult, error) {
	applied := &ApplyResult{}

	grant := func(outcome TargetOutcome, logOutcome string) {
		if err := s.grantor.GrantRole(ctx, res.DiscordID, outcome.Target.RoleID); err != nil {
			applied.Failed++
			metrics.RoleGrant("error")
			s.appendOutcome(ctx, res.Address, outcome.Target.ID, storage.OutcomeError,
				fmt.Sprintf("grant failed: %v", err))
			return
		}
		metrics.RoleGrant("ok")
		if logOutcome == storage.OutcomeGranted {
			applied.Granted++
		} else {
			applied.Repaired++
		}
		s.appendOutcome(ctx, res.Address, outcome.Target.ID, logOutcome, outcome.Detail)
	}

	for _, outcome := range res.NewlySatisfied {
		grant(outcome, storage.OutcomeGranted)
	}
	for _, outcome := range res.SatisfiedRoleMissing {
		grant(outcome, storage.OutcomeRepair)
	}

	return applied, nil
}

// fetchBundle returns the cached evidence bundle for an address, fetching
// and caching a fresh one on miss. A failed fetch is never cached and
// yields a per-target error bundle instead.
func (s *service) fetchBundle(ctx context.Context, address string) *evidence.Bundle {
	if bundle, ok := s.cache.Get(address); ok {
		return bundle
	}

	results, err := s.provider.FetchEvidenceBatch(ctx, address, s.targets)
	if err != nil {
		metrics.EvidenceFetch("error")
		return &evidence.Bundle{
			Address: address,
			Results: evidence.ErrorResults(s.targets, err),
		}
	}

	metrics.EvidenceFetch("ok")
	bundle := &evidence.Bundle{
		Address:   address,
		Results:   results,
		FetchedAt: s.now(),
	}
	s.cache.Put(bundle)
	return bundle
}

func (s *service) appendOutcome(ctx context.Context, address, targetID, outcome, detail string) {
	// Audit logging is best-effort; a log write failure never blocks a
	// role action.
	_ = s.outcomes.AppendOutcome(ctx, &storage.OutcomeEntry{
		Address:  address,
		TargetID: targetID,
		Outcome:  outcome,
		Detail:   detail,
	})
}

func (s *service) selectTargets(ids []string) ([]config.Target, error) {
	if len(ids) == 0 {
		return s.targets, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var selected []config.Target
	for _, t := range s.targets {
		if want[t.ID] {
			selected = append(selected, t)
			delete(want, t.ID)
		}
	}
	for id := range want {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return selected, nil
}

func (s *service) lockFor(address string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(address, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// satisfiedNow applies the eligibility rule for a target. The threshold
// comparison is inclusive.
func satisfiedNow(target config.Target, ev evidence.Result) bool {
	switch ev.Kind {
	case evidence.KindCount:
		return ev.Count >= target.MinimumCount
	case evidence.KindEligible:
		return ev.Eligible
	default:
		return false
	}
}

func evidenceCount(ev evidence.Result) int64 {
	switch ev.Kind {
	case evidence.KindCount:
		return ev.Count
	case evidence.KindEligible:
		if ev.Eligible {
			return 1
		}
	}
	return 0
}
