// Package reconciler is the ledger-consistency engine: the idempotency-
// guarded processor that applies each job's economic effect at most once,
// the sweep that replays missed effects, and the dispatcher that routes
// inbound triggers to them.
//
// Concurrency model: every inbound event or sweep trigger runs as an
// independent, stateless invocation. Nothing here holds locks; the stores
// are the serialization point. Two invocations racing on the same job
// both attempt the conditional ledger insert and exactly one wins, so a
// duplicate delivery, or the sweep racing a live event, converges to a
// single debit (and at most one refund).
//
// Write ordering without cross-store transactions: ledger entry first,
// then the atomic balance adjust, then the job's reconciled flag. A
// failure after the ledger write leaves the job unreconciled, so it is
// retried rather than silently lost.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fertilia/reconciler/internal/anomaly"
	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/pricing"
	"github.com/fertilia/reconciler/internal/store"
)

const defaultModel = "default"

// Processor applies the economic effect of exactly one terminal job
// outcome, exactly once.
//
// Thread safety: all methods are safe for concurrent use, including for
// the same job id from different invocations.
type Processor struct {
	ledger   store.LedgerStore
	accounts store.AccountStore
	jobs     store.JobStore
	pricing  pricing.Resolver

	thresholds     anomaly.Thresholds
	explainer      anomaly.Explainer // nil: flag without a note
	explainTimeout time.Duration

	log zerolog.Logger
	now func() time.Time
}

// ProcessorConfig wires the processor's collaborators.
type ProcessorConfig struct {
	Ledger   store.LedgerStore
	Accounts store.AccountStore
	Jobs     store.JobStore
	Pricing  pricing.Resolver

	Thresholds anomaly.Thresholds
	// Explainer is optional. When nil, anomalous entries carry no note.
	Explainer anomaly.Explainer
	// ExplainTimeout bounds the explanation call. The ledger write never
	// waits longer than this on the summarizer.
	ExplainTimeout time.Duration

	Logger zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.ExplainTimeout == 0 {
		cfg.ExplainTimeout = 5 * time.Second
	}
	return &Processor{
		ledger:         cfg.Ledger,
		accounts:       cfg.Accounts,
		jobs:           cfg.Jobs,
		pricing:        cfg.Pricing,
		thresholds:     cfg.Thresholds,
		explainer:      cfg.Explainer,
		explainTimeout: cfg.ExplainTimeout,
		log:            cfg.Logger.With().Str("component", "processor").Logger(),
		now:            time.Now,
	}
}

// ApplySuccess debits the user for a completed job.
//
// The conditional insert on (jobId, debit) is the idempotency guard: the
// first invocation to reach the ledger wins, every other one observes
// the conflict and returns alreadyProcessed without touching the balance.
func (p *Processor) ApplySuccess(ctx context.Context, ev domain.SuccessEvent) (domain.Result, error) {
	if ev.JobID == "" || ev.UserID == "" || ev.Seconds == 0 {
		return domain.Result{Outcome: domain.OutcomeRejected},
			domain.Validationf("jobId, userId and a positive seconds are required")
	}
	if ev.Model == "" {
		ev.Model = defaultModel
	}

	// Fast path for redeliveries: skip pricing and anomaly work when the
	// debit is already on the ledger. The insert below still guards the
	// race this read cannot see.
	if _, err := p.ledger.FindEntry(ctx, ev.JobID, domain.EntryDebit); err == nil {
		p.log.Info().Str("job_id", ev.JobID).Msg("job already debited, skipping")
		return domain.Result{Outcome: domain.OutcomeAlreadyProcessed}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Result{}, domain.Dependencyf("ledger store", err)
	}

	unitPrice, err := p.pricing.UnitPrice(ctx, ev.Model)
	if err != nil {
		return domain.Result{}, domain.Dependencyf("pricing resolver", err)
	}
	cost := decimal.NewFromInt(int64(ev.Seconds)).Mul(unitPrice)

	entry := domain.LedgerEntry{
		UserID:      ev.UserID,
		Timestamp:   p.now().UTC(),
		Type:        domain.EntryDebit,
		Amount:      cost,
		Reference:   ev.JobID,
		Description: domain.DebitDescription(ev.Seconds, ev.Model),
	}
	entry.LedgerID = domain.NewLedgerID(ev.UserID, entry.Timestamp, ev.JobID, entry.Type)

	if anomaly.Detect(p.thresholds, cost, ev.Seconds, ev.ResultMarker) {
		entry.AnomalyNote = p.explainAnomaly(ctx, ev, cost)
		anomaliesTotal.Inc()
		p.log.Warn().
			Str("job_id", ev.JobID).
			Str("user_id", ev.UserID).
			Str("cost", cost.String()).
			Str("anomaly", entry.AnomalyNote).
			Msg("anomaly detected")
	}

	if err := p.ledger.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			// A concurrent invocation got there first.
			p.log.Info().Str("job_id", ev.JobID).Msg("job already debited, skipping")
			return domain.Result{Outcome: domain.OutcomeAlreadyProcessed}, nil
		}
		return domain.Result{}, domain.Dependencyf("ledger store", err)
	}

	newBalance, err := p.accounts.AdjustBalance(ctx, ev.UserID, cost.Neg())
	if err != nil {
		return domain.Result{}, domain.Dependencyf("account store", err)
	}

	if err := p.jobs.MarkReconciled(ctx, ev.JobID); err != nil {
		return domain.Result{}, domain.Dependencyf("job store", err)
	}

	adjustmentsTotal.WithLabelValues(string(domain.EntryDebit)).Inc()
	p.log.Info().
		Str("job_id", ev.JobID).
		Str("user_id", ev.UserID).
		Str("cost", cost.String()).
		Str("remaining", newBalance.String()).
		Msg("credit debited")

	return domain.Result{
		Outcome:    domain.OutcomeApplied,
		Cost:       cost,
		NewBalance: newBalance,
	}, nil
}

// ApplyFailure refunds the prior debit for a job that ultimately failed.
//
// The refund amount is always exactly the original debit amount, read
// back from the ledger rather than recomputed, so a pricing change
// between debit and failure cannot cause drift.
func (p *Processor) ApplyFailure(ctx context.Context, ev domain.FailureEvent) (domain.Result, error) {
	if ev.JobID == "" || ev.UserID == "" {
		return domain.Result{Outcome: domain.OutcomeRejected},
			domain.Validationf("jobId and userId are required")
	}

	debit, err := p.ledger.FindEntry(ctx, ev.JobID, domain.EntryDebit)
	if errors.Is(err, store.ErrNotFound) {
		// A job that never completed successfully has nothing to refund.
		p.log.Info().Str("job_id", ev.JobID).Msg("no debit found for failed job")
		return domain.Result{Outcome: domain.OutcomeNoDebitToRefund}, nil
	}
	if err != nil {
		return domain.Result{}, domain.Dependencyf("ledger store", err)
	}

	if _, err := p.ledger.FindEntry(ctx, ev.JobID, domain.EntryCredit); err == nil {
		p.log.Info().Str("job_id", ev.JobID).Msg("job already refunded")
		return domain.Result{Outcome: domain.OutcomeAlreadyRefunded}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Result{}, domain.Dependencyf("ledger store", err)
	}

	entry := domain.LedgerEntry{
		UserID:      ev.UserID,
		Timestamp:   p.now().UTC(),
		Type:        domain.EntryCredit,
		Amount:      debit.Amount,
		Reference:   ev.JobID,
		Description: domain.CreditDescription(ev.JobID),
	}
	entry.LedgerID = domain.NewLedgerID(ev.UserID, entry.Timestamp, ev.JobID, entry.Type)

	if err := p.ledger.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			p.log.Info().Str("job_id", ev.JobID).Msg("job already refunded")
			return domain.Result{Outcome: domain.OutcomeAlreadyRefunded}, nil
		}
		return domain.Result{}, domain.Dependencyf("ledger store", err)
	}

	newBalance, err := p.accounts.AdjustBalance(ctx, ev.UserID, debit.Amount)
	if err != nil {
		return domain.Result{}, domain.Dependencyf("account store", err)
	}

	if err := p.jobs.MarkReconciled(ctx, ev.JobID); err != nil {
		return domain.Result{}, domain.Dependencyf("job store", err)
	}

	adjustmentsTotal.WithLabelValues(string(domain.EntryCredit)).Inc()
	p.log.Info().
		Str("job_id", ev.JobID).
		Str("user_id", ev.UserID).
		Str("refund", debit.Amount.String()).
		Str("remaining", newBalance.String()).
		Msg("credit refunded")

	return domain.Result{
		Outcome:    domain.OutcomeApplied,
		Cost:       debit.Amount,
		NewBalance: newBalance,
	}, nil
}

// explainAnomaly asks the summarizer for a note under a bounded timeout.
// Any failure degrades to the literal failure text; a missing explainer
// degrades to no note at all. Either way the ledger write proceeds.
func (p *Processor) explainAnomaly(ctx context.Context, ev domain.SuccessEvent, cost decimal.Decimal) string {
	if p.explainer == nil {
		return ""
	}

	explainCtx, cancel := context.WithTimeout(ctx, p.explainTimeout)
	defer cancel()

	summary := fmt.Sprintf("cost=$%s, seconds=%d, model=%s, jobId=%s",
		cost.String(), ev.Seconds, ev.Model, ev.JobID)
	note, err := p.explainer.Explain(explainCtx, summary)
	if err != nil {
		p.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("anomaly explanation unavailable")
		return fmt.Sprintf("LLM analysis failed: %v", err)
	}
	return note
}
