package reconciler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fertilia/reconciler/internal/domain"
)

// TriggerKind is the closed set of inbound trigger classifications.
// Routing switches over this enum rather than raw wire strings so an
// unsupported kind is a compile-time-visible gap, not a silent runtime
// lookup miss.
type TriggerKind int

const (
	KindUnknown TriggerKind = iota
	KindJobSucceeded
	KindJobFailed
	KindSweep
)

func (k TriggerKind) String() string {
	switch k {
	case KindJobSucceeded:
		return "job_succeeded"
	case KindJobFailed:
		return "job_failed"
	case KindSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// Classify maps a decoded envelope to its trigger kind.
func Classify(env domain.Envelope) TriggerKind {
	switch env.Type {
	case domain.TriggerJobSucceeded:
		return KindJobSucceeded
	case domain.TriggerJobFailed:
		return KindJobFailed
	case domain.TriggerSweep:
		return KindSweep
	default:
		return KindUnknown
	}
}

// Response is what the dispatcher hands back to the transport for one
// trigger. Sweep is populated only for sweep triggers.
type Response struct {
	domain.Result
	Sweep *domain.SweepSummary `json:"sweep,omitempty"`
}

// Dispatcher routes an inbound trigger to the processor or the sweeper.
// Pure classification and routing; retry and queueing belong to the
// transport.
type Dispatcher struct {
	processor *Processor
	sweeper   *Sweeper
	log       zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(processor *Processor, sweeper *Sweeper, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		sweeper:   sweeper,
		log:       logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch classifies and executes one trigger.
//
// Unrecognized shapes are logged and returned as a no-op success so the
// transport does not redeliver junk indefinitely. Validation failures
// come back with a rejected outcome and a non-nil error the caller must
// not retry; everything else that errors is retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.Envelope) (Response, error) {
	kind := Classify(env)

	var resp Response
	var err error

	switch kind {
	case KindJobSucceeded:
		resp.Result, err = d.processor.ApplySuccess(ctx, domain.SuccessEvent{
			JobID:        env.JobID,
			UserID:       env.UserID,
			Seconds:      env.Seconds,
			Model:        env.Model,
			ResultMarker: env.ResultMarker,
		})

	case KindJobFailed:
		resp.Result, err = d.processor.ApplyFailure(ctx, domain.FailureEvent{
			JobID:  env.JobID,
			UserID: env.UserID,
		})

	case KindSweep:
		var summary domain.SweepSummary
		summary, err = d.sweeper.Sweep(ctx)
		resp.Result = domain.Result{Outcome: domain.OutcomeApplied}
		resp.Sweep = &summary

	default:
		d.log.Warn().Str("type", env.Type).Msg("unhandled trigger type")
		resp.Result = domain.Result{Outcome: domain.OutcomeIgnored}
	}

	outcome := string(resp.Outcome)
	if err != nil && !domain.IsValidation(err) {
		outcome = "error"
	}
	eventsTotal.WithLabelValues(kind.String(), outcome).Inc()

	return resp, err
}
