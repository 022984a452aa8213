package reconciler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/store/memory"
)

func newTestDispatcher(t *testing.T, st *memory.Store) *Dispatcher {
	t.Helper()
	p := newTestProcessor(t, st, nil)
	s := NewSweeper(st, p, 10, zerolog.Nop())
	return NewDispatcher(p, s, zerolog.Nop())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		typ  string
		want TriggerKind
	}{
		{domain.TriggerJobSucceeded, KindJobSucceeded},
		{domain.TriggerJobFailed, KindJobFailed},
		{domain.TriggerSweep, KindSweep},
		{"video.paused", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(domain.Envelope{Type: tt.typ}), "type %q", tt.typ)
	}
}

func TestDispatchSuccessEvent(t *testing.T) {
	st := memory.NewStore()
	seedUser(st, "u1", "100.00")
	st.PutJob(domain.Job{JobID: "j1", UserID: "u1", Status: domain.JobCompleted, Seconds: 10, Model: "default"})
	d := newTestDispatcher(t, st)

	resp, err := d.Dispatch(context.Background(), domain.Envelope{
		Type:         domain.TriggerJobSucceeded,
		JobID:        "j1",
		UserID:       "u1",
		Seconds:      10,
		Model:        "default",
		ResultMarker: "s3://renders/out.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, resp.Outcome)
	assert.True(t, resp.NewBalance.Equal(decimal.RequireFromString("99.00")))
	assert.Nil(t, resp.Sweep)
}

func TestDispatchFailureEvent(t *testing.T) {
	st := memory.NewStore()
	seedUser(st, "u1", "100.00")
	d := newTestDispatcher(t, st)

	resp, err := d.Dispatch(context.Background(), domain.Envelope{
		Type:   domain.TriggerJobFailed,
		JobID:  "j1",
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoDebitToRefund, resp.Outcome)
}

func TestDispatchSweepTrigger(t *testing.T) {
	st := memory.NewStore()
	seedUser(st, "u1", "100.00")
	st.PutJob(domain.Job{JobID: "j1", UserID: "u1", Status: domain.JobCompleted, Seconds: 10, Model: "default"})
	d := newTestDispatcher(t, st)

	resp, err := d.Dispatch(context.Background(), domain.Envelope{Type: domain.TriggerSweep})
	require.NoError(t, err)
	require.NotNil(t, resp.Sweep)
	assert.Equal(t, 1, resp.Sweep.Processed)
	assert.Zero(t, resp.Sweep.Errors)
}

func TestDispatchUnknownTriggerIsNoOpSuccess(t *testing.T) {
	st := memory.NewStore()
	d := newTestDispatcher(t, st)

	resp, err := d.Dispatch(context.Background(), domain.Envelope{Type: "billing.invoice"})
	require.NoError(t, err, "unknown triggers must not error or the transport redelivers forever")
	assert.Equal(t, domain.OutcomeIgnored, resp.Outcome)
}

func TestDispatchValidationErrorIsRejected(t *testing.T) {
	st := memory.NewStore()
	d := newTestDispatcher(t, st)

	resp, err := d.Dispatch(context.Background(), domain.Envelope{
		Type:  domain.TriggerJobSucceeded,
		JobID: "j1", // userId and seconds missing
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.OutcomeRejected, resp.Outcome)
}
