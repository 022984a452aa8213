package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fertilia/reconciler/internal/anomaly"
	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/pricing"
	"github.com/fertilia/reconciler/internal/reconciler"
	"github.com/fertilia/reconciler/internal/store/memory"
)

func newTestServer(t *testing.T, st *memory.Store) *httptest.Server {
	t.Helper()

	p := reconciler.NewProcessor(reconciler.ProcessorConfig{
		Ledger:   st,
		Accounts: st,
		Jobs:     st,
		Pricing: pricing.Static{
			DefaultPrice: decimal.RequireFromString("0.10"),
		},
		Thresholds: anomaly.Thresholds{
			CostCeiling:    decimal.NewFromInt(50),
			SecondsCeiling: 300,
		},
		Logger: zerolog.Nop(),
	})
	sweeper := reconciler.NewSweeper(st, p, 100, zerolog.Nop())
	d := reconciler.NewDispatcher(p, sweeper, zerolog.Nop())

	mux := http.NewServeMux()
	NewHandler(d, st, st, zerolog.Nop()).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestPostEventDebitsAccount(t *testing.T) {
	st := memory.NewStore()
	st.PutAccount(domain.CreditAccount{UserID: "u1", Remaining: decimal.NewFromInt(100)})
	st.PutJob(domain.Job{JobID: "j1", UserID: "u1", Status: domain.JobCompleted, Seconds: 10, Model: "default"})
	srv := newTestServer(t, st)

	resp := postJSON(t, srv.URL+"/v1/events", domain.Envelope{
		Type:         domain.TriggerJobSucceeded,
		JobID:        "j1",
		UserID:       "u1",
		Seconds:      10,
		Model:        "default",
		ResultMarker: "s3://renders/out.mp4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Outcome    string          `json:"outcome"`
		NewBalance decimal.Decimal `json:"newBalance"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, string(domain.OutcomeApplied), body.Outcome)
	assert.True(t, body.NewBalance.Equal(decimal.NewFromInt(99)))
}

func TestPostEventValidationIsBadRequest(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp := postJSON(t, srv.URL+"/v1/events", domain.Envelope{
		Type:  domain.TriggerJobSucceeded,
		JobID: "j1", // userId and seconds missing
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEventInvalidJSON(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp, err := http.Post(srv.URL+"/v1/events", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEventMethodNotAllowed(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPostSweep(t *testing.T) {
	st := memory.NewStore()
	st.PutAccount(domain.CreditAccount{UserID: "u1", Remaining: decimal.NewFromInt(100)})
	st.PutJob(domain.Job{JobID: "j1", UserID: "u1", Status: domain.JobCompleted, Seconds: 10, Model: "default"})
	srv := newTestServer(t, st)

	resp := postJSON(t, srv.URL+"/v1/sweep", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sweep struct {
			Processed int `json:"processed"`
			Errors    int `json:"errors"`
		} `json:"sweep"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Sweep.Processed)
	assert.Zero(t, body.Sweep.Errors)
}

func TestGetBalance(t *testing.T) {
	st := memory.NewStore()
	st.PutAccount(domain.CreditAccount{UserID: "u1", Remaining: decimal.RequireFromString("42.50")})
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/v1/balance/u1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		UserID    string          `json:"userId"`
		Remaining decimal.Decimal `json:"remaining"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "u1", body.UserID)
	assert.True(t, body.Remaining.Equal(decimal.RequireFromString("42.50")))
}

func TestGetBalanceNotFound(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/v1/balance/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetLedger(t *testing.T) {
	st := memory.NewStore()
	st.PutAccount(domain.CreditAccount{UserID: "u1", Remaining: decimal.NewFromInt(100)})
	st.PutJob(domain.Job{JobID: "j1", UserID: "u1", Status: domain.JobCompleted, Seconds: 10, Model: "default"})
	srv := newTestServer(t, st)

	resp := postJSON(t, srv.URL+"/v1/events", domain.Envelope{
		Type:         domain.TriggerJobSucceeded,
		JobID:        "j1",
		UserID:       "u1",
		Seconds:      10,
		Model:        "default",
		ResultMarker: "s3://renders/out.mp4",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/v1/ledger?job_id=j1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]interface{}
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "j1", entries[0]["reference"])
	assert.Equal(t, string(domain.EntryDebit), entries[0]["type"])
}

func TestGetLedgerRequiresJobID(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/v1/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndReady(t *testing.T) {
	st := memory.NewStore()
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
