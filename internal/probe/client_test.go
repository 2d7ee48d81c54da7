package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("test-model")
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, zap.NewNop()), srv
}

func completionHandler(t *testing.T, text string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, 1, req.MaxTokens)
		assert.Equal(t, " ", req.Prompt)
		assert.Len(t, req.LogitBias, 1)

		resp := CompletionResponse{Choices: []CompletionChoice{{Text: text}}}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestClient_Probe_Resolved(t *testing.T) {
	client, _ := newTestClient(t, completionHandler(t, " soul"))

	out := client.Probe(context.Background(), 42)
	assert.Equal(t, KindResolved, out.Kind)
	assert.Equal(t, " soul", out.Text)
	assert.NoError(t, out.Reason)
}

func TestClient_Probe_BiasTargetsRequestedID(t *testing.T) {
	var gotBias map[string]float64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req CompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		gotBias = req.LogitBias
		_ = json.NewEncoder(w).Encode(CompletionResponse{Choices: []CompletionChoice{{Text: "x"}}})
	})

	client.Probe(context.Background(), 31337)
	require.Contains(t, gotBias, "31337")
	assert.Equal(t, float64(100), gotBias["31337"])
}

func TestClient_Probe_EmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		client, _ := newTestClient(t, completionHandler(t, text))
		out := client.Probe(context.Background(), 7)
		assert.Equal(t, KindEmpty, out.Kind, "text %q", text)
		assert.Equal(t, text, out.Text)
	}
}

func TestClient_Probe_NoChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(CompletionResponse{})
	})
	out := client.Probe(context.Background(), 7)
	assert.Equal(t, KindEmpty, out.Kind)
}

func TestClient_Probe_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   OutcomeKind
	}{
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusBadRequest, KindPermanent},
		{http.StatusNotFound, KindPermanent},
		{http.StatusUnprocessableEntity, KindPermanent},
	}

	for _, tc := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		})
		out := client.Probe(context.Background(), 9)
		assert.Equal(t, tc.want, out.Kind, "status %d", tc.status)
		assert.Error(t, out.Reason)
	}
}

func TestClient_Probe_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	cfg := DefaultConfig("test-model")
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Timeout = time.Second
	client := NewClient(cfg, zap.NewNop())

	out := client.Probe(context.Background(), 1)
	assert.Equal(t, KindTransient, out.Kind)
	assert.Error(t, out.Reason)
}

func TestClient_Probe_APIErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(CompletionResponse{Error: &APIError{Message: "invalid token id"}})
	})
	out := client.Probe(context.Background(), 999999999)
	assert.Equal(t, KindPermanent, out.Kind)
	assert.ErrorContains(t, out.Reason, "invalid token id")
}

func TestClient_Probe_GarbledBodyIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	out := client.Probe(context.Background(), 3)
	assert.Equal(t, KindTransient, out.Kind)
}

func TestClient_RateGateSpacesRequests(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(CompletionResponse{Choices: []CompletionChoice{{Text: "x"}}})
	}
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("test-model")
	cfg.BaseURL = srv.URL + "/v1"
	cfg.MinRequestInterval = 50 * time.Millisecond
	client := NewClient(cfg, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		client.Probe(context.Background(), i)
	}
	elapsed := time.Since(start)

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	// Two enforced gaps between three requests.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestClient_RateGateHonorsCancellation(t *testing.T) {
	cfg := DefaultConfig("test-model")
	cfg.BaseURL = "http://127.0.0.1:1" // never reached
	cfg.MinRequestInterval = time.Hour
	client := NewClient(cfg, zap.NewNop())
	client.lastRequest = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := client.Probe(ctx, 1)
	assert.Equal(t, KindTransient, out.Kind)
	assert.ErrorIs(t, out.Reason, context.DeadlineExceeded)
}
