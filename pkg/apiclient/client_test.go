package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadflow/backend/pkg/retry"
)

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "secret" {
			t.Errorf("missing auth header")
		}
		if r.URL.Query().Get("q") != "pizza in 14604" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	c := New("places", Options{
		BaseURL:    srv.URL,
		Headers:    map[string]string{"X-Key": "secret"},
		Idempotent: true,
		Retry:      fastRetry(),
	})

	var out struct{ Status string }
	if err := c.Get(context.Background(), "/search", url.Values{"q": {"pizza in 14604"}}, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Status != "OK" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("status=%q calls=%d", out.Status, calls)
	}
}

func TestPostDoesNotRetryServerErrorsWhenNotIdempotent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("email", Options{BaseURL: srv.URL, Retry: fastRetry()})
	err := c.Post(context.Background(), "/emails", map[string]string{"to": "a@b.co"}, nil)
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("err = %v, want 500 StatusError", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPostRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"em_1"}`))
	}))
	defer srv.Close()

	c := New("email", Options{BaseURL: srv.URL, Retry: fastRetry()})
	var out struct{ ID string }
	if err := c.Post(context.Background(), "/emails", nil, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if out.ID != "em_1" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("id=%q calls=%d", out.ID, calls)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("voice", Options{BaseURL: srv.URL, Retry: fastRetry()})
	for i := 0; i < 10; i++ {
		if err := c.Get(context.Background(), "/x", nil, nil); !IsStatus(err, http.StatusBadRequest) {
			t.Fatalf("err = %v", err)
		}
	}
	if got := c.Breaker().Counts().TotalFailures; got != 0 {
		t.Fatalf("breaker failures = %d, want 0", got)
	}
}
