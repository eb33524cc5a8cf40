package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRange(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRange(16, time.Millisecond, nil)
	m.ObserveRange(32, 2*time.Millisecond, nil)
	m.ObserveRange(0, time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.rangeReads.WithLabelValues(resultOK)); got != 2 {
		t.Fatalf("ok reads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rangeReads.WithLabelValues(resultError)); got != 1 {
		t.Fatalf("error reads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rangeBytes); got != 48 {
		t.Fatalf("bytes = %v, want 48", got)
	}
}

func TestObserveFetchAndRequest(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFetch(8, false)
	m.ObserveFetch(8, true)
	m.ObserveFetch(8, true)
	m.ObserveRequest("/v1/tensors", http.StatusOK, time.Millisecond)
	m.ObserveRequest("/v1/tensors", http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("hit")); got != 2 {
		t.Fatalf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetchBytes); got != 24 {
		t.Fatalf("fetch bytes = %v, want 24", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/tensors", "404")); got != 1 {
		t.Fatalf("404 requests = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRange(4, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"tensorbuffers_source_range_reads_total",
		"tensorbuffers_source_range_read_bytes_total 4",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}
