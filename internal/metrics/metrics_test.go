package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.Ozon.ru/product/1/", "www.ozon.ru"},
		{"no scheme", "ozon.ru/search", "ozon.ru"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(acquisitionsTotal.WithLabelValues("metrics_test"))
	ObserveAcquisition("metrics_test")
	if got := testutil.ToFloat64(acquisitionsTotal.WithLabelValues("metrics_test")); got != before+1 {
		t.Errorf("expected acquisitions to grow by 1, got %f -> %f", before, got)
	}

	sessions := testutil.ToFloat64(activeSessions)
	IncActiveSessions()
	DecActiveSessions()
	if got := testutil.ToFloat64(activeSessions); got != sessions {
		t.Errorf("expected session gauge to return to %f, got %f", sessions, got)
	}

	ObserveStage("locate", 2*time.Second)
	if n := testutil.CollectAndCount(stageDurationSeconds); n == 0 {
		t.Errorf("expected stage histogram to be observed")
	}

	idle := testutil.ToFloat64(workerIdlePollsTotal)
	ObserveIdlePoll()
	if got := testutil.ToFloat64(workerIdlePollsTotal); got != idle+1 {
		t.Errorf("expected idle polls to grow by 1")
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://ozon.ru", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
