package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersOperationsAndHTTP(t *testing.T) {
	ObserveOperation("sign_message", "ok", 120*time.Millisecond)
	ObserveOperation("sign_message", "SIGNING_FAILED", 3*time.Second)
	ObserveHTTPRequest("/api/v1/wallets", http.MethodPost, http.StatusBadGateway, 80*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`walletd_operations_total{operation="sign_message",outcome="ok"} `,
		`walletd_operations_total{operation="sign_message",outcome="SIGNING_FAILED"} `,
		`walletd_operation_duration_seconds_bucket{operation="sign_message",le="0.25"} `,
		`walletd_http_request_errors_total{handler="/api/v1/wallets",method="POST"} `,
		`walletd_http_requests_total{handler="/api/v1/wallets",method="POST",code="502"} `,
		"# TYPE walletd_operation_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := newHistogram()
	h.observe(0.07)
	h.observe(100)
	if h.counts[0] != 0 || h.counts[1] != 1 || h.counts[len(h.counts)-1] != 1 {
		t.Fatalf("unexpected bucket counts %v", h.counts)
	}
	if h.count != 2 {
		t.Fatalf("count should include overflow values")
	}
}
