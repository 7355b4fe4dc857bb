package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// TestHTTPSender_SignsAndIdentifies verifies the posted body carries a
// verifiable HMAC signature and the identifying headers.
func TestHTTPSender_SignsAndIdentifies(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req := Request{
		Endpoint:  Endpoint{URL: server.URL, Secret: "s3cret"},
		AttemptID: "attempt-1",
		Payload: Payload{
			DecisionID: "dec-1",
			WorkItemID: "item-1",
			UserID:     "alice",
			Action:     domain.ActionNotify,
		},
	}

	result := NewHTTPSender().Send(context.Background(), req)
	if !result.IsSuccess() {
		t.Fatalf("result = %+v, want success", result)
	}

	if got := gotHeader.Get("X-Continuum-Event-ID"); got != "attempt-1" {
		t.Errorf("event id header = %q", got)
	}
	if got := gotHeader.Get("X-Continuum-Decision-ID"); got != "dec-1" {
		t.Errorf("decision id header = %q", got)
	}
	if got := gotHeader.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}

	sig := gotHeader.Get("X-Continuum-Signature")
	if !VerifySignature("s3cret", gotBody, sig) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong", gotBody, sig) {
		t.Error("signature verified with the wrong secret")
	}
}

// TestHTTPSender_ReportsStatusCode verifies non-2xx responses surface in
// the result without an error.
func TestHTTPSender_ReportsStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	result := NewHTTPSender().Send(context.Background(), Request{
		Endpoint: Endpoint{URL: server.URL, Secret: "s"},
	})
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", result.StatusCode)
	}
	if !result.IsRetryable() {
		t.Error("5xx should be retryable")
	}
}

// TestHTTPSender_Timeout verifies the per-endpoint timeout bounds the
// request and yields a retryable error result.
func TestHTTPSender_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	result := NewHTTPSender().Send(context.Background(), Request{
		Endpoint: Endpoint{URL: server.URL, Secret: "s", Timeout: 50 * time.Millisecond},
	})
	if result.Error == nil {
		t.Fatal("expected a timeout error")
	}
	if !result.IsRetryable() {
		t.Error("timeout should be retryable")
	}
}
