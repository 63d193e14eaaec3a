package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/xiaobei/internal/capabilities"
	"github.com/ent0n29/xiaobei/internal/catalog"
	"github.com/ent0n29/xiaobei/internal/config"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/httpapi"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/protocol"
	"github.com/ent0n29/xiaobei/internal/session"
)

var testSeq atomic.Int64

type agent struct {
	ts       *httptest.Server
	sessions *session.Manager
}

func newAgent(t *testing.T) agent {
	t.Helper()
	cat, err := catalog.Default(catalog.Defaults{PayTo: "0xpayee"})
	if err != nil {
		t.Fatalf("catalog.Default() error = %v", err)
	}
	sessions := session.NewManager(cat.AdvertisedNames())
	metrics := observability.NewMetrics(fmt.Sprintf("test_client_%d", testSeq.Add(1)))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := dispatch.New(dispatch.Deps{
		Sessions: sessions,
		Catalog:  cat,
		Handlers: capabilities.Builtin(rand.New(rand.NewPCG(3, 3))),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	ts := httptest.NewServer(httpapi.New(config.Config{}, d, metrics, logger).Router())
	t.Cleanup(ts.Close)
	return agent{ts: ts, sessions: sessions}
}

func TestDiscoverAndHandshake(t *testing.T) {
	a := newAgent(t)
	c := New(a.ts.URL, "client-test")
	ctx := context.Background()

	doc, err := c.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if doc.Name != "xiaobei" || len(doc.Capabilities) != 4 {
		t.Fatalf("unexpected discovery: %+v", doc)
	}

	hs, err := c.Handshake(ctx, []string{"chat", "teleport"})
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if !hs.Accepted || c.SessionID() != hs.SessionID || len(hs.CapabilitiesAvailable) != 1 {
		t.Fatalf("unexpected handshake: %+v", hs)
	}

	_, err = c.Handshake(ctx, []string{"teleport"})
	if !IsCode(err, "empty_intersection") {
		t.Fatalf("Handshake(teleport) error = %v, want empty_intersection", err)
	}
	var apiErr *APIError
	if ok := asAPIError(err, &apiErr); !ok || len(apiErr.Available) != 4 {
		t.Fatalf("Available = %+v, want advertised list", apiErr)
	}
}

func TestSendReportsProtocolErrors(t *testing.T) {
	a := newAgent(t)
	c := New(a.ts.URL, "client-test")
	ctx := context.Background()
	hs, err := c.Handshake(ctx, []string{"translate"})
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	_, err = c.Send(ctx, hs.SessionID, "translate", map[string]string{"text": "Hello"}, "")
	var apiErr *APIError
	if !asAPIError(err, &apiErr) || apiErr.Status != http.StatusPaymentRequired || apiErr.Accepts == nil {
		t.Fatalf("Send() error = %v, want 402 with accepts", err)
	}
	if apiErr.Accepts.Price != "0.001 USDC" {
		t.Fatalf("Accepts.Price = %q", apiErr.Accepts.Price)
	}

	out, err := c.Send(ctx, hs.SessionID, "translate", map[string]string{"text": "Hello", "to": "es"}, "x402-ok")
	if err != nil {
		t.Fatalf("Send() with proof error = %v", err)
	}
	var result capabilities.TranslateResult
	if err := json.Unmarshal(out.Response, &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.To != "es" || out.Metadata.Payment != "verified" {
		t.Fatalf("unexpected result: %+v / %+v", result, out.Metadata)
	}
}

func TestSendAutoPaysAndRecoversSession(t *testing.T) {
	a := newAgent(t)
	c := New(a.ts.URL, "client-test")
	ctx := context.Background()

	var asked int
	proofs := ProofFunc(func(_ context.Context, capability string, accepts protocol.Accepts) (string, error) {
		asked++
		if capability != "summarize" || accepts.Protocol != "x402" {
			t.Fatalf("Proof(%q, %+v) unexpected", capability, accepts)
		}
		return "x402-paid-" + capability, nil
	})

	out, err := c.SendAuto(ctx, "summarize", map[string]any{"text": "a long text", "max_length": 4}, proofs)
	if err != nil {
		t.Fatalf("SendAuto() error = %v", err)
	}
	if asked != 1 || out.Metadata.Payment != "verified" || out.Metadata.MessageNumber != 1 {
		t.Fatalf("asked = %d metadata = %+v", asked, out.Metadata)
	}

	// Point the client at a session the agent never issued.
	c.mu.Lock()
	stale := c.sessionID
	c.sessionID = "forgotten"
	c.mu.Unlock()

	out, err = c.SendAuto(ctx, "chat", map[string]string{"message": "still there?"}, nil)
	if err != nil {
		t.Fatalf("SendAuto() after lost session error = %v", err)
	}
	if c.SessionID() == "forgotten" || c.SessionID() == stale || out.SessionID != c.SessionID() {
		t.Fatalf("expected a fresh session, got %q (response %q)", c.SessionID(), out.SessionID)
	}
	if n := a.sessions.Count(); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}
}

func TestSendAutoWithoutProofSourceReturnsPaymentError(t *testing.T) {
	a := newAgent(t)
	c := New(a.ts.URL, "client-test")
	_, err := c.SendAuto(context.Background(), "code-review", map[string]string{"code": "x := 1"}, nil)
	if !IsCode(err, "payment_required") {
		t.Fatalf("SendAuto() error = %v, want payment_required", err)
	}
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.Health{OK: true, Timestamp: time.Now()})
	}))
	defer ts.Close()

	c := New(ts.URL, "client-test")
	c.RetryBase = time.Millisecond
	c.RetryCap = 5 * time.Millisecond
	h, err := c.Health(context.Background())
	if err != nil || !h.OK {
		t.Fatalf("Health() = %+v, %v", h, err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestDoesNotRetryProtocolRejection(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: "Invalid or missing session_id", Code: "session_not_found", Hint: protocol.SessionHint})
	}))
	defer ts.Close()

	c := New(ts.URL, "client-test")
	_, err := c.Send(context.Background(), "s", "chat", nil, "")
	var apiErr *APIError
	if !asAPIError(err, &apiErr) || apiErr.Hint != protocol.SessionHint {
		t.Fatalf("Send() error = %v, want session_not_found with hint", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestStream(t *testing.T) {
	a := newAgent(t)
	c := New(a.ts.URL, "client-test")
	ctx := context.Background()
	hs, err := c.Handshake(ctx, []string{"chat", "translate"})
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	stream, err := c.Dial(ctx, hs.SessionID)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer stream.Close()

	out, err := stream.Send(ctx, "chat", map[string]string{"message": "hi"}, "")
	if err != nil {
		t.Fatalf("Stream.Send(chat) error = %v", err)
	}
	if out.Metadata.MessageNumber != 1 || out.Metadata.Outcome != "ok" {
		t.Fatalf("metadata = %+v", out.Metadata)
	}

	_, err = stream.Send(ctx, "translate", map[string]string{"text": "x"}, "")
	if !IsCode(err, "payment_required") {
		t.Fatalf("Stream.Send(translate) error = %v, want payment_required", err)
	}

	if _, err := c.Dial(ctx, "unknown"); err == nil {
		t.Fatalf("Dial(unknown) succeeded")
	}
}

func TestRealtimeURL(t *testing.T) {
	got, err := realtimeURL("https://agent.example/base/", "s 1")
	if err != nil {
		t.Fatalf("realtimeURL() error = %v", err)
	}
	if got != "wss://agent.example/base/agent/ws?session_id=s+1" {
		t.Fatalf("realtimeURL() = %q", got)
	}
	if _, err := realtimeURL("ftp://x", "s"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func asAPIError(err error, target **APIError) bool {
	e, ok := err.(*APIError)
	if ok {
		*target = e
	}
	return ok
}
