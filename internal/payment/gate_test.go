package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/catalog"
)

var (
	paid = catalog.Descriptor{
		Name:            "translate",
		PaymentRequired: true,
		Price:           "0.001 USDC",
		PayTo:           "0xabc",
		PaymentProtocol: "x402",
	}
	free = catalog.Descriptor{Name: "chat"}
)

func TestCheckFreeNeverFails(t *testing.T) {
	g := NewGate(nil)
	for _, proof := range []string{"", "tok_123", "invalid", strings.Repeat("x", maxProofBytes+1)} {
		d := g.Check(context.Background(), free, proof)
		if !d.Proceed() || d.Status != StatusFree || d.Err != nil {
			t.Fatalf("Check(free, %q) = %+v, want proceed/free", proof, d)
		}
	}
}

func TestCheckPaidWithoutProof(t *testing.T) {
	g := NewGate(nil)
	for _, proof := range []string{"", "   "} {
		d := g.Check(context.Background(), paid, proof)
		if d.Outcome != OutcomePaymentRequired {
			t.Fatalf("Outcome = %q, want %q", d.Outcome, OutcomePaymentRequired)
		}
		if d.Err.Kind != agenterr.KindPaymentRequired || d.Err.Class != agenterr.ClassPayment {
			t.Fatalf("Err = %+v, want PAYMENT_REQUIRED", d.Err)
		}
		p := d.Err.Payment
		if p == nil || p.Protocol != "x402" || p.Price == "" || p.PayTo == "" {
			t.Fatalf("payment details = %+v, want protocol/price/payee", p)
		}
	}
}

func TestCheckPaidWithValidProof(t *testing.T) {
	g := NewGate(nil)
	d := g.Check(context.Background(), paid, "x402-proof-0xdeadbeef")
	if !d.Proceed() || d.Status != StatusVerified || d.Receipt == nil {
		t.Fatalf("Check() = %+v, want proceed/verified", d)
	}
}

func TestCheckPaidWithInvalidProof(t *testing.T) {
	g := NewGate(nil)
	for _, proof := range []string{"invalid-proof", "INVALID", "fake-123", "null", "has space", strings.Repeat("a", maxProofBytes+1)} {
		d := g.Check(context.Background(), paid, proof)
		if d.Outcome != OutcomePaymentInvalid || d.Err.Kind != agenterr.KindPaymentInvalid {
			t.Fatalf("Check(%q) = %+v, want PAYMENT_INVALID", proof, d)
		}
	}
}

func TestCheckReplayedProofIsAccepted(t *testing.T) {
	// Proofs are not tracked as consumed; the same proof keeps working.
	g := NewGate(nil)
	for i := 0; i < 3; i++ {
		if d := g.Check(context.Background(), paid, "proof-abc"); !d.Proceed() {
			t.Fatalf("call %d: %+v, want proceed", i, d)
		}
	}
}

type recordingVerifier struct {
	calls int
	err   error
}

func (v *recordingVerifier) Verify(_ context.Context, _ string, req Requirement) (Receipt, error) {
	v.calls++
	if req.Capability != "translate" {
		return Receipt{}, errors.New("wrong capability")
	}
	return Receipt{Reference: "settled"}, v.err
}

func TestCheckUsesPluggableVerifier(t *testing.T) {
	v := &recordingVerifier{}
	g := NewGate(v)

	d := g.Check(context.Background(), paid, "invalid-looking-but-settled")
	if !d.Proceed() || d.Receipt.Reference != "settled" {
		t.Fatalf("Check() = %+v, want verifier's receipt", d)
	}

	v.err = errors.New("not settled")
	if d := g.Check(context.Background(), paid, "anything"); d.Outcome != OutcomePaymentInvalid {
		t.Fatalf("Outcome = %q, want %q", d.Outcome, OutcomePaymentInvalid)
	}

	g.Check(context.Background(), free, "anything")
	if v.calls != 2 {
		t.Fatalf("verifier calls = %d, want 2 (free capability must not verify)", v.calls)
	}
}

func TestHeuristicVerifierHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHeuristicVerifier().Verify(ctx, "ok-token", Requirement{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Verify() error = %v, want context.Canceled", err)
	}
}
