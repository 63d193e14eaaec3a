// Package payment enforces per-call payment for capabilities marked as paid.
//
// Verification is stateless: proofs are not recorded as consumed, so one valid
// proof is accepted on every call that presents it.
package payment

import (
	"context"
	"strings"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/catalog"
)

type Status string

const (
	StatusFree     Status = "free"
	StatusVerified Status = "verified"
)

type Outcome string

const (
	OutcomeProceed         Outcome = "proceed"
	OutcomePaymentRequired Outcome = "payment_required"
	OutcomePaymentInvalid  Outcome = "payment_invalid"
)

type Decision struct {
	Outcome     Outcome
	Status      Status
	Requirement Requirement
	Receipt     *Receipt
	Err         *agenterr.Error
}

func (d Decision) Proceed() bool { return d.Outcome == OutcomeProceed }

type Gate struct {
	verifier Verifier
}

func NewGate(v Verifier) *Gate {
	if v == nil {
		v = NewHeuristicVerifier()
	}
	return &Gate{verifier: v}
}

// Check decides whether a call to d may proceed given proof (empty when the
// caller attached none). Free capabilities ignore proof entirely.
func (g *Gate) Check(ctx context.Context, d catalog.Descriptor, proof string) Decision {
	if !d.PaymentRequired {
		return Decision{Outcome: OutcomeProceed, Status: StatusFree}
	}

	req := Requirement{
		Capability: d.Name,
		Protocol:   d.PaymentProtocol,
		Price:      d.Price,
		PayTo:      d.PayTo,
	}
	details := agenterr.PaymentDetails{
		Capability: req.Capability,
		Protocol:   req.Protocol,
		Price:      req.Price,
		PayTo:      req.PayTo,
	}

	if strings.TrimSpace(proof) == "" {
		return Decision{
			Outcome:     OutcomePaymentRequired,
			Requirement: req,
			Err: agenterr.Payment(agenterr.KindPaymentRequired, details,
				"capability %q requires %s payment of %s to %s", d.Name, req.Protocol, req.Price, req.PayTo),
		}
	}

	receipt, err := g.verifier.Verify(ctx, proof, req)
	if err != nil {
		return Decision{
			Outcome:     OutcomePaymentInvalid,
			Requirement: req,
			Err:         agenterr.Payment(agenterr.KindPaymentInvalid, details, "payment proof rejected: %v", err),
		}
	}
	return Decision{
		Outcome:     OutcomeProceed,
		Status:      StatusVerified,
		Requirement: req,
		Receipt:     &receipt,
	}
}
