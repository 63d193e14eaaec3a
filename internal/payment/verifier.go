package payment

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const maxProofBytes = 4096

var ErrInvalidProof = errors.New("invalid payment proof")

// Requirement is what a paid capability asks of each call.
type Requirement struct {
	Capability string
	Protocol   string
	Price      string
	PayTo      string
}

// Receipt is the verifier's acknowledgement of an accepted proof.
type Receipt struct {
	Reference  string
	VerifiedAt time.Time
}

// Verifier checks a payment proof against a requirement. Implementations
// backed by a settlement network replace HeuristicVerifier without touching
// the gate.
type Verifier interface {
	Verify(ctx context.Context, proof string, req Requirement) (Receipt, error)
}

var invalidProofPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid`),
	regexp.MustCompile(`(?i)^(fake|forged|bogus)`),
	regexp.MustCompile(`(?i)^(none|null|undefined)$`),
}

// HeuristicVerifier accepts any well-formed token that does not look like an
// invalid sentinel. It settles nothing.
type HeuristicVerifier struct {
	now func() time.Time
}

func NewHeuristicVerifier() *HeuristicVerifier {
	return &HeuristicVerifier{now: func() time.Time { return time.Now().UTC() }}
}

func (v *HeuristicVerifier) Verify(ctx context.Context, proof string, _ Requirement) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	token := strings.TrimSpace(proof)
	if token == "" || len(token) > maxProofBytes {
		return Receipt{}, ErrInvalidProof
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return Receipt{}, ErrInvalidProof
		}
	}
	for _, re := range invalidProofPatterns {
		if re.MatchString(token) {
			return Receipt{}, ErrInvalidProof
		}
	}
	ref := token
	if len(ref) > 16 {
		ref = ref[:16]
	}
	return Receipt{Reference: ref, VerifiedAt: v.now()}, nil
}
