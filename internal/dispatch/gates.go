package dispatch

import (
	"context"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/ledger"
	"github.com/ent0n29/xiaobei/internal/policy"
	"github.com/ent0n29/xiaobei/internal/session"
	"github.com/ent0n29/xiaobei/internal/signing"
)

const excerptRunes = 256

func (d *Dispatcher) authorize(msg Message) policy.Decision {
	return policy.Authorize(d.sessions, msg.SessionID, msg.Capability)
}

// metricCapability keeps label cardinality bounded to advertised names.
func (d *Dispatcher) metricCapability(name string) string {
	if _, err := d.catalog.Describe(name); err != nil {
		return "unknown"
	}
	return name
}

// record writes the ledger entry. Failures are logged and counted only; the
// caller already has its answer.
func (d *Dispatcher) record(ctx context.Context, s *session.Session, msg Message, res Result) {
	digest, err := signing.Hash(msg.Payload)
	if err != nil {
		digest = ""
	}
	excerpt, redacted := policy.Excerpt(string(msg.Payload), excerptRunes)

	entry := ledger.Entry{
		SessionID:      s.ID,
		RequesterID:    s.RequesterID,
		Capability:     res.Capability,
		MessageNumber:  res.Metadata.MessageNumber,
		Payment:        string(res.Metadata.Payment),
		Outcome:        string(res.Metadata.Outcome),
		PayloadDigest:  digest,
		PayloadExcerpt: excerpt,
		PIIRedacted:    redacted,
		CreatedAt:      res.Metadata.Timestamp,
	}
	if err := d.ledger.Record(ctx, entry); err != nil {
		d.metrics.LedgerErrors.Inc()
		d.logger.WarnContext(ctx, "ledger write failed", "error", err)
	}
}

// Recent returns the ledger entries of a known session.
func (d *Dispatcher) Recent(ctx context.Context, sessionID string, limit int) ([]ledger.Entry, error) {
	if _, err := d.sessions.Get(sessionID); err != nil {
		return nil, agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id")
	}
	return d.ledger.Recent(ctx, sessionID, limit)
}
