// Package dispatch runs the handshake and the per-message pipeline:
// authorization, payment, session bookkeeping, handler invocation and the
// response envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/capabilities"
	"github.com/ent0n29/xiaobei/internal/catalog"
	"github.com/ent0n29/xiaobei/internal/ledger"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/payment"
	"github.com/ent0n29/xiaobei/internal/session"
)

type Deps struct {
	Sessions *session.Manager
	Catalog  *catalog.Catalog
	Payments *payment.Gate
	Handlers *capabilities.Registry
	Ledger   ledger.Store
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Dispatcher struct {
	sessions *session.Manager
	catalog  *catalog.Catalog
	payments *payment.Gate
	handlers *capabilities.Registry
	ledger   ledger.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(d Deps) (*Dispatcher, error) {
	if d.Sessions == nil || d.Catalog == nil || d.Handlers == nil || d.Metrics == nil {
		return nil, errors.New("dispatch: sessions, catalog, handlers and metrics are required")
	}
	if d.Payments == nil {
		d.Payments = payment.NewGate(nil)
	}
	if d.Ledger == nil {
		d.Ledger = ledger.NewInMemoryStore(0)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	for _, name := range d.Catalog.AdvertisedNames() {
		if _, ok := d.Handlers.Lookup(name); !ok {
			return nil, agenterr.Internal(agenterr.KindCatalogMisconfigured, "no handler for advertised capability %q", name)
		}
	}
	return &Dispatcher{
		sessions: d.Sessions,
		catalog:  d.Catalog,
		payments: d.Payments,
		handlers: d.Handlers,
		ledger:   d.Ledger,
		metrics:  d.Metrics,
		logger:   d.Logger.With("component", "dispatch"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (d *Dispatcher) Catalog() *catalog.Catalog { return d.catalog }

func (d *Dispatcher) Sessions() *session.Manager { return d.sessions }

func (d *Dispatcher) Handlers() *capabilities.Registry { return d.handlers }

func (d *Dispatcher) Ledger() ledger.Store { return d.ledger }

// Handshake validates in and creates a session bound to the granted
// capabilities.
func (d *Dispatcher) Handshake(ctx context.Context, in HandshakeInput) (*session.Session, error) {
	requested, err := in.validate()
	if err != nil {
		d.metrics.Handshakes.WithLabelValues("rejected").Inc()
		return nil, err
	}

	s, err := d.sessions.Create(in.From, requested)
	if err != nil {
		d.metrics.Handshakes.WithLabelValues("rejected").Inc()
		if errors.Is(err, session.ErrEmptyIntersection) {
			return nil, agenterr.Validation(agenterr.KindEmptyIntersection, "No matching capabilities").
				WithAvailable(d.catalog.AdvertisedNames())
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	d.metrics.Handshakes.WithLabelValues("accepted").Inc()
	d.metrics.ActiveSessions.Set(float64(d.sessions.Count()))
	ctx = observability.WithSessionData(ctx, &observability.SessionData{SessionID: s.ID, RequesterID: s.RequesterID})
	d.logger.InfoContext(ctx, "session created", "capabilities", s.Capabilities)
	return s, nil
}

// Dispatch runs one message. Rejections by either gate return a classified
// error and leave the session untouched; once both gates pass the message is
// counted before the handler runs.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (Result, error) {
	auth := d.authorize(msg)
	if !auth.Allowed {
		d.metrics.Messages.WithLabelValues(d.metricCapability(msg.Capability), "rejected_"+auth.Err.Code()).Inc()
		return Result{}, auth.Err
	}
	sess := auth.Session
	ctx = observability.WithSessionData(ctx, &observability.SessionData{SessionID: sess.ID, RequesterID: sess.RequesterID})

	desc, err := d.catalog.Describe(msg.Capability)
	if err != nil {
		d.logger.ErrorContext(ctx, "granted capability missing from catalog", "capability", msg.Capability)
		return Result{}, agenterr.Internal(agenterr.KindCatalogMisconfigured, "capability %q is not in the catalog", msg.Capability)
	}

	pay := d.payments.Check(ctx, desc, msg.PaymentProof)
	d.metrics.PaymentDecisions.WithLabelValues(desc.Name, string(pay.Outcome)).Inc()
	if !pay.Proceed() {
		d.metrics.Messages.WithLabelValues(desc.Name, "rejected_"+pay.Err.Code()).Inc()
		d.logger.InfoContext(ctx, "payment gate rejected message", "capability", desc.Name, "outcome", pay.Outcome)
		return Result{}, pay.Err
	}

	touched, err := d.sessions.Touch(sess.ID)
	if err != nil {
		return Result{}, agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id")
	}

	response, outcome := d.invoke(ctx, desc.Name, msg)
	d.metrics.Messages.WithLabelValues(desc.Name, string(outcome)).Inc()

	res := Result{
		SessionID:  sess.ID,
		Capability: desc.Name,
		Response:   response,
		Metadata: Metadata{
			MessageNumber: touched.MessageCount,
			Timestamp:     d.now(),
			Payment:       pay.Status,
			Outcome:       outcome,
		},
	}
	d.record(ctx, touched, msg, res)
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, capability string, msg Message) (response any, outcome Outcome) {
	h, ok := d.handlers.Lookup(capability)
	if !ok {
		return HandlerError{Error: "Unknown capability"}, OutcomeHandlerError
	}

	start := time.Now()
	defer func() {
		d.metrics.ObserveHandlerLatency(capability, time.Since(start))
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "capability handler panicked", "capability", capability, "panic", fmt.Sprint(r))
			response, outcome = HandlerError{Error: "capability handler failed"}, OutcomeHandlerError
		}
	}()

	out, err := h.Handle(ctx, msg.Payload)
	if err != nil {
		var pe *capabilities.PayloadError
		if !errors.As(err, &pe) {
			d.logger.WarnContext(ctx, "capability handler failed", "capability", capability, "error", err)
		}
		return HandlerError{Error: err.Error()}, OutcomeHandlerError
	}
	return out, OutcomeOK
}
