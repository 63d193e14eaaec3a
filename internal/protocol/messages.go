package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/catalog"
)

// PaymentHeader carries the payment proof for POST /agent/message.
const PaymentHeader = "X-PAYMENT"

// SessionHint accompanies every session_not_found error.
const SessionHint = "First call POST /agent/handshake to create a session"

type HandshakeRequest struct {
	From                string          `json:"from"`
	CapabilitiesRequest json.RawMessage `json:"capabilities_request,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
}

type HandshakeResponse struct {
	Accepted              bool                     `json:"accepted"`
	SessionID             string                   `json:"session_id,omitempty"`
	Agent                 string                   `json:"agent,omitempty"`
	CapabilitiesAvailable []string                 `json:"capabilities_available,omitempty"`
	Pricing               map[string]catalog.Price `json:"pricing,omitempty"`
	Message               string                   `json:"message,omitempty"`

	// Set when Accepted is false.
	Error                 string   `json:"error,omitempty"`
	Code                  string   `json:"code,omitempty"`
	AvailableCapabilities []string `json:"available_capabilities,omitempty"`
}

type MessageRequest struct {
	SessionID  string          `json:"session_id"`
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type MessageMetadata struct {
	MessageNumber int       `json:"message_number"`
	Timestamp     time.Time `json:"timestamp"`
	Payment       string    `json:"payment"`
	Outcome       string    `json:"outcome"`
}

type MessageResponse struct {
	SessionID  string          `json:"session_id"`
	Capability string          `json:"capability"`
	Response   json.RawMessage `json:"response"`
	Metadata   MessageMetadata `json:"metadata"`
}

// Accepts tells a caller how to pay for a capability.
type Accepts struct {
	Protocol string `json:"protocol"`
	Price    string `json:"price"`
	PayTo    string `json:"pay_to"`
}

// ErrorBody is the JSON body of every non-2xx agent response.
type ErrorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Class     string   `json:"class,omitempty"`
	Hint      string   `json:"hint,omitempty"`
	Available []string `json:"available,omitempty"`
	Accepts   *Accepts `json:"accepts,omitempty"`
}

// ErrorBodyFrom renders a classified error for the wire.
func ErrorBodyFrom(e *agenterr.Error) ErrorBody {
	body := ErrorBody{
		Error:     e.Message,
		Code:      e.Code(),
		Class:     string(e.Class),
		Available: e.Available,
	}
	if e.Kind == agenterr.KindSessionNotFound {
		body.Hint = SessionHint
	}
	if e.Payment != nil {
		body.Accepts = &Accepts{Protocol: e.Payment.Protocol, Price: e.Payment.Price, PayTo: e.Payment.PayTo}
	}
	return body
}

type Endpoints struct {
	Discovery string `json:"discovery"`
	Handshake string `json:"handshake"`
	Message   string `json:"message"`
	Sessions  string `json:"sessions"`
	Realtime  string `json:"realtime"`
	Health    string `json:"health"`
}

// Discovery is the /.well-known/agent.json document.
type Discovery struct {
	catalog.Agent
	Capabilities []string                      `json:"capabilities"`
	Endpoint     string                        `json:"endpoint"`
	Handshake    string                        `json:"handshake"`
	Message      string                        `json:"message"`
	Pricing      map[string]catalog.Price      `json:"pricing"`
	Schemas      map[string]*jsonschema.Schema `json:"schemas,omitempty"`
}

type Info struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Protocol     string            `json:"protocol"`
	Description  string            `json:"description"`
	Capabilities []string          `json:"capabilities"`
	Endpoints    Endpoints         `json:"endpoints"`
	Links        map[string]string `json:"links,omitempty"`
}

type Health struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildEndpoints derives the public URLs from a base such as
// "http://localhost:3401".
func BuildEndpoints(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return Endpoints{
		Discovery: base + "/.well-known/agent.json",
		Handshake: base + "/agent/handshake",
		Message:   base + "/agent/message",
		Sessions:  base + "/agent/sessions",
		Realtime:  ws + "/agent/ws",
		Health:    base + "/health",
	}
}

// FrameType identifies websocket frame variants.
type FrameType string

const (
	TypeMessage       FrameType = "message"
	TypeMessageResult FrameType = "message_result"
	TypeErrorEvent    FrameType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported frame type")

type Envelope struct {
	Type FrameType `json:"type"`
}

type ClientMessage struct {
	Type         FrameType       `json:"type"`
	RequestID    string          `json:"request_id,omitempty"`
	Capability   string          `json:"capability"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PaymentProof string          `json:"payment_proof,omitempty"`
}

type MessageResult struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	MessageResponse
}

type ErrorEvent struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Code      string    `json:"code"`
	Class     string    `json:"class"`
	Detail    string    `json:"detail"`
	Available []string  `json:"available,omitempty"`
	Accepts   *Accepts  `json:"accepts,omitempty"`
}

// ErrorEventFrom mirrors ErrorBodyFrom for the websocket channel.
func ErrorEventFrom(requestID string, e *agenterr.Error) ErrorEvent {
	body := ErrorBodyFrom(e)
	return ErrorEvent{
		Type:      TypeErrorEvent,
		RequestID: requestID,
		Code:      body.Code,
		Class:     body.Class,
		Detail:    body.Error,
		Available: body.Available,
		Accepts:   body.Accepts,
	}
}

func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientMessage{}, err
		}
		if strings.TrimSpace(msg.Capability) == "" {
			return ClientMessage{}, errors.New("invalid message: capability is required")
		}
		return msg, nil
	default:
		return ClientMessage{}, ErrUnsupportedType
	}
}
