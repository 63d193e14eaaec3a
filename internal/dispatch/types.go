package dispatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/payment"
)

// Outcome separates a handler that produced a result from one that reported
// a problem with its input. Both are successful dispatches.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeHandlerError Outcome = "handler_error"
)

// HandshakeInput carries the raw handshake fields. CapabilitiesRequest stays
// raw so a non-array value can be told apart from an absent one.
type HandshakeInput struct {
	From                string
	CapabilitiesRequest json.RawMessage
}

func (in HandshakeInput) validate() ([]string, error) {
	if strings.TrimSpace(in.From) == "" {
		return nil, agenterr.Validation(agenterr.KindMissingField, `Missing "from" field`)
	}
	raw := strings.TrimSpace(string(in.CapabilitiesRequest))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "[") {
		return nil, agenterr.Validation(agenterr.KindInvalidField, `"capabilities_request" must be an array`)
	}
	var requested []string
	if err := json.Unmarshal([]byte(raw), &requested); err != nil {
		return nil, agenterr.Validation(agenterr.KindInvalidField, `"capabilities_request" must be an array of strings`)
	}
	if requested == nil {
		requested = []string{}
	}
	return requested, nil
}

// Message is one inbound capability call. PaymentProof arrives out of band
// (a header or frame field), never inside Payload.
type Message struct {
	SessionID    string
	Capability   string
	Payload      json.RawMessage
	PaymentProof string
}

type Metadata struct {
	MessageNumber int            `json:"message_number"`
	Timestamp     time.Time      `json:"timestamp"`
	Payment       payment.Status `json:"payment"`
	Outcome       Outcome        `json:"outcome"`
}

type Result struct {
	SessionID  string   `json:"session_id"`
	Capability string   `json:"capability"`
	Response   any      `json:"response"`
	Metadata   Metadata `json:"metadata"`
}

// HandlerError is the response body when a handler reports an error.
type HandlerError struct {
	Error string `json:"error"`
}
