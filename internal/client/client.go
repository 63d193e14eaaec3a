// Package client talks to a xiaobei agent over HTTP and the realtime
// websocket channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/xiaobei/internal/ledger"
	"github.com/ent0n29/xiaobei/internal/protocol"
	"github.com/ent0n29/xiaobei/internal/reliability"
	"github.com/ent0n29/xiaobei/internal/session"
)

const (
	defaultMaxRetries = 2
	defaultRetryBase  = 200 * time.Millisecond
	defaultRetryCap   = 2 * time.Second
)

// APIError is a protocol rejection decoded from a non-2xx response or an
// error_event frame.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Hint      string
	Available []string
	Accepts   *protocol.Accepts
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// From identifies this agent in handshakes.
	From string

	MaxRetries int
	RetryBase  time.Duration
	RetryCap   time.Duration

	mu        sync.Mutex
	sessionID string
	requested []string
}

func New(baseURL, from string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		From:    from,
	}
}

// SessionID is the session opened by the last successful Handshake.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Discover(ctx context.Context) (protocol.Discovery, error) {
	var doc protocol.Discovery
	err := c.do(ctx, http.MethodGet, "/.well-known/agent.json", nil, nil, &doc)
	return doc, err
}

func (c *Client) Health(ctx context.Context) (protocol.Health, error) {
	var h protocol.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

// Handshake opens a session. A nil capabilities list asks for everything the
// agent advertises.
func (c *Client) Handshake(ctx context.Context, capabilities []string) (protocol.HandshakeResponse, error) {
	req := map[string]any{"from": c.From}
	if capabilities != nil {
		req["capabilities_request"] = capabilities
	}
	var out protocol.HandshakeResponse
	err := c.do(ctx, http.MethodPost, "/agent/handshake", req, nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && len(apiErr.Available) == 0 {
			apiErr.Available = out.AvailableCapabilities
		}
		return out, err
	}
	c.mu.Lock()
	c.sessionID = out.SessionID
	c.requested = capabilities
	c.mu.Unlock()
	return out, nil
}

// Send posts one message. proof, when set, travels in the X-PAYMENT header.
func (c *Client) Send(ctx context.Context, sessionID, capability string, payload any, proof string) (protocol.MessageResponse, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return protocol.MessageResponse{}, err
	}
	var headers http.Header
	if proof != "" {
		headers = http.Header{}
		headers.Set(protocol.PaymentHeader, proof)
	}
	var out protocol.MessageResponse
	err = c.do(ctx, http.MethodPost, "/agent/message", protocol.MessageRequest{
		SessionID:  sessionID,
		Capability: capability,
		Payload:    raw,
	}, headers, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context) (session.Listing, error) {
	var out session.Listing
	err := c.do(ctx, http.MethodGet, "/agent/sessions", nil, nil, &out)
	return out, err
}

func (c *Client) Messages(ctx context.Context, sessionID string, limit int) ([]ledger.Entry, error) {
	path := "/agent/sessions/" + url.PathEscape(sessionID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []ledger.Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out.Entries, err
}

// ProofSource produces a payment proof for a capability the agent charges for.
type ProofSource interface {
	Proof(ctx context.Context, capability string, accepts protocol.Accepts) (string, error)
}

type ProofFunc func(ctx context.Context, capability string, accepts protocol.Accepts) (string, error)

func (f ProofFunc) Proof(ctx context.Context, capability string, accepts protocol.Accepts) (string, error) {
	return f(ctx, capability, accepts)
}

// SendAuto sends on the current session, handshaking first when needed. It
// re-handshakes once when the agent no longer knows the session, and pays
// once through proofs when the agent asks for payment.
func (c *Client) SendAuto(ctx context.Context, capability string, payload any, proofs ProofSource) (protocol.MessageResponse, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		hs, err := c.Handshake(ctx, c.requestedCapabilities())
		if err != nil {
			return protocol.MessageResponse{}, fmt.Errorf("handshake: %w", err)
		}
		sessionID = hs.SessionID
	}

	var (
		proof        string
		rehandshaken bool
	)
	for {
		out, err := c.Send(ctx, sessionID, capability, payload, proof)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) {
			return out, err
		}

		switch {
		case apiErr.Code == "session_not_found" && !rehandshaken:
			rehandshaken = true
			hs, hsErr := c.Handshake(ctx, c.requestedCapabilities())
			if hsErr != nil {
				return protocol.MessageResponse{}, fmt.Errorf("re-handshake: %w", hsErr)
			}
			sessionID = hs.SessionID
		case apiErr.Code == "payment_required" && proof == "" && proofs != nil && apiErr.Accepts != nil:
			p, pErr := proofs.Proof(ctx, capability, *apiErr.Accepts)
			if pErr != nil {
				return protocol.MessageResponse{}, fmt.Errorf("obtain payment proof: %w", pErr)
			}
			if p == "" {
				return out, err
			}
			proof = p
		default:
			return out, err
		}
	}
}

func (c *Client) requestedCapabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	base, capDur := c.RetryBase, c.RetryCap
	if base <= 0 {
		base = defaultRetryBase
	}
	if capDur <= 0 {
		capDur = defaultRetryCap
	}

	for attempt := 0; ; attempt++ {
		status, data, err := c.roundTrip(ctx, method, path, raw, headers)
		if err != nil {
			return err
		}
		if reliability.IsRetryableHTTPStatus(status) && attempt < maxRetries {
			if err := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt, base, capDur)); err != nil {
				return err
			}
			continue
		}
		if status >= 200 && status < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
		return decodeAPIError(status, data, out)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, headers http.Header) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return res.StatusCode, data, nil
}

// decodeAPIError builds an APIError from an error body. out also receives
// the body so callers such as Handshake can read endpoint specific fields.
func decodeAPIError(status int, data []byte, out any) error {
	var body protocol.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &APIError{Status: status, Code: "http_" + strconv.Itoa(status), Message: strings.TrimSpace(string(data))}
	}
	if out != nil {
		_ = json.Unmarshal(data, out)
	}
	return &APIError{
		Status:    status,
		Code:      body.Code,
		Message:   body.Error,
		Hint:      body.Hint,
		Available: body.Available,
		Accepts:   body.Accepts,
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return raw, nil
	}
}
