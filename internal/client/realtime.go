package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/xiaobei/internal/protocol"
)

// Stream is an open realtime channel bound to one session. Calls are
// serialized; each Send waits for its own reply frame.
type Stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial opens the realtime channel for sessionID.
func (c *Client) Dial(ctx context.Context, sessionID string) (*Stream, error) {
	wsURL, err := realtimeURL(c.BaseURL, sessionID)
	if err != nil {
		return nil, err
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial realtime channel: %w (status %d)", err, res.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime channel: %w", err)
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) Send(ctx context.Context, capability string, payload any, proof string) (protocol.MessageResponse, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return protocol.MessageResponse{}, err
	}
	requestID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(protocol.ClientMessage{
		Type:         protocol.TypeMessage,
		RequestID:    requestID,
		Capability:   capability,
		Payload:      raw,
		PaymentProof: proof,
	}); err != nil {
		return protocol.MessageResponse{}, fmt.Errorf("write frame: %w", err)
	}

	_ = s.conn.SetReadDeadline(deadline)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return protocol.MessageResponse{}, fmt.Errorf("read frame: %w", err)
		}
		var env struct {
			Type      protocol.FrameType `json:"type"`
			RequestID string             `json:"request_id"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return protocol.MessageResponse{}, fmt.Errorf("decode frame: %w", err)
		}
		if env.RequestID != "" && env.RequestID != requestID {
			continue
		}
		switch env.Type {
		case protocol.TypeMessageResult:
			var frame protocol.MessageResult
			if err := json.Unmarshal(data, &frame); err != nil {
				return protocol.MessageResponse{}, fmt.Errorf("decode message_result: %w", err)
			}
			return frame.MessageResponse, nil
		case protocol.TypeErrorEvent:
			var ev protocol.ErrorEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return protocol.MessageResponse{}, fmt.Errorf("decode error_event: %w", err)
			}
			return protocol.MessageResponse{}, &APIError{
				Code:      ev.Code,
				Message:   ev.Detail,
				Available: ev.Available,
				Accepts:   ev.Accepts,
			}
		default:
			return protocol.MessageResponse{}, fmt.Errorf("unexpected frame type %q", env.Type)
		}
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

func realtimeURL(base, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/agent/ws"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String(), nil
}
