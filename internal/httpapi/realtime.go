package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleRealtime runs messages for one session over a websocket. Frames are
// dispatched in arrival order through the same pipeline as POST
// /agent/message.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "query parameter session_id is required")
		return
	}
	sess, err := s.dispatcher.Sessions().Get(sessionID)
	if err != nil {
		s.respondAgentError(w, r, agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = observability.WithSessionData(ctx, &observability.SessionData{SessionID: sess.ID, RequesterID: sess.RequesterID})
	s.logger.InfoContext(ctx, "realtime channel opened")

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", string(frameTypeOf(msg))).Inc()
			}
		}
	}()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		frame := s.handleFrame(ctx, sessionID, data)
		select {
		case <-ctx.Done():
			break readLoop
		case outbound <- frame:
		}
	}

	cancel()
	close(outbound)
	<-writerDone
	s.logger.InfoContext(ctx, "realtime channel closed")
}

func (s *Server) handleFrame(ctx context.Context, sessionID string, data []byte) any {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
		return protocol.ErrorEventFrom("", agenterr.Validation(agenterr.KindInvalidField, "%s", err.Error()))
	}
	s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Message{
		SessionID:    sessionID,
		Capability:   msg.Capability,
		Payload:      msg.Payload,
		PaymentProof: strings.TrimSpace(msg.PaymentProof),
	})
	if err == nil {
		var out protocol.MessageResponse
		out, err = messageResponse(res)
		if err == nil {
			return protocol.MessageResult{Type: protocol.TypeMessageResult, RequestID: msg.RequestID, MessageResponse: out}
		}
	}

	e, ok := agenterr.As(err)
	if !ok {
		s.logger.ErrorContext(ctx, "unclassified error", "error", err)
		e = agenterr.Internal(agenterr.KindInternal, "internal error")
	}
	return protocol.ErrorEventFrom(msg.RequestID, e)
}

func frameTypeOf(v any) protocol.FrameType {
	switch m := v.(type) {
	case protocol.MessageResult:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
