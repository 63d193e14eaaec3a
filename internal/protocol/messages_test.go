package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/ent0n29/xiaobei/internal/agenterr"
)

func TestParseClientMessage(t *testing.T) {
	raw := []byte(`{"type":"message","request_id":"r1","capability":"translate","payload":{"text":"hi"},"payment_proof":"x402-abc"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.RequestID != "r1" || msg.Capability != "translate" || msg.PaymentProof != "x402-abc" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.Payload) != `{"text":"hi"}` {
		t.Fatalf("Payload = %s, want raw object", msg.Payload)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRequiresCapability(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"message","capability":"  "}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestErrorBodyFrom(t *testing.T) {
	body := ErrorBodyFrom(agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id"))
	if body.Code != "session_not_found" || body.Hint != SessionHint || body.Class != "authentication" {
		t.Fatalf("unexpected body: %+v", body)
	}

	details := agenterr.PaymentDetails{Capability: "translate", Protocol: "x402", Price: "0.001 USDC", PayTo: "0xabc"}
	ev := ErrorEventFrom("r9", agenterr.Payment(agenterr.KindPaymentRequired, details, "Payment required"))
	if ev.Type != TypeErrorEvent || ev.RequestID != "r9" || ev.Code != "payment_required" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	want := &Accepts{Protocol: "x402", Price: "0.001 USDC", PayTo: "0xabc"}
	if !reflect.DeepEqual(ev.Accepts, want) {
		t.Fatalf("Accepts = %+v, want %+v", ev.Accepts, want)
	}
}

func TestBuildEndpoints(t *testing.T) {
	got := BuildEndpoints("https://agent.example/")
	if got.Handshake != "https://agent.example/agent/handshake" {
		t.Fatalf("Handshake = %q", got.Handshake)
	}
	if got.Realtime != "wss://agent.example/agent/ws" {
		t.Fatalf("Realtime = %q", got.Realtime)
	}
}

func TestMessageResultFlattensResponse(t *testing.T) {
	frame := MessageResult{
		Type:            TypeMessageResult,
		RequestID:       "r1",
		MessageResponse: MessageResponse{SessionID: "s1", Capability: "chat", Response: json.RawMessage(`{"reply":"hi"}`)},
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if decoded["session_id"] != "s1" || decoded["type"] != "message_result" {
		t.Fatalf("frame = %s", raw)
	}
}

func BenchmarkParseClientMessage(b *testing.B) {
	raw := []byte(`{"type":"message","request_id":"r7","capability":"chat","payload":{"message":"hello there"}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
	}
}
