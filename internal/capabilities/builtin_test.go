package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func handle(t *testing.T, h Handler, payload string) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	return h.Handle(context.Background(), raw)
}

func TestTranslateDefaults(t *testing.T) {
	out, err := handle(t, Translate{}, `{"text":"Hello"}`)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	res := out.(TranslateResult)
	if res.From != "auto" || res.To != "en" || !strings.Contains(res.Translated, "Hello") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHandlersReportMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		h       Handler
		payload string
		field   string
	}{
		{"translate", Translate{}, `{}`, "text"},
		{"code-review", CodeReview{}, `null`, "code"},
		{"summarize", Summarize{}, ``, "text"},
		{"chat", NewChat(nil), `{"message":""}`, "message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := handle(t, tc.h, tc.payload)
			var pe *PayloadError
			if !errors.As(err, &pe) {
				t.Fatalf("Handle() error = %v, want *PayloadError", err)
			}
			if !strings.Contains(pe.Message, tc.field) {
				t.Fatalf("message %q does not name %q", pe.Message, tc.field)
			}
		})
	}
}

func TestInvalidPayloadTypeIsPayloadError(t *testing.T) {
	_, err := handle(t, Translate{}, `{"text":42}`)
	var pe *PayloadError
	if !errors.As(err, &pe) {
		t.Fatalf("Handle() error = %v, want *PayloadError", err)
	}
}

func TestCodeReviewCountsLines(t *testing.T) {
	out, err := handle(t, CodeReview{}, `{"code":"a\nb\nc"}`)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	res := out.(CodeReviewResult)
	if res.Lines != 3 || res.Language != "javascript" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSummarizeTruncates(t *testing.T) {
	out, err := handle(t, Summarize{}, `{"text":"abcdefghij","max_length":4}`)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	res := out.(SummarizeResult)
	if res.Summary != "abcd..." || res.OriginalLength != 10 || res.SummaryLength != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}

	out, _ = handle(t, Summarize{}, `{"text":"short"}`)
	if got := out.(SummarizeResult).Summary; got != "short" {
		t.Fatalf("Summary = %q, want %q", got, "short")
	}
}

func TestChatIsDeterministicWithSeed(t *testing.T) {
	pick := func() string {
		c := NewChat(rand.New(rand.NewPCG(7, 7)))
		out, err := handle(t, c, `{"message":"hi"}`)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		return out.(ChatResult).Reply
	}

	want := ChatReplies("hi")[rand.New(rand.NewPCG(7, 7)).IntN(3)]
	if got := pick(); got != want {
		t.Fatalf("Reply = %q, want %q", got, want)
	}
	if pick() != pick() {
		t.Fatalf("same seed produced different replies")
	}
}

func TestBuiltinRegistry(t *testing.T) {
	r := Builtin(nil)
	for _, name := range []string{"translate", "code-review", "summarize", "chat"} {
		if _, ok := r.Lookup(name); !ok {
			t.Fatalf("Lookup(%q) missing", name)
		}
	}
	schemas := r.Schemas()
	tr := schemas["translate"]
	if tr == nil || tr.Type != "object" {
		t.Fatalf("translate schema = %+v, want object", tr)
	}
	if _, ok := tr.Properties.Get("text"); !ok {
		t.Fatalf("translate schema missing text property")
	}
}
