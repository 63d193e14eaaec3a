package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/xiaobei/internal/capabilities"
	"github.com/ent0n29/xiaobei/internal/catalog"
	"github.com/ent0n29/xiaobei/internal/config"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/httpapi"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/session"
	"github.com/ent0n29/xiaobei/internal/signing"
)

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"keygen"}, nil, &out, io.Discard); code != 0 {
		t.Fatalf("keygen exit = %d", code)
	}
	if got := strings.TrimSpace(out.String()); len(got) != 64 {
		t.Fatalf("secret = %q, want 64 hex chars", got)
	}
}

func TestSignThenVerify(t *testing.T) {
	var signed bytes.Buffer
	code := run([]string{"sign", "-secret", "s3cret"}, strings.NewReader(`{"hello":"world"}`), &signed, io.Discard)
	if code != 0 {
		t.Fatalf("sign exit = %d", code)
	}
	var env signing.Envelope
	if err := json.Unmarshal(signed.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, signed.String())
	}

	var verified bytes.Buffer
	code = run([]string{"verify", "-secret", "s3cret", "-envelope", signed.String()}, nil, &verified, io.Discard)
	if code != 0 {
		t.Fatalf("verify exit = %d output = %s", code, verified.String())
	}
	var res verifyOutput
	if err := json.Unmarshal(verified.Bytes(), &res); err != nil {
		t.Fatalf("decode verify output: %v", err)
	}
	if !res.Valid || string(res.Message) != `{"hello":"world"}` {
		t.Fatalf("verify output = %+v", res)
	}

	verified.Reset()
	code = run([]string{"verify", "-secret", "other", "-payload", env.Payload, "-signature", env.Signature}, nil, &verified, io.Discard)
	if code != 1 || !strings.Contains(verified.String(), "BAD_SIGNATURE") {
		t.Fatalf("verify with wrong secret exit = %d output = %s", code, verified.String())
	}
}

func TestUsageErrors(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(nil, nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("no args exit = %d, want 2", code)
	}
	if code := run([]string{"sign", "-secret", "x", "-message", "not json"}, nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("bad message exit = %d, want 2", code)
	}
	t.Setenv("XIAOBEI_SECRET", "")
	if code := run([]string{"verify", "-payload", "{}"}, nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("missing secret exit = %d, want 2", code)
	}
	if code := run([]string{"dance"}, nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("unknown command exit = %d, want 2", code)
	}
}

func TestParseLine(t *testing.T) {
	capability, payload, err := parseLine("hello there")
	if err != nil || capability != "chat" {
		t.Fatalf("parseLine(chat) = %q, %v, %v", capability, payload, err)
	}
	capability, payload, err = parseLine(`/send summarize {"text":"abc"}`)
	if err != nil || capability != "summarize" || string(payload.(json.RawMessage)) != `{"text":"abc"}` {
		t.Fatalf("parseLine(send) = %q, %v, %v", capability, payload, err)
	}
	if _, _, err := parseLine(`/send translate {broken`); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
}

func TestChatSession(t *testing.T) {
	cat, err := catalog.Default(catalog.Defaults{})
	if err != nil {
		t.Fatalf("catalog.Default() error = %v", err)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_cli_%d", rand.Int64()))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := dispatch.New(dispatch.Deps{
		Sessions: session.NewManager(cat.AdvertisedNames()),
		Catalog:  cat,
		Handlers: capabilities.Builtin(rand.New(rand.NewPCG(1, 2))),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	ts := httptest.NewServer(httpapi.New(config.Config{}, d, metrics, logger).Router())
	defer ts.Close()

	for _, extra := range [][]string{nil, {"-ws"}} {
		input := strings.Join([]string{
			"hi xiaobei",
			`/send translate {"text":"Hello","to":"es"}`,
			"exit",
		}, "\n")
		args := append([]string{"chat", "-url", ts.URL, "-proof", "x402-cli"}, extra...)
		var out bytes.Buffer
		if code := run(args, strings.NewReader(input), &out, io.Discard); code != 0 {
			t.Fatalf("chat %v exit = %d output = %s", extra, code, out.String())
		}
		text := out.String()
		if !strings.Contains(text, "xiaobei > ") || !strings.Contains(text, "[Translated from auto to es]: Hello") {
			t.Fatalf("chat %v output missing replies:\n%s", extra, text)
		}
		if !strings.Contains(text, "verified/ok") {
			t.Fatalf("chat %v output missing payment status:\n%s", extra, text)
		}
	}
}
