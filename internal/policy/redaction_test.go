package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	in := "mail me at a.b@example.com, card 4111 1111 1111 1111, key sk_live_abcdefghijklmnop"
	got, changed := RedactPII(in)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, leak := range []string{"a.b@example.com", "4111", "sk_live_abcdefghijklmnop"} {
		if strings.Contains(got, leak) {
			t.Fatalf("redacted output still contains %q: %s", leak, got)
		}
	}
}

func TestExcerptTruncatesByRunes(t *testing.T) {
	got, _ := Excerpt("你好世界hello", 4)
	if got != "你好世界..." {
		t.Fatalf("Excerpt() = %q, want %q", got, "你好世界...")
	}
	got, _ = Excerpt("short", 10)
	if got != "short" {
		t.Fatalf("Excerpt() = %q, want %q", got, "short")
	}
}
