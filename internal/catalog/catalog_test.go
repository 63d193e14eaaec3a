package catalog

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ent0n29/xiaobei/internal/agenterr"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default(Defaults{PayTo: "0xabc"})
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	want := []string{"translate", "code-review", "summarize", "chat"}
	if got := c.AdvertisedNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("AdvertisedNames() = %v, want %v", got, want)
	}

	tr, err := c.Describe("translate")
	if err != nil {
		t.Fatalf("Describe(translate) error = %v", err)
	}
	if !tr.PaymentRequired || tr.PaymentProtocol != "x402" || tr.PayTo != "0xabc" || tr.Price == "" {
		t.Fatalf("unexpected translate descriptor: %+v", tr)
	}

	chat, _ := c.Describe("chat")
	if chat.PaymentRequired {
		t.Fatalf("chat should be free")
	}

	pricing := c.Pricing()
	if pricing["chat"].Price != "free" {
		t.Fatalf("chat price = %q, want free", pricing["chat"].Price)
	}
	if pricing["summarize"].Protocol != "x402" {
		t.Fatalf("summarize protocol = %q, want x402", pricing["summarize"].Protocol)
	}
}

func TestDescribeUnknown(t *testing.T) {
	c, _ := Default(Defaults{})
	if _, err := c.Describe("teleport"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Describe(teleport) error = %v, want ErrNotFound", err)
	}
}

func TestAdvertisedNamesIsACopy(t *testing.T) {
	c, _ := Default(Defaults{})
	names := c.AdvertisedNames()
	names[0] = "mutated"
	if c.AdvertisedNames()[0] != "translate" {
		t.Fatalf("catalog order was mutated through returned slice")
	}
}

func TestNewRejectsMisconfiguration(t *testing.T) {
	cases := []struct {
		name        string
		descriptors []Descriptor
	}{
		{"empty", nil},
		{"blank name", []Descriptor{{Name: " "}}},
		{"duplicate", []Descriptor{{Name: "chat"}, {Name: "chat"}}},
		{"paid without price", []Descriptor{{Name: "translate", PaymentRequired: true, PayTo: "x", PaymentProtocol: "x402"}}},
		{"paid without payee", []Descriptor{{Name: "translate", PaymentRequired: true, Price: "1", PaymentProtocol: "x402"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Agent{Name: "a"}, tc.descriptors)
			if !agenterr.IsKind(err, agenterr.KindCatalogMisconfigured) {
				t.Fatalf("New() error = %v, want CATALOG_MISCONFIGURED", err)
			}
		})
	}
}

func TestFreeDescriptorDropsPaymentFields(t *testing.T) {
	c, err := New(Agent{Name: "a"}, []Descriptor{{Name: "chat", Price: "1", PayTo: "x"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d, _ := c.Describe("chat")
	if d.Price != "" || d.PayTo != "" {
		t.Fatalf("free descriptor kept payment fields: %+v", d)
	}
}
