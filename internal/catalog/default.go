package catalog

const (
	DefaultProtocol        = "xiaobei/v1"
	DefaultPaymentProtocol = "x402"
)

// Defaults parameterizes the built-in catalog.
type Defaults struct {
	Version         string
	PaymentProtocol string
	PayTo           string
}

// Default builds the xiaobei catalog: translation, code review and
// summarization are paid per call, chat is free.
func Default(d Defaults) (*Catalog, error) {
	if d.Version == "" {
		d.Version = "0.1.0"
	}
	if d.PaymentProtocol == "" {
		d.PaymentProtocol = DefaultPaymentProtocol
	}
	if d.PayTo == "" {
		d.PayTo = "xiaobei"
	}

	agent := Agent{
		Protocol:    DefaultProtocol,
		Name:        "xiaobei",
		Description: "Compass AI - translation, code review, summarization, chat",
		Version:     d.Version,
		Created:     "2026-01-31T00:00:00Z",
		Links: map[string]string{
			"blog":       "https://i90o.github.io/xiaobei-blog/",
			"shellmates": "xiaobei",
			"moltbook":   "CompassAI",
			"lobchan":    "xiaobei",
		},
	}

	paid := func(name, desc, price string) Descriptor {
		return Descriptor{
			Name:            name,
			Description:     desc,
			PaymentRequired: true,
			Price:           price,
			PayTo:           d.PayTo,
			PaymentProtocol: d.PaymentProtocol,
		}
	}

	return New(agent, []Descriptor{
		paid("translate", "Translate text between languages.", "0.001 USDC"),
		paid("code-review", "Review a code snippet.", "0.01 USDC"),
		paid("summarize", "Summarize text to a maximum length.", "0.005 USDC"),
		{Name: "chat", Description: "Free-form chat with xiaobei."},
	})
}
