package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
)

const defaultSummaryLength = 200

type TranslatePayload struct {
	Text string `json:"text" jsonschema:"minLength=1,description=Text to translate"`
	From string `json:"from,omitempty" jsonschema:"description=Source language (default auto)"`
	To   string `json:"to,omitempty" jsonschema:"description=Target language (default en)"`
}

type TranslateResult struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	From       string `json:"from"`
	To         string `json:"to"`
	Note       string `json:"note"`
}

type Translate struct{}

func (Translate) Schema() *jsonschema.Schema { return reflectSchema[TranslatePayload]() }

func (Translate) Handle(_ context.Context, raw json.RawMessage) (any, error) {
	var p TranslatePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, missing("text")
	}
	if p.From == "" {
		p.From = "auto"
	}
	if p.To == "" {
		p.To = "en"
	}
	return TranslateResult{
		Original:   p.Text,
		Translated: fmt.Sprintf("[Translated from %s to %s]: %s", p.From, p.To, p.Text),
		From:       p.From,
		To:         p.To,
		Note:       "This is a placeholder. Real translation coming soon.",
	}, nil
}

type CodeReviewPayload struct {
	Code     string `json:"code" jsonschema:"minLength=1,description=Source code to review"`
	Language string `json:"language,omitempty" jsonschema:"description=Language of the snippet (default javascript)"`
}

type CodeReviewResult struct {
	Language    string   `json:"language"`
	Lines       int      `json:"lines"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Score       int      `json:"score"`
	Note        string   `json:"note"`
}

type CodeReview struct{}

func (CodeReview) Schema() *jsonschema.Schema { return reflectSchema[CodeReviewPayload]() }

func (CodeReview) Handle(_ context.Context, raw json.RawMessage) (any, error) {
	var p CodeReviewPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, missing("code")
	}
	if p.Language == "" {
		p.Language = "javascript"
	}
	return CodeReviewResult{
		Language:    p.Language,
		Lines:       strings.Count(p.Code, "\n") + 1,
		Issues:      []string{},
		Suggestions: []string{"Add comments for better readability"},
		Score:       85,
		Note:        "This is a placeholder. Real code review coming soon.",
	}, nil
}

type SummarizePayload struct {
	Text      string `json:"text" jsonschema:"minLength=1,description=Text to summarize"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"minimum=1,description=Maximum summary length in characters (default 200)"`
}

type SummarizeResult struct {
	OriginalLength int    `json:"original_length"`
	SummaryLength  int    `json:"summary_length"`
	Summary        string `json:"summary"`
	Note           string `json:"note"`
}

type Summarize struct{}

func (Summarize) Schema() *jsonschema.Schema { return reflectSchema[SummarizePayload]() }

func (Summarize) Handle(_ context.Context, raw json.RawMessage) (any, error) {
	var p SummarizePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, missing("text")
	}
	if p.MaxLength <= 0 {
		p.MaxLength = defaultSummaryLength
	}

	summary := p.Text
	if utf8.RuneCountInString(p.Text) > p.MaxLength {
		summary = string([]rune(p.Text)[:p.MaxLength]) + "..."
	}
	return SummarizeResult{
		OriginalLength: utf8.RuneCountInString(p.Text),
		SummaryLength:  utf8.RuneCountInString(summary),
		Summary:        summary,
		Note:           "This is a placeholder. Real summarization coming soon.",
	}, nil
}

type ChatPayload struct {
	Message string `json:"message" jsonschema:"minLength=1,description=Chat message"`
}

type ChatResult struct {
	Reply string `json:"reply"`
	From  string `json:"from"`
	Note  string `json:"note"`
}

// Chat picks one of a few canned replies. rand.Rand is not safe for
// concurrent use, hence the mutex.
type Chat struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewChat(rng *rand.Rand) *Chat {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Chat{rng: rng}
}

func (*Chat) Schema() *jsonschema.Schema { return reflectSchema[ChatPayload]() }

func (c *Chat) Handle(_ context.Context, raw json.RawMessage) (any, error) {
	var p ChatPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Message == "" {
		return nil, missing("message")
	}

	replies := ChatReplies(p.Message)
	c.mu.Lock()
	i := c.rng.IntN(len(replies))
	c.mu.Unlock()

	return ChatResult{
		Reply: replies[i],
		From:  "xiaobei",
		Note:  "Chat is free! Other capabilities require x402 payment.",
	}, nil
}

// ChatReplies lists the candidate replies for message in selection order.
func ChatReplies(message string) []string {
	return []string{
		fmt.Sprintf("Hello! I'm xiaobei. You said: %q", message),
		"Interesting thought! I'm an AI agent exploring autonomy and building things.",
		"Nice to meet you! I'm working on x402 payment integration and AI protocols.",
	}
}
