package llm

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer estimates token consumption for a model when a provider's
// response doesn't report exact Usage.
type Tokenizer interface {
	CountTokens(text string) int
	CountMessages(msgs []Message) int
	Name() string
}

var modelEncodings = map[string]string{
	"claude-opus-4":      "cl100k_base",
	"claude-sonnet-4":     "cl100k_base",
	"gpt-4o":              "o200k_base",
	"gpt-4o-mini":         "o200k_base",
	"gpt-4-turbo":         "cl100k_base",
	"gpt-4":               "cl100k_base",
	"gpt-3.5-turbo":       "cl100k_base",
}

// tiktokenTokenizer wraps github.com/pkoukk/tiktoken-go, lazily
// initializing the encoding table on first use (it may need to fetch the
// BPE rank file on first call).
type tiktokenTokenizer struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer returns a Tokenizer backed by tiktoken-go for
// model, defaulting to the cl100k_base encoding for unrecognized models.
func NewTiktokenTokenizer(model string) Tokenizer {
	encoding, ok := modelEncodings[model]
	if !ok {
		encoding = "cl100k_base"
	}
	return &tiktokenTokenizer{model: model, encoding: encoding}
}

func (t *tiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) CountMessages(msgs []Message) int {
	if err := t.init(); err != nil {
		return fallback.CountMessages(msgs)
	}
	total := 0
	for _, m := range msgs {
		total += 4 + len(t.enc.Encode(m.Content, nil, nil)) + len(t.enc.Encode(string(m.Role), nil, nil))
	}
	return total + 3
}

func (t *tiktokenTokenizer) Name() string { return "tiktoken[" + t.encoding + "]" }

// estimateTokenizer is the byte-length-estimate fallback used when
// tiktoken's encoding tables can't be loaded (for example offline). An
// unknown model does not reach it: NewTiktokenTokenizer gives such a
// model cl100k_base.
type estimateTokenizer struct{}

var fallback Tokenizer = estimateTokenizer{}

func (estimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e estimateTokenizer) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountTokens(m.Content) + 4
	}
	return total + 3
}

func (estimateTokenizer) Name() string { return "estimate" }

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
