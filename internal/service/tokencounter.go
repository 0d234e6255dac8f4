package service

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"
)

// TokenCounter estimates token counts locally with the cl100k_base BPE
// encoding, used as a fallback whenever an upstream response omits its
// usage object (some Anthropic-compatible servers don't emit one on
// every chunk of a stream).
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding used by Claude-era and
// GPT-3.5/4-era models alike; it's an approximation for non-OpenAI
// tokenizers but close enough for an estimate.
func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TokenCounter{enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountRequestBody walks an Anthropic-shaped request body and sums the
// token count of its system prompt and message content, approximating
// the input_tokens figure the upstream would have reported.
func (c *TokenCounter) CountRequestBody(body []byte) int {
	total := 0

	system := gjson.GetBytes(body, "system")
	total += c.countTextValue(system)

	messages := gjson.GetBytes(body, "messages")
	messages.ForEach(func(_, msg gjson.Result) bool {
		total += c.countTextValue(msg.Get("content"))
		return true
	})

	return total
}

func (c *TokenCounter) countTextValue(v gjson.Result) int {
	switch {
	case !v.Exists():
		return 0
	case v.IsArray():
		total := 0
		v.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				total += c.Count(part.Get("text").String())
			}
			return true
		})
		return total
	default:
		return c.Count(v.String())
	}
}

// CountResponseText counts tokens in assistant output text, used to
// estimate output_tokens for a streamed response whose usage delta never
// arrived.
func (c *TokenCounter) CountResponseText(text string) int {
	return c.Count(text)
}
