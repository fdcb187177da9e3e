// Package tokencount counts and trims tokens of essay text before it is
// handed to the grading workflow.
package tokencount

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used when the configured encoding is empty.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Counter provides thread-safe token counting for one encoding.
// When the encoding cannot be loaded it falls back to one token per rune,
// which over-counts Latin text and is close for CJK.
type Counter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter creates a counter for the named tiktoken encoding.
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Counter{encoding: encoding}
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		loaderOnce.Do(func() { tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) })
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			slog.Warn("token encoding unavailable; estimating by runes",
				slog.String("encoding", c.encoding),
				slog.Any("error", err))
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text)
}

// Truncate cuts text to at most budget tokens. The bool reports whether anything was cut.
// A non-positive budget disables the limit.
func (c *Counter) Truncate(text string, budget int) (string, bool) {
	if budget <= 0 || text == "" {
		return text, false
	}
	enc := c.encoder()
	if enc == nil {
		if utf8.RuneCountInString(text) <= budget {
			return text, false
		}
		return string([]rune(text)[:budget]), true
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text, false
	}
	return trimInvalidTail(enc.Decode(tokens[:budget])), true
}

// trimInvalidTail drops a partial multi-byte sequence left by cutting between tokens.
func trimInvalidTail(s string) string {
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
