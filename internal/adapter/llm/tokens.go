package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"sparkie/internal/domain"
)

// perMessageOverhead approximates role and framing tokens per chat message.
const perMessageOverhead = 4

// TokenCounter counts prompt tokens with the cl100k_base encoding. The
// encoding is loaded on first use; until it loads, or when it cannot be
// fetched, counts fall back to a len/4 estimate.
type TokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the named encoding ("" = cl100k_base).
func NewTokenCounter(encoding string, logger *slog.Logger) *TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding, logger: logger}
}

// newEstimatingCounter never loads an encoding.
func newEstimatingCounter() *TokenCounter {
	c := &TokenCounter{}
	c.once.Do(func() {})
	return c
}

func (c *TokenCounter) load() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("token encoding unavailable, estimating", "encoding", c.encoding, "error", err)
			}
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountMessages returns the token count of a message list, including tool
// call arguments.
func (c *TokenCounter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Name) + c.Count(string(tc.Arguments))
		}
	}
	return total
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
