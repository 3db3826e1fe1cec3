// Package tokens estimates token counts of relayed text.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with tiktoken's cl100k_base encoding. The agent's
// model tokenizer is not public, so counts are an approximation used for
// logging only.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error

	// CharsPerToken is the fallback ratio when the codec cannot be loaded.
	CharsPerToken float64
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{
		CharsPerToken: 4.0, // Reasonable default for most models
	}
}

// Count returns the approximate number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
	})

	if c.err == nil {
		ids, _, err := c.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}

	return c.estimate(text)
}

func (c *Counter) estimate(text string) int {
	ratio := c.CharsPerToken
	if ratio <= 0 {
		ratio = 4.0
	}
	n := int(float64(len([]rune(text))) / ratio)
	if n == 0 {
		n = 1
	}
	return n
}
