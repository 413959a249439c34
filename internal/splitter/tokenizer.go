package splitter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var offlineBPE sync.Once

// Tokenizer measures text length in tokens.
type Tokenizer interface {
	Count(text string) int
}

// Whitespace counts whitespace separated words. It needs no model files.
type Whitespace struct{}

func (Whitespace) Count(text string) int { return len(strings.Fields(text)) }

// Tiktoken counts BPE tokens, without special tokens.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads encoding from the BPE files embedded in the binary, so
// no download happens at runtime.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	offlineBPE.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.EncodeOrdinary(text))
}
