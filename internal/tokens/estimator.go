// Package tokens estimates the token footprint of serialized memory content.
// Entries shipped to the fast store carry an approximate token count so
// consumers can budget prompt space without re-tokenizing the content.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding covers the model families the platform runs against.
const defaultEncoding = "cl100k_base"

// bytesPerTokenFallback is the coarse heuristic used when the encoding
// cannot be initialized (tiktoken may need to fetch encoding data).
const bytesPerTokenFallback = 4

// Estimator counts tokens for opaque text. Safe for concurrent use.
type Estimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewEstimator creates an estimator for the given tiktoken encoding.
// An empty encoding selects cl100k_base.
func NewEstimator(encoding string) *Estimator {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &Estimator{encoding: encoding}
}

// init lazily initializes the tiktoken encoding (it may download data on
// first use).
func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = fmt.Errorf("init tiktoken encoding %s: %w", e.encoding, err)
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Count returns the approximate token count of text. When the encoding is
// unavailable it falls back to a bytes/4 heuristic rather than failing:
// the count annotates stored blobs and must never block a write.
func (e *Estimator) Count(text string) int {
	if err := e.init(); err != nil {
		return len(text) / bytesPerTokenFallback
	}
	return len(e.enc.Encode(text, nil, nil))
}

// Name identifies the estimator configuration.
func (e *Estimator) Name() string {
	return fmt.Sprintf("tiktoken[%s]", e.encoding)
}
