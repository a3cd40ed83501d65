package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const (
	KiB = 1024

	DefaultWordSize = 8
	DefaultMaxWords = 64 * KiB // Capacity limit of a pool, in words.

	// MaxBitmapWords is the largest capacity whose bitmap payload length
	// still fits the 16-bit bitmap header.
	MaxBitmapWords = math.MaxUint16 * 8
)

type Config struct {
	WordSize int // Bytes per word.

	// MaxWords is the largest capacity, in words, Initialize accepts.
	// It must not exceed MaxBitmapWords.
	MaxWords int

	Source BufferSource // Provides the raw bytes backing the pool.
	Logger *slog.Logger // Defaults to slog.Default() when nil.
}

func (c Config) Validate() error {
	var errs []error
	if c.WordSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid config: word size %d must be positive", c.WordSize))
	}
	if c.MaxWords <= 0 || c.MaxWords > MaxBitmapWords {
		errs = append(
			errs,
			fmt.Errorf("invalid config: max words %d must be between 1 and %d", c.MaxWords, MaxBitmapWords),
		)
	}
	if c.Source == nil {
		errs = append(errs, errors.New("invalid config: buffer source is required"))
	}
	return errors.Join(errs...)
}

func DefaultConfig() Config {
	return Config{
		WordSize: DefaultWordSize,
		MaxWords: DefaultMaxWords,
		Source:   MmapSource{}, // Keep pool memory off the Go heap.
		Logger:   slog.Default(),
	}
}
