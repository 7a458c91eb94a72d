package domain

import (
	"context"
	"time"
)

// TextProducer abstracts any backend that turns a prompt into streamed text.
type TextProducer interface {
	// Produce streams text for the prompt, invoking onChunk for every
	// non-empty fragment in order and onComplete exactly once on success.
	// Fragments concatenate, in emission order, to the reply's full text;
	// the onComplete payload may be empty (remote backends report
	// completion without repeating the text), so callers must treat their
	// own accumulated chunks as the source of truth.
	//
	// Cancellation is cooperative: when ctx is cancelled, or a callback
	// returns an error, the producer stops without calling onComplete and
	// returns the ctx error respectively the callback error.
	Produce(
		ctx context.Context,
		prompt string,
		personaKey string,
		chunkSize int,
		chunkDelay time.Duration,
		onChunk func(chunk string) error,
		onComplete func(fullText string) error,
	) error
}
