package producer

import (
	"context"
	"time"

	"github.com/arkadyv/chatcast/domain"
)

const loremIpsumText = `Lorem ipsum dolor sit amet, consectetur adipiscing elit. Fusce eu fringilla lectus. Suspendisse potenti. Etiam tristique id ante vel fringilla. Donec egestas mi id nisl porttitor, nec sagittis leo lacinia. Fusce laoreet ac nunc vitae posuere. Pellentesque in mollis leo. Nullam rhoncus scelerisque tellus, et dictum eros molestie et. Vestibulum malesuada ac augue auctor sollicitudin. Proin ultrices vitae mauris eget aliquet. Sed nec eleifend nisi. Curabitur luctus magna ut risus bibendum, porttitor tempus ligula maximus. Etiam bibendum enim leo, quis maximus purus pharetra sed. Morbi tristique elit nec ante bibendum maximus. Nulla efficitur vel ex ut faucibus.

Aliquam blandit ipsum eget ex porta tincidunt. Nulla venenatis fermentum placerat. In mollis tellus quis mattis lacinia. Integer ultrices molestie elit, a fermentum sapien semper porta. Maecenas quis sapien maximus, dapibus nibh pharetra, faucibus ligula. Nulla quis risus et nisi aliquet pellentesque. Nam eget vestibulum dui. Lorem ipsum dolor sit amet, consectetur adipiscing elit. Pellentesque metus turpis, laoreet eleifend sagittis sed, egestas id nulla.`

// FixedText streams one fixed text in fixed-size fragments with a pause
// between them. Deterministic for a given chunk size, which makes it the
// default backend for local development and tests.
type FixedText struct {
	text string
}

func NewFixedText() *FixedText {
	return &FixedText{text: loremIpsumText}
}

// NewFixedTextWith streams the supplied text instead of the built-in one.
func NewFixedTextWith(text string) *FixedText {
	return &FixedText{text: text}
}

// FullText returns the complete source text.
func (p *FixedText) FullText() string {
	return p.text
}

func (p *FixedText) Produce(
	ctx context.Context,
	prompt string,
	personaKey string,
	chunkSize int,
	chunkDelay time.Duration,
	onChunk func(chunk string) error,
	onComplete func(fullText string) error,
) error {
	if chunkSize < 1 {
		chunkSize = 1
	}

	text := p.text
	for i := 0; i < len(text); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		if err := onChunk(text[i:end]); err != nil {
			return err
		}

		// No pause after the final fragment.
		if end < len(text) && chunkDelay > 0 {
			select {
			case <-time.After(chunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return onComplete(text)
}

var _ domain.TextProducer = (*FixedText)(nil)
