package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/arkadyv/chatcast/domain"
)

const geminiModel = "gemini-2.0-flash-001"

// Gemini streams replies from the Gemini API, staying in character via a
// system instruction built from the persona key. The model paces its own
// output, so chunkSize and chunkDelay are ignored.
type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context) (*Gemini, error) {
	client, err := genai.NewClient(
		ctx,
		&genai.ClientConfig{
			HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{client: client}, nil
}

func (p *Gemini) Produce(
	ctx context.Context,
	prompt string,
	personaKey string,
	chunkSize int,
	chunkDelay time.Duration,
	onChunk func(chunk string) error,
	onComplete func(fullText string) error,
) error {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: fmt.Sprintf("You are the character %q. Stay in character while answering.", personaKey)},
			},
		},
	}

	var full strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, geminiModel, genai.Text(prompt), config) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream content: %w", err)
		}

		chunk := resp.Text()
		if chunk == "" {
			continue
		}

		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return onComplete(full.String())
}

var _ domain.TextProducer = (*Gemini)(nil)
