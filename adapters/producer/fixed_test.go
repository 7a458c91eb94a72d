package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedTextChunking(t *testing.T) {
	p := NewFixedTextWith("abcdef")

	var chunks []string
	var completed string
	err := p.Produce(context.Background(), "prompt", "sherlock", 3, 0,
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		},
		func(fullText string) error {
			completed = fullText
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, chunks)
	assert.Equal(t, "abcdef", completed)
}

func TestFixedTextShortLastChunk(t *testing.T) {
	p := NewFixedTextWith("abcde")

	var chunks []string
	err := p.Produce(context.Background(), "prompt", "yoda", 2, 0,
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		},
		func(string) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cd", "e"}, chunks)
}

func TestFixedTextDefaultTextRoundTrip(t *testing.T) {
	p := NewFixedText()

	var got string
	err := p.Produce(context.Background(), "prompt", "pirate", 64, 0,
		func(chunk string) error {
			got += chunk
			return nil
		},
		func(fullText string) error {
			assert.Equal(t, got, fullText)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, p.FullText(), got)
}

func TestFixedTextCancellation(t *testing.T) {
	p := NewFixedTextWith("abcdef")
	ctx, cancel := context.WithCancel(context.Background())

	var chunks []string
	completed := false
	err := p.Produce(ctx, "prompt", "sherlock", 3, time.Millisecond,
		func(chunk string) error {
			chunks = append(chunks, chunk)
			cancel()
			return nil
		},
		func(string) error {
			completed = true
			return nil
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"abc"}, chunks)
	assert.False(t, completed, "completion must not fire after cancellation")
}

func TestFixedTextChunkCallbackError(t *testing.T) {
	p := NewFixedTextWith("abcdef")
	boom := errors.New("boom")

	calls := 0
	err := p.Produce(context.Background(), "prompt", "sherlock", 3, 0,
		func(string) error {
			calls++
			return boom
		},
		func(string) error {
			t.Fatal("completion must not fire after a callback error")
			return nil
		})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
