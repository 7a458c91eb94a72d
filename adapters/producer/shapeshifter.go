package producer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arkadyv/chatcast/domain"
)

// Wire constants of the shapeshifter streaming endpoint.
const (
	ssePath        = "/mcp"
	sseDataPrefix  = "data:"
	rpcToolsCall   = "tools/call"
	rpcStreamTool  = "ask-perplexity-stream"
	rpcChunkMethod = "perplexity/stream-chunk"
)

// Shapeshifter streams generated text from the remote shapeshifter service
// over server-sent events, speaking its JSON-RPC tool-call envelope.
//
// The remote service paces its own output, so chunkSize and chunkDelay are
// ignored. There is no way to fetch the full text synchronously; the chunks
// delivered through onChunk are the only copy of the reply.
type Shapeshifter struct {
	baseURL string
	client  *http.Client
}

func NewShapeshifter(baseURL string) *Shapeshifter {
	return &Shapeshifter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	Name      string       `json:"name"`
	Arguments rpcArguments `json:"arguments"`
}

type rpcArguments struct {
	Question  string `json:"question"`
	Character string `json:"character"`
}

// streamEvent is the union of the two event shapes we act on. A present
// Result field, whatever its value, marks the end of the stream.
type streamEvent struct {
	Method string `json:"method"`
	Params struct {
		Chunk string `json:"chunk"`
	} `json:"params"`
	Result json.RawMessage `json:"result"`
}

func (p *Shapeshifter) Produce(
	ctx context.Context,
	prompt string,
	personaKey string,
	chunkSize int,
	chunkDelay time.Duration,
	onChunk func(chunk string) error,
	onComplete func(fullText string) error,
) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  rpcToolsCall,
		Params: rpcParams{
			Name: rpcStreamTool,
			Arguments: rpcArguments{
				Question:  prompt,
				Character: personaKey,
			},
		},
		ID: 1,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ssePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("connect stream: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		payload := strings.TrimSpace(line[len(sseDataPrefix):])
		if payload == "" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}

		switch {
		case event.Method == rpcChunkMethod:
			if event.Params.Chunk != "" {
				if err := onChunk(event.Params.Chunk); err != nil {
					return err
				}
			}
		case event.Result != nil:
			// Completion carries no text; callers rely on the chunks
			// they already received.
			return onComplete("")
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	// Stream ended without a completion event; nothing more to report.
	return nil
}

var _ domain.TextProducer = (*Shapeshifter)(nil)
