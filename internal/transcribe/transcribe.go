// Package transcribe converts voice notes to text through the Whisper API.
// The client is optional: without an API key the bot runs text-only.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const requestTimeout = 30 * time.Second

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Transcribe sends raw audio bytes and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: "ru",
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	return resp.Text, nil
}
