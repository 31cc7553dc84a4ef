package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const defaultMaxTokens = 8192

// Complete sends one prompt and returns the model's full text response.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.sdk().Messages.New(ctx, c.params(system, prompt))
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

// Stream sends one prompt and returns the full response while delivering
// partial text to onDelta as it arrives.
func (c *Client) Stream(ctx context.Context, system, prompt string, onDelta func(string)) (string, error) {
	stream := c.sdk().Messages.NewStreaming(ctx, c.params(system, prompt))

	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("accumulate stream event: %w", err)
		}
		if onDelta == nil {
			continue
		}
		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("stream completion: %w", err)
	}
	c.tracker.Add(message.Usage.InputTokens, message.Usage.OutputTokens)

	var b strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

func (c *Client) params(system, prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}
