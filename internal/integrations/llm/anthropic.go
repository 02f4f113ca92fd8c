package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ticketlens/internal/domain"
)

// anthropicCompleter returns a completer backed by the Messages API. SDK
// retries are disabled; RetryPolicy owns retrying.
func anthropicCompleter(apiKey, model, baseURL string) CompleterFunc {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(externalHTTPClient),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(model),
			MaxTokens:   4096,
			Temperature: anthropic.Float(0.5),
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			log.Printf("llm anthropic error: %v", err)
			rse := &domain.RemoteServiceError{Provider: "anthropic", Err: err}
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				rse.StatusCode = apiErr.StatusCode
			}
			return "", Usage{}, rse
		}
		usage := Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		}
		for _, block := range message.Content {
			if block.Type == "text" {
				log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
				return block.Text, usage, nil
			}
		}
		return "", usage, &domain.ResponseShapeError{Msg: fmt.Sprintf("no text content in anthropic response (stop_reason=%s)", message.StopReason)}
	}
}
