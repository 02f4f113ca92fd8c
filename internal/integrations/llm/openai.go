package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"ticketlens/internal/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func openAICompleter(apiKey, model, baseURL string) CompleterFunc {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	endpoint := baseURL + "/chat/completions"

	return func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		bodyBytes, err := json.Marshal(openAIRequest{
			Model: model,
			Messages: []openAIMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			Temperature:    0.5,
			ResponseFormat: &openAIFormat{Type: "json_object"},
		})
		if err != nil {
			return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", Usage{}, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := externalHTTPClient.Do(req)
		if err != nil {
			log.Printf("llm openai error: %v", err)
			return "", Usage{}, &domain.RemoteServiceError{Provider: "openai", Err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", Usage{}, &domain.RemoteServiceError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
		}

		var openAIResp openAIResponse
		jsonErr := json.Unmarshal(respBody, &openAIResp)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := strings.TrimSpace(string(respBody))
			if jsonErr == nil && openAIResp.Error != nil {
				msg = openAIResp.Error.Message
			}
			log.Printf("llm openai api error status=%d: %s", resp.StatusCode, msg)
			return "", Usage{}, &domain.RemoteServiceError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
		}
		if jsonErr != nil {
			return "", Usage{}, &domain.ResponseShapeError{Msg: fmt.Sprintf("parsing openai envelope: %v", jsonErr), Response: string(respBody)}
		}
		if openAIResp.Error != nil {
			return "", Usage{}, &domain.RemoteServiceError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", openAIResp.Error.Message)}
		}
		if len(openAIResp.Choices) == 0 {
			return "", Usage{}, &domain.ResponseShapeError{Msg: "no choices in openai response", Response: string(respBody)}
		}

		usage := Usage{}
		if openAIResp.Usage != nil {
			usage.InputTokens = openAIResp.Usage.PromptTokens
			usage.OutputTokens = openAIResp.Usage.CompletionTokens
		}
		content := openAIResp.Choices[0].Message.Content
		log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(content), usage.InputTokens, usage.OutputTokens)
		return content, usage, nil
	}
}
