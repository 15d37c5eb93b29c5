// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package summarize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an [OpenAI] summarizer.
type OpenAIConfig struct {
	APIKey string
	// Model defaults to DefaultOpenAIModel.
	Model string
	// BaseURL overrides the API endpoint, for OpenAI-compatible servers.
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request. Zero means one minute.
	Timeout time.Duration
}

// OpenAI summarizes with the OpenAI chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI returns a summarizer backed by the OpenAI API.
func NewOpenAI(c OpenAIConfig) (*OpenAI, error) {
	if c.APIKey == "" {
		return nil, errors.New("summarize: OpenAI API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithRequestTimeout(cmp.Or(c.Timeout, time.Minute)),
		option.WithMaxRetries(2),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.HTTPClient))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cmp.Or(c.Model, DefaultOpenAIModel),
	}, nil
}

// Summarize implements [Summarizer].
func (o *OpenAI) Summarize(ctx context.Context, text string) (Result, error) {
	p, err := prompt(text)
	if err != nil {
		return Result{}, err
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(p),
		},
		Temperature: openai.Float(0.5),
		MaxTokens:   openai.Int(300),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices returned", ErrMalformed)
	}
	return Parse(resp.Choices[0].Message.Content)
}
