// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package summarize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is the Gemini model used when none is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiConfig configures a [Gemini] summarizer.
type GeminiConfig struct {
	APIKey string
	// Model defaults to DefaultGeminiModel.
	Model string
}

// Gemini summarizes with the Gemini API.
type Gemini struct {
	client *genai.Client

	// generate sends a prompt and returns the text of the reply. Replaced in
	// tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewGemini returns a summarizer backed by the Gemini API. Call Close when
// done with it.
func NewGemini(ctx context.Context, c GeminiConfig) (*Gemini, error) {
	if c.APIKey == "" {
		return nil, errors.New("summarize: Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.APIKey))
	if err != nil {
		return nil, fmt.Errorf("summarize: creating Gemini client: %w", err)
	}

	model := client.GenerativeModel(cmp.Or(c.Model, DefaultGeminiModel))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.5)
	model.SetMaxOutputTokens(300)

	return &Gemini{
		client: client,
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := model.GenerateContent(ctx, genai.Text(prompt))
			if err != nil {
				return "", err
			}
			return responseText(resp), nil
		},
	}, nil
}

// Summarize implements [Summarizer].
func (g *Gemini) Summarize(ctx context.Context, text string) (Result, error) {
	p, err := prompt(text)
	if err != nil {
		return Result{}, err
	}
	reply, err := g.generate(ctx, p)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}
	return Parse(reply)
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// Only the first candidate with content is used.
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}
