// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package summarize turns article text into a short summary and a topic
// category using a language model.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Result is what a [Summarizer] produces for one article.
type Result struct {
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// Summarizer summarizes article text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Result, error)
}

// Func is a function type that implements the [Summarizer] interface.
type Func func(ctx context.Context, text string) (Result, error)

// Summarize calls f(ctx, text).
func (f Func) Summarize(ctx context.Context, text string) (Result, error) { return f(ctx, text) }

// Errors returned by summarizers.
var (
	// ErrEmptyText is returned for input with no text to summarize.
	ErrEmptyText = errors.New("nothing to summarize")
	// ErrMalformed is returned when the model response lacks a summary or a
	// category, or can't be parsed.
	ErrMalformed = errors.New("malformed summarizer response")
)

// maxInput bounds the text sent to the model, in bytes.
const maxInput = 12000

const systemPrompt = `You are a professional content summarizer. You write concise, neutral, factual summaries of news articles and blog posts, and you classify each article into a single topic category.`

var userPrompt = `Summarize the following article in 2-3 sentences, focusing on the key points and main takeaways. Then pick one category for it.

Reply with a JSON object and nothing else, in this form:
{"summary": "...", "category": "..."}

Prefer one of these categories: ` + strings.Join(Categories, ", ") + `. Use a short snake_case name if none fits.

Article:
`

// prompt builds the user message for text.
func prompt(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if len(text) > maxInput {
		text = strings.ToValidUTF8(text[:maxInput], "")
	}
	return userPrompt + text, nil
}

// Parse extracts a [Result] from a model reply. The reply may wrap the JSON
// object in a Markdown code fence or surround it with prose.
func Parse(reply string) (Result, error) {
	s := strings.TrimSpace(reply)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformed, truncate(reply))
	}

	var r Result
	if err := json.Unmarshal([]byte(s[start:end+1]), &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.Summary = strings.TrimSpace(r.Summary)
	r.Category = NormalizeCategory(r.Category)
	if r.Summary == "" {
		return Result{}, fmt.Errorf("%w: empty summary", ErrMalformed)
	}
	if r.Category == "" {
		return Result{}, fmt.Errorf("%w: empty category", ErrMalformed)
	}
	return r, nil
}

// NormalizeCategory lowercases c and joins its words with underscores, so
// that "Tech News" and "tech-news" both become "tech_news".
func NormalizeCategory(c string) string {
	words := strings.FieldsFunc(strings.ToLower(c), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}

func truncate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "..."
}
