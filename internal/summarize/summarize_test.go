// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"go.astrophena.name/feedsum/internal/testutil"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		reply   string
		want    Result
		wantErr error
	}{
		"plain": {
			reply: `{"summary": "A thing happened.", "category": "tech_news"}`,
			want:  Result{Summary: "A thing happened.", Category: "tech_news"},
		},
		"code fence": {
			reply: "```json\n{\"summary\": \"Fenced.\", \"category\": \"AI/ML\"}\n```",
			want:  Result{Summary: "Fenced.", Category: "ai_ml"},
		},
		"surrounding prose": {
			reply: "Sure! Here it is:\n{\"summary\": \" Padded. \", \"category\": \"Science\"}\nHope this helps.",
			want:  Result{Summary: "Padded.", Category: "science"},
		},
		"missing category": {
			reply:   `{"summary": "No category."}`,
			wantErr: ErrMalformed,
		},
		"missing summary": {
			reply:   `{"category": "other"}`,
			wantErr: ErrMalformed,
		},
		"not JSON": {
			reply:   "I cannot summarize this.",
			wantErr: ErrMalformed,
		},
		"broken JSON": {
			reply:   `{"summary": "oops", "category": }`,
			wantErr: ErrMalformed,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.reply)
			if tc.wantErr != nil {
				testutil.AssertErrorIs(t, err, tc.wantErr)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"Tech News":   "tech_news",
		"tech-news":   "tech_news",
		" AI / ML ":   "ai_ml",
		"security":    "security",
		"":            "",
		"!!!":         "",
		"Web3 stuff.": "web3_stuff",
	} {
		testutil.AssertEqual(t, NormalizeCategory(in), want)
	}
}

func TestCompareCategories(t *testing.T) {
	t.Parallel()

	got := []string{"zoology", "other", "ai_ml", "gardening", "tech_news", "security"}
	slices.SortFunc(got, CompareCategories)
	testutil.AssertEqual(t, got, []string{"tech_news", "ai_ml", "security", "other", "gardening", "zoology"})
}

func TestCategoryTitle(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, CategoryTitle("ai_ml"), "AI & ML")
	testutil.AssertEqual(t, CategoryTitle("tech_news"), "Tech News")
	testutil.AssertEqual(t, CategoryTitle("home_garden"), "Home Garden")
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	if _, err := prompt("  \n\t"); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}

	p, err := prompt(strings.Repeat("ж", maxInput))
	if err != nil {
		t.Fatal(err)
	}
	if len(p) > len(userPrompt)+maxInput {
		t.Fatalf("prompt not truncated: %d bytes", len(p))
	}
	testutil.AssertSubstring(t, p, "2-3 sentences")
}

func TestGemini(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	g := &Gemini{generate: func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return `{"summary": "Gemini says hi.", "category": "culture"}`, nil
	}}

	got, err := g.Summarize(t.Context(), "Article body.")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, Result{Summary: "Gemini says hi.", Category: "culture"})
	testutil.AssertSubstring(t, gotPrompt, "Article body.")
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}

	g.generate = func(context.Context, string) (string, error) { return "", errors.New("quota exceeded") }
	if _, err := g.Summarize(t.Context(), "Article body."); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("want quota error, got %v", err)
	}
}

func TestOpenAI(t *testing.T) {
	t.Parallel()

	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "{\"summary\": \"OpenAI says hi.\", \"category\": \"Business\"}"}
  }]
}`)
	}))
	t.Cleanup(ts.Close)

	o, err := NewOpenAI(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    ts.URL + "/v1/",
		HTTPClient: ts.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := o.Summarize(t.Context(), "Some article.")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, Result{Summary: "OpenAI says hi.", Category: "business"})
	testutil.AssertEqual(t, gotReq.Model, DefaultOpenAIModel)
	if len(gotReq.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(gotReq.Messages))
	}
	testutil.AssertEqual(t, gotReq.Messages[0].Role, "system")
	testutil.AssertSubstring(t, gotReq.Messages[1].Content, "Some article.")
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Fatal("NewOpenAI: want error without API key")
	}
	if _, err := NewGemini(t.Context(), GeminiConfig{}); err == nil {
		t.Fatal("NewGemini: want error without API key")
	}
}
