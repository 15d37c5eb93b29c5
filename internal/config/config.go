// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config loads the feedsum configuration written in Starlark.
//
// A configuration file looks like this:
//
//	feeds = [
//	    feed(url = "https://example.com/feed.xml", title = "Example"),
//	]
//	retention_days = 30
//	max_articles = 20
//	recency_window = "24h"
//	summarizer = "gemini"
//	model = "gemini-1.5-flash"
//
// Only feeds is required.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"go.astrophena.name/feedsum/internal/feed"
	"go.astrophena.name/feedsum/internal/logger"
)

// Summarizer names.
const (
	Gemini = "gemini"
	OpenAI = "openai"
)

// Defaults.
const (
	DefaultRetentionDays = 30
	DefaultSummarizer    = Gemini
)

// ErrInvalid is returned for configuration that can't be used.
var ErrInvalid = errors.New("invalid config")

// Config is a parsed configuration.
type Config struct {
	Feeds         []feed.Feed   `json:"feeds"`
	RetentionDays int           `json:"retention_days"`
	MaxArticles   int           `json:"max_articles"`
	RecencyWindow time.Duration `json:"recency_window"`
	Summarizer    string        `json:"summarizer"`
	// Model is empty when the summarizer's default should be used.
	Model string `json:"model,omitempty"`
}

// Retention returns how long processed articles stay in the active table.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads and parses the configuration file at path.
func Load(path string, logf logger.Logf) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, string(b), logf)
}

// Parse parses configuration from src. The filename is used only in error
// messages. Calls to print in the configuration go to logf.
func Parse(filename, src string, logf logger.Logf) (*Config, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { logf("%s", msg) },
		},
		filename,
		src,
		starlark.StringDict{
			"feed": starlark.NewBuiltin("feed", feedBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	c := &Config{
		RetentionDays: DefaultRetentionDays,
		MaxArticles:   feed.DefaultMaxArticles,
		RecencyWindow: feed.DefaultRecencyWindow,
		Summarizer:    DefaultSummarizer,
	}

	feedsList, ok := globals["feeds"].(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%w: feeds must be defined and be a list", ErrInvalid)
	}
	seen := make(map[string]bool)
	for i := range feedsList.Len() {
		f, ok := feedsList.Index(i).(*feedValue)
		if !ok {
			return nil, fmt.Errorf("%w: feeds[%d] is %s, not feed", ErrInvalid, i, feedsList.Index(i).Type())
		}
		if err := validateURL(f.URL); err != nil {
			return nil, fmt.Errorf("%w: feed %q: %v", ErrInvalid, f.URL, err)
		}
		if seen[f.URL] {
			return nil, fmt.Errorf("%w: feed %q is listed twice", ErrInvalid, f.URL)
		}
		seen[f.URL] = true
		c.Feeds = append(c.Feeds, f.Feed)
	}

	if err := unpackInt(globals, "retention_days", &c.RetentionDays); err != nil {
		return nil, err
	}
	if err := unpackInt(globals, "max_articles", &c.MaxArticles); err != nil {
		return nil, err
	}
	if err := unpackString(globals, "summarizer", &c.Summarizer); err != nil {
		return nil, err
	}
	if err := unpackString(globals, "model", &c.Model); err != nil {
		return nil, err
	}
	var window string
	if err := unpackString(globals, "recency_window", &window); err != nil {
		return nil, err
	}
	if window != "" {
		c.RecencyWindow, err = time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("%w: recency_window: %v", ErrInvalid, err)
		}
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	switch {
	case c.RetentionDays <= 0:
		return fmt.Errorf("%w: retention_days must be positive, got %d", ErrInvalid, c.RetentionDays)
	case c.MaxArticles <= 0:
		return fmt.Errorf("%w: max_articles must be positive, got %d", ErrInvalid, c.MaxArticles)
	case c.RecencyWindow <= 0:
		return fmt.Errorf("%w: recency_window must be positive, got %v", ErrInvalid, c.RecencyWindow)
	case c.Summarizer != Gemini && c.Summarizer != OpenAI:
		return fmt.Errorf("%w: unknown summarizer %q (want %q or %q)", ErrInvalid, c.Summarizer, Gemini, OpenAI)
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("URL must be http or https")
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

func unpackInt(globals starlark.StringDict, name string, dst *int) error {
	v, ok := globals[name]
	if !ok {
		return nil
	}
	if err := starlark.AsInt(v, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	return nil
}

func unpackString(globals starlark.StringDict, name string, dst *string) error {
	v, ok := globals[name]
	if !ok {
		return nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return fmt.Errorf("%w: %s must be a string, got %s", ErrInvalid, name, v.Type())
	}
	*dst = s
	return nil
}

type feedValue struct{ feed.Feed }

func (f *feedValue) String() string        { return fmt.Sprintf("<feed url=%q>", f.URL) }
func (f *feedValue) Type() string          { return "feed" }
func (f *feedValue) Freeze()               {} // immutable
func (f *feedValue) Truth() starlark.Bool  { return starlark.Bool(f.URL != "") }
func (f *feedValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", f.Type()) }

func feedBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("unexpected positional arguments")
	}
	f := new(feedValue)
	if err := starlark.UnpackArgs("feed", args, kwargs,
		"url", &f.URL,
		"title?", &f.Title,
	); err != nil {
		return nil, err
	}
	return f, nil
}
