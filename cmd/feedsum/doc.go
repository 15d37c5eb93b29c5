// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Feedsum fetches RSS and Atom feeds, summarizes new articles with a language
model and delivers a digest grouped by topic by email or Telegram.

# Usage

	$ feedsum [flags...] <command>

# Commands

  - run: process all feeds once and deliver the digest.
  - serve: start the HTTP trigger server (see below).
  - feeds: list configured feeds.
  - archive: move old entries of the article cache to the archive.
  - cache: show article cache statistics and whether a run is in progress.

# Environment Variables

  - GEMINI_API_KEY: Gemini API key, used when summarizer is "gemini".
  - OPENAI_API_KEY: OpenAI API key, used when summarizer is "openai".
  - SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD: SMTP server used to
    send the digest. SMTP_PORT defaults to 587. STARTTLS is required.
  - EMAIL_SENDER: address the digest is sent from.
  - EMAIL_RECIPIENT: comma-separated addresses the digest is sent to.
  - TELEGRAM_TOKEN, CHAT_ID: if both are set, the digest is also sent to this
    Telegram chat.
  - STATE_DIRECTORY: directory for configuration and state. Defaults to
    $XDG_STATE_HOME/feedsum.
  - ADDR: address for the serve command, "localhost:3000" by default.

At least one of email or Telegram delivery must be configured, except in
dry-run mode.

# Configuration

feedsum loads its configuration from config.star in the state directory. This
file is written in Starlark language and defines a list of feeds, for example:

	feeds = [
	    feed(url = "https://go.dev/blog/feed.atom", title = "The Go Blog"),
	    feed(url = "https://hnrss.org/best"),
	]
	retention_days = 30
	max_articles = 20
	recency_window = "24h"
	summarizer = "gemini"

Only feeds is required. Articles published before recency_window and entries
past max_articles of each feed are ignored. The model variable overrides the
default model of the chosen summarizer.

# State

Processed article links are remembered in processed_articles.json, so that no
article is summarized twice. Entries older than retention_days are moved to
archived_articles.json at the end of each run and still count as processed.
With -sqlite, both tables are kept in cache.db instead. A table file that
can't be parsed is treated as empty and, before it is first rewritten, moved
aside with a .corrupt-YYYYMMDDHHMMSS suffix.

Every digest is also saved to digests/summaries_YYYYMMDD_HHMMSS.json, even when
delivering it failed.

# Trigger Server

The serve command starts an HTTP server with the following endpoints:

  - GET /: reports that feedsum is running.
  - POST /run: runs once and returns the run report as JSON. Responds with 409
    if a run is already in progress and 500 if the run failed.
  - GET /health: health checks, including the outcome of the last run.
  - GET /api/cache: article cache statistics.
  - GET /debug/logs: recent log lines, streamed as they are written.

With -every, runs are also started periodically.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/feedsum/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
