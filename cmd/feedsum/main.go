// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"go.astrophena.name/feedsum/internal/cache"
	"go.astrophena.name/feedsum/internal/cli"
	"go.astrophena.name/feedsum/internal/config"
	"go.astrophena.name/feedsum/internal/digest"
	"go.astrophena.name/feedsum/internal/extract"
	"go.astrophena.name/feedsum/internal/feed"
	"go.astrophena.name/feedsum/internal/filelock"
	"go.astrophena.name/feedsum/internal/httplogger"
	"go.astrophena.name/feedsum/internal/logger"
	"go.astrophena.name/feedsum/internal/pipeline"
	"go.astrophena.name/feedsum/internal/request"
	"go.astrophena.name/feedsum/internal/summarize"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	addr        string
	configPath  string
	dry         bool
	every       time.Duration
	json        bool
	sqlite      bool
	stateDir    string
	verboseHTTP bool

	// set in tests
	httpc      *http.Client
	now        func() time.Time
	summarizer summarize.Summarizer
	dispatcher digest.Dispatcher
	ready      func(net.Addr)

	logger *logger.Logger
	getenv func(string) string
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.addr, "addr", "", "Listen on `host:port` (serve command).")
	fs.StringVar(&a.configPath, "config", "", "Path to config.star. Defaults to config.star in the state directory.")
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log actions, but don't deliver digests or save state.")
	fs.DurationVar(&a.every, "every", 0, "Also run periodically with this `interval` (serve command).")
	fs.BoolVar(&a.json, "json", false, "Output in JSON format (honored in supported commands).")
	fs.BoolVar(&a.sqlite, "sqlite", false, "Keep the article cache in a SQLite database instead of JSON files.")
	fs.StringVar(&a.stateDir, "state-dir", "", "State `directory`. Overrides STATE_DIRECTORY.")
	fs.BoolVar(&a.verboseHTTP, "verbose-http", false, "Log outgoing HTTP requests.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	a.getenv = env.Getenv

	a.addr = cmp.Or(a.addr, env.Getenv("ADDR"), "localhost:3000")
	a.stateDir = cmp.Or(a.stateDir, env.Getenv("STATE_DIRECTORY"))
	if a.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		a.stateDir = filepath.Join(xdgStateHome, "feedsum")
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return err
	}
	a.configPath = cmp.Or(a.configPath, filepath.Join(a.stateDir, "config.star"))
	if a.now == nil {
		a.now = time.Now
	}

	a.logger = logger.Get(ctx)
	// Enable debug logging in dry-run mode.
	if a.dry || a.verboseHTTP {
		a.logger.Level.Set(slog.LevelDebug)
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	if len(env.Args) > 1 {
		return fmt.Errorf("%w: %s command takes no arguments", cli.ErrInvalidArgs, env.Args[0])
	}

	switch command := env.Args[0]; command {
	case "run":
		return a.runOnce(ctx, env.Stdout)
	case "serve":
		return a.serve(ctx)
	case "feeds":
		return a.listFeeds(env.Stdout)
	case "archive":
		return a.archive(ctx, env.Stdout)
	case "cache":
		return a.cacheStats(ctx, env.Stdout)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	c, err := config.Load(a.configPath, func(format string, args ...any) {
		a.logger.Info(fmt.Sprintf(format, args...), "source", "config.star")
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return c, nil
}

func (a *app) openStore(ctx context.Context) (*cache.Store, error) {
	var (
		b   cache.Backend
		err error
	)
	if a.sqlite {
		b, err = cache.NewSQLite(ctx, filepath.Join(a.stateDir, "cache.db"))
	} else {
		b, err = cache.NewJSONFile(a.stateDir)
	}
	if err != nil {
		return nil, fmt.Errorf("opening article cache: %w", err)
	}
	if a.dry {
		b = cache.ReadOnly(b)
	}
	return cache.New(b, a.logger.Logger), nil
}

func (a *app) httpClient() *http.Client {
	c := cmp.Or(a.httpc, request.DefaultClient)
	if !a.verboseHTTP {
		return c
	}
	var secrets []string
	for _, name := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "TELEGRAM_TOKEN"} {
		if v := a.getenv(name); v != "" {
			secrets = append(secrets, v)
		}
	}
	return &http.Client{
		Transport: httplogger.New(c.Transport, a.logger.Logger, secrets...),
		Timeout:   c.Timeout,
	}
}

func (a *app) newSummarizer(ctx context.Context, c *config.Config, httpc *http.Client) (summarize.Summarizer, func() error, error) {
	nop := func() error { return nil }
	if a.summarizer != nil {
		return a.summarizer, nop, nil
	}
	switch c.Summarizer {
	case config.OpenAI:
		s, err := summarize.NewOpenAI(summarize.OpenAIConfig{
			APIKey:     a.getenv("OPENAI_API_KEY"),
			Model:      c.Model,
			HTTPClient: httpc,
		})
		return s, nop, err
	default:
		s, err := summarize.NewGemini(ctx, summarize.GeminiConfig{
			APIKey: a.getenv("GEMINI_API_KEY"),
			Model:  c.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

var errNoDispatcher = errors.New("no digest delivery configured: set SMTP_HOST, EMAIL_SENDER and EMAIL_RECIPIENT, or TELEGRAM_TOKEN and CHAT_ID")

func (a *app) newDispatcher(httpc *http.Client) (digest.Dispatcher, error) {
	if a.dry {
		return digest.DispatcherFunc(func(_ context.Context, batch []digest.Summary) error {
			text, err := digest.RenderText(batch)
			if err != nil {
				return err
			}
			a.logger.Info("dry run, not delivering digest", "articles", len(batch))
			a.logger.Debug(text)
			return nil
		}), nil
	}
	if a.dispatcher != nil {
		return a.dispatcher, nil
	}

	var m digest.Multi
	if host := a.getenv("SMTP_HOST"); host != "" {
		var port int
		if s := a.getenv("SMTP_PORT"); s != "" {
			p, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", s, err)
			}
			port = p
		}
		e, err := digest.NewEmail(digest.EmailConfig{
			Host:     host,
			Port:     port,
			Username: a.getenv("SMTP_USERNAME"),
			Password: a.getenv("SMTP_PASSWORD"),
			From:     a.getenv("EMAIL_SENDER"),
			To:       splitList(a.getenv("EMAIL_RECIPIENT")),
			Logger:   a.logger.Logger,
		})
		if err != nil {
			return nil, err
		}
		m = append(m, e)
	}
	if token, chatID := a.getenv("TELEGRAM_TOKEN"), a.getenv("CHAT_ID"); token != "" && chatID != "" {
		tg, err := digest.NewTelegram(digest.TelegramConfig{
			Token:      token,
			ChatID:     chatID,
			HTTPClient: httpc,
			Logger:     a.logger.Logger,
		})
		if err != nil {
			return nil, err
		}
		m = append(m, tg)
	}
	if len(m) == 0 {
		return nil, errNoDispatcher
	}
	return m, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func withoutTimeout(c *http.Client) *http.Client {
	cc := *c
	cc.Timeout = 0
	return &cc
}

// newRunner wires up a pipeline runner. Call the returned function to release
// its resources.
func (a *app) newRunner(ctx context.Context) (*pipeline.Runner, *cache.Store, func(), error) {
	c, err := a.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	httpc := a.httpClient()

	// LLM calls are bounded by the runner's summarize timeout instead.
	summarizer, closeSummarizer, err := a.newSummarizer(ctx, c, withoutTimeout(httpc))
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	dispatcher, err := a.newDispatcher(httpc)
	if err != nil {
		closeSummarizer()
		store.Close()
		return nil, nil, nil, err
	}

	var archive digest.Dispatcher
	if !a.dry {
		archive = &digest.Archive{Dir: filepath.Join(a.stateDir, "digests"), Now: a.now}
	}

	src := &feed.Source{
		HTTPClient: httpc,
		Extractor: &extract.Extractor{
			HTTPClient: httpc,
			Logger:     a.logger.Logger,
		},
		Known:         store.IsProcessed,
		MaxArticles:   c.MaxArticles,
		RecencyWindow: c.RecencyWindow,
		Now:           a.now,
		Logger:        a.logger.Logger,
	}

	r := pipeline.New(pipeline.Config{
		Feeds:      c.Feeds,
		Fetcher:    src,
		Store:      store,
		Summarizer: summarizer,
		Dispatcher: dispatcher,
		Archive:    archive,
		Retention:  c.Retention(),
		LockPath:   a.lockPath(),
		Now:        a.now,
		Logger:     a.logger.Logger,
	})

	cleanup := func() {
		if err := closeSummarizer(); err != nil {
			a.logger.Warn("closing summarizer failed", "error", err)
		}
		if err := store.Close(); err != nil {
			a.logger.Warn("closing article cache failed", "error", err)
		}
	}
	return r, store, cleanup, nil
}

func (a *app) runOnce(ctx context.Context, w io.Writer) error {
	r, _, cleanup, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if a.json {
		if err := writeJSON(w, rep); err != nil {
			return err
		}
	} else {
		printReport(w, rep)
	}
	return rep.Err()
}

func printReport(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "Summarized %d new articles from %d feeds", len(rep.Batch), len(rep.Feeds))
	if n := rep.FailedFeeds(); n > 0 {
		fmt.Fprintf(w, " (%d failed)", n)
	}
	fmt.Fprintf(w, ", archived %d old entries.\n", rep.Archived)
	for _, f := range rep.Feeds {
		if f.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", f.Feed, f.Error)
		}
	}
}

func (a *app) listFeeds(w io.Writer) error {
	c, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.json {
		feeds := c.Feeds
		if feeds == nil {
			feeds = []feed.Feed{}
		}
		return writeJSON(w, feeds)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tURL")
	for _, f := range c.Feeds {
		fmt.Fprintf(tw, "%s\t%s\n", cmp.Or(f.Title, "-"), f.URL)
	}
	return tw.Flush()
}

func (a *app) archive(ctx context.Context, w io.Writer) error {
	c, err := a.loadConfig()
	if err != nil {
		return err
	}

	lock, err := filelock.Acquire(a.lockPath(), fmt.Sprintf("pid=%d", os.Getpid()))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return pipeline.ErrAlreadyRunning
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	store.Load(ctx)
	n, err := store.ArchiveStale(ctx, c.Retention(), a.now())
	if err != nil {
		return err
	}
	if a.json {
		return writeJSON(w, map[string]int{"archived": n})
	}
	fmt.Fprintf(w, "Archived %d entries older than %d days.\n", n, c.RetentionDays)
	return nil
}

func (a *app) lockPath() string { return filepath.Join(a.stateDir, "run.lock") }

type cacheStats struct {
	Running  bool       `json:"running"`
	Active   int        `json:"active"`
	Archived int        `json:"archived"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
}

func statsOf(store *cache.Store) cacheStats {
	active, archived := store.Snapshot()
	s := cacheStats{Active: len(active), Archived: len(archived)}
	for _, t := range []cache.Table{active, archived} {
		for _, at := range t {
			if s.Oldest == nil || at.Before(*s.Oldest) {
				s.Oldest = &at
			}
			if s.Newest == nil || at.After(*s.Newest) {
				s.Newest = &at
			}
		}
	}
	return s
}

func (a *app) cacheStats(ctx context.Context, w io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	store.Load(ctx)

	s := statsOf(store)
	s.Running = filelock.IsLocked(a.lockPath())
	if a.json {
		return writeJSON(w, s)
	}
	if s.Running {
		fmt.Fprintln(w, "A run is in progress.")
	}
	fmt.Fprintf(w, "Active:   %d\nArchived: %d\n", s.Active, s.Archived)
	if s.Oldest != nil {
		fmt.Fprintf(w, "Oldest:   %s\nNewest:   %s\n", s.Oldest.Format(time.RFC3339), s.Newest.Format(time.RFC3339))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
