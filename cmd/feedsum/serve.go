// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.astrophena.name/feedsum/internal/cli"
	"go.astrophena.name/feedsum/internal/logger"
	"go.astrophena.name/feedsum/internal/pipeline"
	"go.astrophena.name/feedsum/internal/systemd"
	"go.astrophena.name/feedsum/internal/web"
)

func (a *app) serve(ctx context.Context) error {
	logs := logger.NewStreamer(500)
	a.logger = a.logger.Tee(cli.GetEnv(ctx).Stderr, logs)
	ctx = logger.Put(ctx, a.logger)

	r, store, cleanup, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	// Runs reload the cache, but stats are served before the first one.
	store.Load(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "feedsum is running\n")
	})
	mux.Handle("/run", web.AllowMethods(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Runs outlive disconnected clients, but not the server.
		a.handleRun(ctx, r, w, req)
	}), http.MethodPost))
	mux.Handle("/api/cache", web.AllowMethods(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s := statsOf(store)
		s.Running = r.Running()
		web.RespondJSON(w, s)
	}), http.MethodGet))
	mux.Handle("/debug/logs", logs)

	web.Health(mux).RegisterFunc("last-run", func() (string, bool) {
		return lastRunStatus(r)
	})

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	if a.every > 0 {
		wg.Go(func() { a.schedule(ctx, r) })
	}
	wg.Go(func() { systemd.WatchdogLoop(ctx, a.getenv, a.logger.Logger) })

	err = web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:   a.addr,
		Mux:    mux,
		Logger: a.logger,
		Ready: func(addr net.Addr) {
			if err := systemd.Notify(a.getenv, systemd.Ready); err != nil {
				a.logger.Warn("notifying systemd failed", "error", err)
			}
			if a.ready != nil {
				a.ready(addr)
			}
		},
	})
	systemd.Notify(a.getenv, systemd.Stopping)
	return err
}

func (a *app) handleRun(ctx context.Context, r *pipeline.Runner, w http.ResponseWriter, req *http.Request) {
	rep, err := r.Run(ctx)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		web.RespondJSONError(w, req, fmt.Errorf("%w: %v", web.ErrConflict, err))
		return
	}
	if err != nil {
		web.RespondJSONError(w, req, err)
		return
	}
	if err := rep.Err(); err != nil {
		a.logger.Error("run partially failed", "error", err)
		web.RespondJSONStatus(w, http.StatusInternalServerError, rep)
		return
	}
	web.RespondJSON(w, rep)
}

func (a *app) schedule(ctx context.Context, r *pipeline.Runner) {
	ticker := time.NewTicker(a.every)
	defer ticker.Stop()

	a.logger.Info("scheduled runs enabled", "every", a.every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := r.Run(ctx)
			switch {
			case errors.Is(err, pipeline.ErrAlreadyRunning):
				a.logger.Info("skipping scheduled run, another one is in progress")
			case err != nil:
				a.logger.Error("scheduled run failed", "error", err)
			case rep.Err() != nil:
				a.logger.Error("scheduled run partially failed", "error", rep.Err())
			}
		}
	}
}

func lastRunStatus(r *pipeline.Runner) (string, bool) {
	if r.Running() {
		return "running", true
	}
	rep := r.Last()
	if rep == nil {
		return "no runs yet", true
	}
	if err := rep.Err(); err != nil {
		return err.Error(), false
	}
	if rep.Outcome == "" {
		return "interrupted", false
	}
	return fmt.Sprintf("%s at %s", rep.Outcome, rep.FinishedAt.Format(time.RFC3339)), true
}

