// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service readiness and watchdog keep-alives to
// systemd using the sd_notify protocol.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notify sends state to the socket named by NOTIFY_SOCKET, as returned by
// getenv. It does nothing when not running under systemd.
func Notify(getenv func(string) string, state State) error {
	addr := &net.UnixAddr{
		Net:  "unixgram",
		Name: getenv("NOTIFY_SOCKET"),
	}
	if addr.Name == "" {
		return nil
	}

	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		return fmt.Errorf("systemd: notifying: %w", err)
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("systemd: notifying: %w", err)
	}
	return nil
}

// WatchdogLoop periodically updates the systemd watchdog timestamp until ctx
// is canceled. It returns immediately if the watchdog is not enabled.
func WatchdogLoop(ctx context.Context, getenv func(string) string, log *slog.Logger) {
	if getenv("WATCHDOG_USEC") == "" {
		return
	}
	interval, err := watchdogInterval(getenv("WATCHDOG_USEC"))
	if err != nil {
		log.Warn("systemd watchdog disabled", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := Notify(getenv, Watchdog); err != nil {
				log.Warn("systemd watchdog update failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchdogInterval returns half of the watchdog timeout, as sd_watchdog_enabled
// recommends.
func watchdogInterval(usec string) (time.Duration, error) {
	s, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("systemd: converting WATCHDOG_USEC: %w", err)
	}
	if s <= 0 {
		return 0, errors.New("systemd: WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(s) * time.Microsecond / 2, nil
}
