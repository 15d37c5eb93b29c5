// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/feedsum/internal/testutil"
)

func listen(t *testing.T) (*net.UnixConn, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "notify.sock")
	l, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("listening on unixgram socket: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, socketPath
}

func read(t *testing.T, l *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 512)
	n, _, err := l.ReadFromUnix(buf)
	if err != nil {
		t.Fatalf("reading from unixgram socket: %v", err)
	}
	return string(buf[:n])
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNotify(t *testing.T) {
	t.Parallel()

	l, socketPath := listen(t)
	if err := Notify(env(map[string]string{"NOTIFY_SOCKET": socketPath}), Ready); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, read(t, l), "READY=1")
}

func TestNotifyNotUnderSystemd(t *testing.T) {
	t.Parallel()

	if err := Notify(env(nil), Ready); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyMissingSocket(t *testing.T) {
	t.Parallel()

	err := Notify(env(map[string]string{"NOTIFY_SOCKET": filepath.Join(t.TempDir(), "nope.sock")}), Ready)
	if err == nil {
		t.Fatal("want error")
	}
}

func TestWatchdogLoop(t *testing.T) {
	t.Parallel()

	l, socketPath := listen(t)
	getenv := env(map[string]string{
		"NOTIFY_SOCKET": socketPath,
		"WATCHDOG_USEC": "100000",
	})

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	wg.Go(func() { WatchdogLoop(ctx, getenv, slog.New(slog.NewTextHandler(io.Discard, nil))) })

	testutil.AssertEqual(t, read(t, l), "WATCHDOG=1")

	cancel()
	wg.Wait()

	l.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 512)
	// Drain a message that might have been sent just before cancellation.
	l.ReadFromUnix(buf)
	l.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if n, _, err := l.ReadFromUnix(buf); err == nil && n > 0 {
		t.Errorf("want no more messages after cancel, got %q", buf[:n])
	}
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()

	d, err := watchdogInterval("2000000")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, d, time.Second)

	for _, bad := range []string{"abc", "0", "-5"} {
		if _, err := watchdogInterval(bad); err == nil {
			t.Errorf("watchdogInterval(%q): want error", bad)
		}
	}
}
