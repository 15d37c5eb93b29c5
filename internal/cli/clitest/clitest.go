// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs table tests against a [cli.App].
package clitest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.astrophena.name/feedsum/internal/cli"
)

// Case is one invocation of the application under test.
type Case[App cli.App] struct {
	// Args are passed to the application as command-line arguments.
	Args []string
	// Env is what the application sees through its Getenv.
	Env map[string]string
	// WantErr, if set, must match the returned error with errors.Is.
	// Otherwise the application must succeed.
	WantErr error
	// WantInStdout and WantInStderr are substrings the outputs must contain.
	WantInStdout string
	WantInStderr string
	// CheckFunc, if set, is called after the application has run.
	CheckFunc func(*testing.T, App)
}

// Run runs every case in parallel, each against a fresh application returned
// by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := setup(t)
			var stdout, stderr bytes.Buffer
			err := cli.Run(cli.WithEnv(t.Context(), &cli.Env{
				Args:   tc.Args,
				Getenv: func(k string) string { return tc.Env[k] },
				Stdin:  strings.NewReader(""),
				Stdout: &stdout,
				Stderr: &stderr,
			}), app)

			switch {
			case tc.WantErr == nil && err != nil:
				t.Fatalf("unexpected error: %v\nstderr:\n%s", err, stderr.String())
			case tc.WantErr != nil && err == nil:
				t.Fatalf("want error %v, got none", tc.WantErr)
			case tc.WantErr != nil && !errors.Is(err, tc.WantErr):
				t.Fatalf("want error %v, got %v", tc.WantErr, err)
			}

			contains(t, "stdout", stdout.String(), tc.WantInStdout)
			contains(t, "stderr", stderr.String(), tc.WantInStderr)

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app)
			}
		})
	}
}

func contains(t *testing.T, stream, got, want string) {
	t.Helper()
	if want != "" && !strings.Contains(got, want) {
		t.Errorf("%s must contain %q, got:\n%s", stream, want, got)
	}
}
