// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"go.astrophena.name/feedsum/internal/logger"
	"go.astrophena.name/feedsum/internal/testutil"
)

type flagApp struct {
	name string
	ran  bool
	args []string
}

func (a *flagApp) Flags(fs *flag.FlagSet) { fs.StringVar(&a.name, "name", "", "Name.") }

func (a *flagApp) Run(ctx context.Context) error {
	a.ran = true
	a.args = GetEnv(ctx).Args
	logger.Get(ctx).Info("ran", "name", a.name)
	return nil
}

func testEnv(args ...string) (*Env, *bytes.Buffer) {
	var stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: new(bytes.Buffer),
		Stderr: &stderr,
	}, &stderr
}

func TestRunParsesFlags(t *testing.T) {
	t.Parallel()

	app := new(flagApp)
	env, stderr := testEnv("-name", "x", "run", "now")
	if err := Run(WithEnv(t.Context(), env), app); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, app.ran, true)
	testutil.AssertEqual(t, app.name, "x")
	testutil.AssertEqual(t, app.args, []string{"run", "now"})
	if !strings.Contains(stderr.String(), "name=x") {
		t.Fatalf("logger did not write to env stderr: %q", stderr.String())
	}
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	env, _ := testEnv("-version")
	err := Run(WithEnv(t.Context(), env), new(flagApp))
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("want ErrExitVersion, got %v", err)
	}
	if isPrintableError(err) {
		t.Fatal("version exit must not be printed")
	}
}

func TestRunBadFlag(t *testing.T) {
	t.Parallel()

	env, _ := testEnv("-nope")
	err := Run(WithEnv(t.Context(), env), new(flagApp))
	if err == nil {
		t.Fatal("want error")
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestGetEnvDefault(t *testing.T) {
	t.Parallel()

	if GetEnv(context.Background()) == nil {
		t.Fatal("GetEnv must fall back to the OS environment")
	}
}

func TestParseDocComment(t *testing.T) {
	docSrc = []byte("/*\nHello.\n\nWorld.\n*/\npackage main\n")
	t.Cleanup(func() { docSrc = nil })
	testutil.AssertEqual(t, parseDocComment(), "Hello.\n\nWorld.\n")
}
