package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/config"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// testApp runs commands with captured output and no os.Exit.
type testApp struct {
	app    *cli.App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(stdin string, cmds ...*cli.Command) *testApp {
	ta := &testApp{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	ta.app = &cli.App{
		Name:           "conduit",
		Commands:       cmds,
		Reader:         strings.NewReader(stdin),
		Writer:         ta.stdout,
		ErrWriter:      ta.stderr,
		ExitErrHandler: func(*cli.Context, error) {},
	}
	return ta
}

func (ta *testApp) run(args ...string) error {
	return ta.app.Run(append([]string{"conduit"}, args...))
}

// exitCodeOf returns the exit code carried by err (0 for nil, 1 for
// plain errors).
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

// newStreamServer answers every request with the given data-stream body.
func newStreamServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", wire.ContentTypeDataStream)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newAgentEcho hands each decoded request body and its headers to fn and
// answers with a short text stream.
func newAgentEcho(t *testing.T, fn func(body map[string]any, h http.Header)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		fn(body, r.Header)
		w.Header().Set("Content-Type", wire.ContentTypeDataStream)
		_, _ = w.Write([]byte("0:\"ok\"\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// newTestCLIContext builds a context with string flags. Only flagValues
// count as explicitly set; defaultFlags provide urfave defaults.
func newTestCLIContext(t *testing.T, flagValues, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k := range flagValues {
		if _, ok := allFlags[k]; !ok {
			allFlags[k] = ""
		}
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		app.Flags = append(app.Flags, &cli.StringFlag{Name: name, Value: val})
		fs.String(name, val, "")
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveString(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		flags      map[string]string
		defaults   map[string]string
		fromConfig string
		want       string
	}{
		{
			name:       "CLI wins over config",
			flag:       "endpoint",
			flags:      map[string]string{"endpoint": "http://cli"},
			fromConfig: "http://config",
			want:       "http://cli",
		},
		{
			name:       "config fills unset flag",
			flag:       "endpoint",
			defaults:   map[string]string{"endpoint": ""},
			fromConfig: "http://config",
			want:       "http://config",
		},
		{
			name:     "urfave default when config empty",
			flag:     "journal-backend",
			defaults: map[string]string{"journal-backend": "fs"},
			want:     "fs",
		},
		{
			name:       "config wins over urfave default",
			flag:       "journal-backend",
			defaults:   map[string]string{"journal-backend": "fs"},
			fromConfig: "s3",
			want:       "s3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCLIContext(t, tt.flags, tt.defaults)
			if got := resolveString(c, tt.flag, tt.fromConfig); got != tt.want {
				t.Errorf("resolveString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveInt(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "adapter-retries", Value: 3}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("adapter-retries", 3, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveInt(c, "adapter-retries", nil); got != 3 {
		t.Errorf("default = %d, want 3", got)
	}
	five := 5
	if got := resolveInt(c, "adapter-retries", &five); got != 5 {
		t.Errorf("config fallback = %d, want 5", got)
	}
	zero := 0
	if got := resolveInt(c, "adapter-retries", &zero); got != 0 {
		t.Errorf("explicit config zero = %d, want 0", got)
	}

	_ = fs.Set("adapter-retries", "7")
	if got := resolveInt(c, "adapter-retries", &five); got != 7 {
		t.Errorf("CLI = %d, want 7", got)
	}
}

func TestResolveDuration(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "request-timeout", Value: 30 * time.Second}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("request-timeout", 30*time.Second, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "request-timeout", 0); got != 30*time.Second {
		t.Errorf("default = %v", got)
	}
	if got := resolveDuration(c, "request-timeout", time.Minute); got != time.Minute {
		t.Errorf("config fallback = %v", got)
	}
	_ = fs.Set("request-timeout", "5s")
	if got := resolveDuration(c, "request-timeout", time.Minute); got != 5*time.Second {
		t.Errorf("CLI = %v", got)
	}
}

func TestResolveBool(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "journal-s3-path-style"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("journal-s3-path-style", false, "")
	c := cli.NewContext(app, fs, nil)

	if resolveBool(c, "journal-s3-path-style", false) {
		t.Error("unset flag and config should be false")
	}
	if !resolveBool(c, "journal-s3-path-style", true) {
		t.Error("config true should win over unset flag")
	}
	_ = fs.Set("journal-s3-path-style", "false")
	if resolveBool(c, "journal-s3-path-style", true) {
		t.Error("explicit CLI false should win over config")
	}
}

func TestConfigVal(t *testing.T) {
	if got := configVal(nil, func(c *config.Config) string { return c.Endpoint }); got != "" {
		t.Errorf("nil config = %q", got)
	}
	cfg := &config.Config{Endpoint: "http://from-config"}
	if got := configVal(cfg, func(c *config.Config) string { return c.Endpoint }); got != "http://from-config" {
		t.Errorf("got %q", got)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"Authorization=Bearer a=b", " X-Team =core"})
	if err != nil {
		t.Fatalf("parseHeaders failed: %v", err)
	}
	want := map[string]string{"Authorization": "Bearer a=b", "X-Team": "core"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseHeaders([]string{bad}); err == nil {
			t.Errorf("parseHeaders(%q) should fail", bad)
		}
	}
}

func TestMergeHeaders(t *testing.T) {
	got := mergeHeaders(
		map[string]string{"A": "config", "B": "config"},
		map[string]string{"B": "flag", "C": "flag"},
	)
	want := map[string]string{"A": "config", "B": "flag", "C": "flag"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if mergeHeaders(nil, nil) != nil {
		t.Error("empty merge should be nil")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		status types.OutcomeStatus
		err    error
		want   int
	}{
		{"success", types.OutcomeSuccess, nil, exitSuccess},
		{"no run", "", nil, exitSuccess},
		{"aborted", types.OutcomeAborted, nil, exitCancelled},
		{"transport", types.OutcomeError, &runtime.RunError{Kind: runtime.RunErrorTransport, Err: errors.New("refused")}, exitTransport},
		{"decode", types.OutcomeError, &runtime.RunError{Kind: runtime.RunErrorDecode, Err: errors.New("bad frame")}, exitTransport},
		{"protocol", types.OutcomeError, &runtime.RunError{Kind: runtime.RunErrorProtocol, Err: errors.New("regression")}, exitRunError},
		{"remote", types.OutcomeError, &runtime.RunError{Kind: runtime.RunErrorRemote, Err: errors.New("overloaded")}, exitRunError},
		{"unclassified", types.OutcomeError, errors.New("boom"), exitRunError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.status, tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitWith(t *testing.T) {
	if err := exitWith(exitSuccess, "ignored"); err != nil {
		t.Errorf("success should be nil, got %v", err)
	}
	if got := exitCodeOf(exitWith(exitCancelled, "")); got != exitCancelled {
		t.Errorf("code = %d, want %d", got, exitCancelled)
	}
}

func TestOutcomeTracker(t *testing.T) {
	var tr outcomeTracker
	var forwarded []string
	cb := tr.wrap(runtime.Callbacks{
		OnFinish: func(runtime.FinishContext) { forwarded = append(forwarded, "finish") },
		OnError:  func(error, runtime.ErrorContext) { forwarded = append(forwarded, "error") },
	})

	if last := tr.Last(); last.Status != "" || last.Runs != 0 {
		t.Fatalf("initial = %+v", last)
	}

	cb.OnFinish(runtime.FinishContext{})
	boom := errors.New("boom")
	cb.OnError(boom, runtime.ErrorContext{})
	cb.OnCancel(runtime.CancelContext{})

	last := tr.Last()
	if last.Status != types.OutcomeAborted || last.Err != nil || last.Runs != 3 {
		t.Errorf("last = %+v", last)
	}
	if !reflect.DeepEqual(forwarded, []string{"finish", "error"}) {
		t.Errorf("forwarded = %v", forwarded)
	}
}

func TestVersionCommand(t *testing.T) {
	ta := newTestApp("", VersionCommand("abc123"))
	if err := ta.run("version", "--format", "json"); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	out := ta.stdout.String()
	for _, want := range []string{`"version": "` + types.Version + `"`, `"commit": "abc123"`, `"protocol_version"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}
