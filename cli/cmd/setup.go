package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/adapter"
	"github.com/pithecene-io/conduit/adapter/redis"
	"github.com/pithecene-io/conduit/adapter/webhook"
	"github.com/pithecene-io/conduit/cli/config"
	"github.com/pithecene-io/conduit/journal"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/registry"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/tools"
	"github.com/pithecene-io/conduit/types"
)

// sessionSetup is a session together with everything it was built from.
type sessionSetup struct {
	session   *runtime.Session
	logger    *log.Logger
	collector *metrics.Collector
	tracker   *outcomeTracker
	closers   []func() error
}

// Close closes the session and then its collaborators in reverse order.
func (s *sessionSetup) Close() error {
	errs := []error{s.session.Close()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// newSessionSetup resolves flags over the config file and builds a
// session. callbacks run after the outcome tracker records each run.
func newSessionSetup(c *cli.Context, callbacks runtime.Callbacks) (*sessionSetup, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	logger, err := log.New(sessionID, log.Options{
		Output: errWriter(c),
		Level:  resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level })),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	endpoint := resolveString(c, "endpoint", configVal(cfg, func(c *config.Config) string { return c.Endpoint }))
	if endpoint == "" {
		return nil, errors.New("an endpoint is required (--endpoint or endpoint: in config)")
	}

	transport, err := buildTransport(c, cfg, endpoint)
	if err != nil {
		return nil, err
	}

	registryTools, err := buildTools(cfg)
	if err != nil {
		return nil, err
	}

	state, err := resolveState(c, cfg)
	if err != nil {
		return nil, err
	}

	setup := &sessionSetup{logger: logger, tracker: &outcomeTracker{}}
	ok := false
	defer func() {
		if !ok {
			for i := len(setup.closers) - 1; i >= 0; i-- {
				_ = setup.closers[i]()
			}
		}
	}()

	jc := resolveJournalChoice(c, cfg)
	j, err := buildJournal(c.Context, jc)
	if err != nil {
		return nil, err
	}
	setup.collector = metrics.NewCollector(sessionID, endpoint, jc.storageBackend())

	ad, err := buildAdapter(c, cfg)
	if err != nil {
		return nil, err
	}
	if ad != nil {
		setup.closers = append(setup.closers, ad.Close)
	}

	var reg *registry.Registry
	if addr := c.String("debug-addr"); addr != "" {
		reg = registry.New()
		stop, err := serveDebug(addr, reg, logger)
		if err != nil {
			return nil, err
		}
		setup.closers = append(setup.closers, stop)
	}

	opts := runtime.Options{
		Transport:          transport,
		SessionID:          sessionID,
		Tools:              registryTools,
		MaxConcurrentTools: resolveInt64(c, "max-concurrent-tools", configVal(cfg, func(c *config.Config) int64 { return c.MaxConcurrentTools })),
		InitialState:       state,
		Callbacks:          setup.tracker.wrap(callbacks),
		Logger:             logger,
		Collector:          setup.collector,
		Adapter:            ad,
		Registry:           reg,
	}
	if j != nil {
		opts.Journal = j
	}

	session, err := runtime.NewSession(opts)
	if err != nil {
		return nil, err
	}
	setup.session = session
	ok = true
	return setup, nil
}

func buildTransport(c *cli.Context, cfg *config.Config, endpoint string) (*runtime.HTTPTransport, error) {
	flagHeaders, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return nil, err
	}
	var callSettings, reqConfig, body map[string]any
	if cfg != nil {
		if callSettings, reqConfig, body, err = cfg.RequestMaps(); err != nil {
			return nil, err
		}
	}
	return runtime.NewHTTPTransport(runtime.HTTPConfig{
		Endpoint: endpoint,
		Headers:  mergeHeaders(configVal(cfg, func(c *config.Config) map[string]string { return c.Headers }), flagHeaders),
		Context: runtime.StaticContext{
			System:       resolveString(c, "system", configVal(cfg, func(c *config.Config) string { return c.System })),
			CallSettings: callSettings,
			Config:       reqConfig,
		},
		Body:           body,
		RequestTimeout: resolveDuration(c, "request-timeout", configVal(cfg, func(c *config.Config) config.Duration { return c.RequestTimeout }).Duration),
	})
}

func buildTools(cfg *config.Config) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if cfg == nil {
		return reg, nil
	}
	defs, err := cfg.ToolDefs()
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveState(c *cli.Context, cfg *config.Config) (types.State, error) {
	if raw := c.String("state"); raw != "" {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --state JSON: %w", err)
		}
		return v, nil
	}
	if cfg == nil {
		return nil, nil
	}
	return cfg.State()
}

// journalChoice holds resolved journal configuration.
type journalChoice struct {
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	dataset   string
	region    string
	endpoint  string
	pathStyle bool
}

// storageBackend labels metrics; "none" when the journal is disabled.
func (jc journalChoice) storageBackend() string {
	if jc.path == "" {
		return "none"
	}
	return jc.backend
}

func resolveJournalChoice(c *cli.Context, cfg *config.Config) journalChoice {
	jcfg := configVal(cfg, func(c *config.Config) config.JournalConfig { return c.Journal })
	return journalChoice{
		backend:   resolveString(c, "journal-backend", jcfg.Backend),
		path:      resolveString(c, "journal-path", jcfg.Path),
		dataset:   resolveString(c, "journal-dataset", jcfg.Dataset),
		region:    resolveString(c, "journal-s3-region", jcfg.Region),
		endpoint:  resolveString(c, "journal-s3-endpoint", jcfg.Endpoint),
		pathStyle: resolveBool(c, "journal-s3-path-style", jcfg.S3PathStyle),
	}
}

// buildJournal returns nil when no journal path is configured.
func buildJournal(ctx context.Context, jc journalChoice) (*journal.Journal, error) {
	if jc.path == "" {
		return nil, nil
	}
	switch jc.backend {
	case "fs", "":
		if err := os.MkdirAll(jc.path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		return journal.NewFS(jc.dataset, jc.path)
	case "s3":
		bucket, prefix := journal.ParseS3Path(jc.path)
		return journal.NewS3(ctx, jc.dataset, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       jc.region,
			Endpoint:     jc.endpoint,
			UsePathStyle: jc.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown journal backend: %s (must be fs or s3)", jc.backend)
	}
}

// adapterChoice holds resolved adapter configuration.
type adapterChoice struct {
	kind    string
	url     string
	channel string
	stream  string
	secret  string
	headers map[string]string
	retries int
}

func resolveAdapterChoice(c *cli.Context, cfg *config.Config) (adapterChoice, error) {
	acfg := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })
	flagHeaders, err := parseHeaders(c.StringSlice("adapter-header"))
	if err != nil {
		return adapterChoice{}, err
	}
	return adapterChoice{
		kind:    resolveString(c, "adapter-type", acfg.Type),
		url:     resolveString(c, "adapter-url", acfg.URL),
		channel: resolveString(c, "adapter-channel", acfg.Channel),
		stream:  resolveString(c, "adapter-stream", acfg.Stream),
		secret:  resolveString(c, "adapter-secret", acfg.Secret),
		headers: mergeHeaders(acfg.Headers, flagHeaders),
		retries: resolveInt(c, "adapter-retries", acfg.Retries),
	}, nil
}

// buildAdapter returns nil when no adapter type is configured.
func buildAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	ac, err := resolveAdapterChoice(c, cfg)
	if err != nil {
		return nil, err
	}
	timeout := resolveDuration(c, "adapter-timeout",
		configVal(cfg, func(c *config.Config) config.Duration { return c.Adapter.Timeout }).Duration)

	switch ac.kind {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Secret:  ac.secret,
			Timeout: timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Stream:  ac.stream,
			Timeout: timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", ac.kind)
	}
}

// lastOutcome is the outcome of the latest run. Status is empty before
// the first run settles.
type lastOutcome struct {
	Status types.OutcomeStatus
	Err    error
	Runs   int
}

// outcomeTracker remembers the outcome of the latest run.
type outcomeTracker struct {
	mu   sync.Mutex
	last lastOutcome
}

// wrap records outcomes before delegating to next.
func (t *outcomeTracker) wrap(next runtime.Callbacks) runtime.Callbacks {
	return runtime.Callbacks{
		OnResponse: next.OnResponse,
		OnFinish: func(fc runtime.FinishContext) {
			t.set(types.OutcomeSuccess, nil)
			if next.OnFinish != nil {
				next.OnFinish(fc)
			}
		},
		OnError: func(err error, ec runtime.ErrorContext) {
			t.set(types.OutcomeError, err)
			if next.OnError != nil {
				next.OnError(err, ec)
			}
		},
		OnCancel: func(cc runtime.CancelContext) {
			t.set(types.OutcomeAborted, nil)
			if next.OnCancel != nil {
				next.OnCancel(cc)
			}
		},
	}
}

func (t *outcomeTracker) set(status types.OutcomeStatus, err error) {
	t.mu.Lock()
	t.last = lastOutcome{Status: status, Err: err, Runs: t.last.Runs + 1}
	t.mu.Unlock()
}

// Last returns the latest outcome.
func (t *outcomeTracker) Last() lastOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func outWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func inReader(c *cli.Context) io.Reader {
	if c.App != nil && c.App.Reader != nil {
		return c.App.Reader
	}
	return os.Stdin
}
