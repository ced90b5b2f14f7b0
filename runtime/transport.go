package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pithecene-io/conduit/iox"
	"github.com/pithecene-io/conduit/tools"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// ProtocolHeader carries the client protocol version on every request.
const ProtocolHeader = "X-Conduit-Protocol"

// ProtocolVersion is the request/stream contract version.
const ProtocolVersion = "1"

// maxErrorBody bounds how much of a non-2xx body is kept in TransportError.
const maxErrorBody = 64 << 10

// Request is one outbound run request.
type Request struct {
	// Run identifies the run.
	Run *types.RunMeta
	// Commands is the flushed command batch, in enqueue order.
	Commands []types.Command
	// State is the last known agent state.
	State types.State
	// Tools are the enabled tool schemas, keyed by name.
	Tools map[string]tools.Schema
}

// Response is an accepted run response. The caller must close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	// Decoder yields frames from Body.
	Decoder wire.Decoder
	Body    io.ReadCloser
}

// Transport sends a run request and returns the frame stream.
// Implementations must return a *TransportError for rejected requests.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// SessionContext is the caller-supplied context sent with every request.
type SessionContext struct {
	// System is the system prompt. Omitted when empty.
	System string
	// CallSettings (model parameters) are merged into the request body.
	CallSettings map[string]any
	// Config is merged into the request body after CallSettings.
	Config map[string]any
}

// ContextProvider supplies the session context per request.
type ContextProvider interface {
	SessionContext(ctx context.Context) (SessionContext, error)
}

// StaticContext is a ContextProvider that always returns itself.
type StaticContext SessionContext

// SessionContext implements ContextProvider.
func (c StaticContext) SessionContext(context.Context) (SessionContext, error) {
	return SessionContext(c), nil
}

// HeaderProvider supplies per-request headers, e.g. short-lived tokens.
type HeaderProvider func(ctx context.Context) (map[string]string, error)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// Endpoint is the URL runs are POSTed to (required).
	Endpoint string
	// Headers are static headers added to every request.
	Headers map[string]string
	// HeaderProvider adds dynamic headers. Its values win over Headers.
	HeaderProvider HeaderProvider
	// Context supplies system prompt, call settings and config.
	Context ContextProvider
	// Body is merged into the request body last.
	Body map[string]any
	// RequestTimeout bounds the wait for response headers. The stream
	// itself is bounded only by cancellation. Zero means no bound.
	RequestTimeout time.Duration
	// Client overrides the HTTP client. RequestTimeout is ignored when set.
	Client *http.Client
	// Tracer for request spans. Defaults to the global tracer provider.
	Tracer trace.Tracer
}

// HTTPTransport posts runs as JSON and decodes the streamed response.
type HTTPTransport struct {
	config HTTPConfig
	client *http.Client
	tracer trace.Tracer
}

// NewHTTPTransport creates an HTTP transport from cfg.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport requires an endpoint")
	}
	client := cfg.Client
	if client == nil {
		rt := http.DefaultTransport.(*http.Transport).Clone()
		rt.ResponseHeaderTimeout = cfg.RequestTimeout
		client = &http.Client{Transport: rt}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/pithecene-io/conduit/runtime")
	}
	return &HTTPTransport{config: cfg, client: client, tracer: tracer}, nil
}

// Endpoint returns the configured endpoint URL.
func (t *HTTPTransport) Endpoint() string {
	return t.config.Endpoint
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := t.tracer.Start(ctx, "transport.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.url", t.config.Endpoint),
			attribute.Int("conduit.commands", len(req.Commands)),
		),
	)
	defer span.End()

	resp, err := t.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (t *HTTPTransport) send(ctx context.Context, req *Request) (*Response, error) {
	body, err := t.buildBody(ctx, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := t.setHeaders(ctx, httpReq, req); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DrainClose(resp.Body)
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			iox.DiscardClose(resp.Body)
		}
		return nil, &TransportError{Body: "response body is null"}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Decoder:    wire.NewDecoderForContentType(resp.Header.Get("Content-Type"), resp.Body),
		Body:       resp.Body,
	}, nil
}

// buildBody assembles {commands, state, system, tools, ...callSettings,
// ...config, ...body}. Later keys override earlier ones.
func (t *HTTPTransport) buildBody(ctx context.Context, req *Request) ([]byte, error) {
	var sc SessionContext
	if t.config.Context != nil {
		var err error
		if sc, err = t.config.Context.SessionContext(ctx); err != nil {
			return nil, fmt.Errorf("session context: %w", err)
		}
	}

	commands := req.Commands
	if commands == nil {
		commands = []types.Command{}
	}
	payload := map[string]any{
		"commands": commands,
		"state":    req.State,
	}
	if sc.System != "" {
		payload["system"] = sc.System
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	maps.Copy(payload, sc.CallSettings)
	maps.Copy(payload, sc.Config)
	maps.Copy(payload, t.config.Body)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func (t *HTTPTransport) setHeaders(ctx context.Context, httpReq *http.Request, req *Request) error {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", wire.ContentTypeDataStream+", "+wire.ContentTypeMsgpack)
	httpReq.Header.Set(ProtocolHeader, ProtocolVersion)
	if req.Run != nil {
		httpReq.Header.Set("X-Conduit-Run-Id", req.Run.RunID)
		httpReq.Header.Set("X-Conduit-Session-Id", req.Run.SessionID)
	}
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.config.HeaderProvider != nil {
		dynamic, err := t.config.HeaderProvider(ctx)
		if err != nil {
			return fmt.Errorf("request headers: %w", err)
		}
		for k, v := range dynamic {
			httpReq.Header.Set(k, v)
		}
	}
	return nil
}

var _ Transport = (*HTTPTransport)(nil)
