// ABOUTME: Reverse forwarder sending matched requests to their upstream
// ABOUTME: Every forward runs behind the resilience chain with a per-upstream timeout

package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/hypertube/gateway/internal/resilience"
)

// maxBufferedBody bounds how much request body is buffered for retries
const maxBufferedBody = 32 << 20 // 32 MiB

// hop-by-hop headers are not forwarded
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Forwarder proxies matched requests to their upstream through the
// resilience chain. The request body is buffered so a retried attempt can
// replay it. Each upstream gets its own client carrying that upstream's
// timeout budget.
type Forwarder struct {
	table   *RouteTable
	chain   *resilience.Chain
	clients map[string]*http.Client
	logger  *slog.Logger
}

// NewForwarder creates a forwarder over the given route table and chain
func NewForwarder(table *RouteTable, chain *resilience.Chain) *Forwarder {
	clients := make(map[string]*http.Client, len(table.upstreams))
	for name, u := range table.upstreams {
		clients[name] = &http.Client{
			Timeout: u.Timeout,
			// Redirects from upstreams pass through to the client untouched
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Forwarder{
		table:   table,
		chain:   chain,
		clients: clients,
		logger:  slog.Default().With("component", "forwarder"),
	}
}

// Forward proxies the request to the route's upstream. Pipeline rejections
// map to edge responses; any response the upstream produced passes through.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, route *Route) {
	upstream := f.table.UpstreamFor(route)
	client := f.clients[upstream.Name]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "failed to read request body")
		return
	}

	class := resilience.ClassDefault
	if upstream.Name == "auth" {
		class = resilience.ClassAuth
	}

	var resp *http.Response
	err = f.chain.Execute(r.Context(), upstream.Name, class, func(ctx context.Context) error {
		attempt, attemptErr := f.buildUpstreamRequest(ctx, r, upstream, body)
		if attemptErr != nil {
			return attemptErr
		}
		resp, attemptErr = client.Do(attempt)
		return attemptErr
	})

	if err != nil {
		f.writePipelineError(w, r, upstream, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn("copying upstream response",
			"upstream", upstream.Name,
			"error", err,
			"trace_id", TraceIDFromContext(r.Context()))
	}
}

// buildUpstreamRequest clones the inbound request against the upstream base URL
func (f *Forwarder) buildUpstreamRequest(ctx context.Context, r *http.Request, upstream *Upstream, body []byte) (*http.Request, error) {
	target := *upstream.BaseURL
	target.Path = singleJoiningSlash(target.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("X-Forwarded-For", clientAddr(r))
	req.Header.Set("X-Forwarded-Host", r.Host)

	return req, nil
}

func (f *Forwarder) writePipelineError(w http.ResponseWriter, r *http.Request, upstream *Upstream, err error) {
	traceID := TraceIDFromContext(r.Context())

	switch {
	case errors.Is(err, resilience.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	case errors.Is(err, resilience.ErrCircuitOpen):
		f.logger.Warn("circuit open", "upstream", upstream.Name, "trace_id", traceID)
		writeFallback(w, upstream.Name)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write
	default:
		f.logger.Error("upstream unreachable",
			"upstream", upstream.Name,
			"error", err,
			"trace_id", traceID)
		writeFallback(w, upstream.Name)
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func singleJoiningSlash(a, b string) string {
	switch {
	case len(a) == 0:
		return b
	case a[len(a)-1] == '/' && len(b) > 0 && b[0] == '/':
		return a + b[1:]
	case a[len(a)-1] != '/' && (len(b) == 0 || b[0] != '/'):
		return a + "/" + b
	}
	return a + b
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
