package httpmock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/httputil"
	"github.com/mockstage/mockstage/pkg/mock"
	"github.com/mockstage/mockstage/pkg/proxy"
)

// MaxBodySize is the largest request body the listener reads.
const MaxBodySize = proxy.DefaultMaxBodySize

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		l.log.Warn("reading request body failed", "path", r.URL.Path, "error", err)
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidBody, err.Error())
		return
	}
	req := mock.NewRequestFromHTTP(r, body)

	defs, err := l.run.Definitions(r.Context())
	if err != nil {
		l.log.Error("loading definitions failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeUnavailable, "definitions unavailable")
		return
	}

	out := l.run.Matcher.Match(req, defs)
	switch {
	case out.Reason == engine.ReasonPush && out.Definition.Type == mock.TypePushWebSocket:
		if !isWebSocketUpgrade(r) {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeUpgradeRequired, "WebSocket upgrade required")
			return
		}
		l.serveWebSocket(w, r, req, out.Definition)
	case out.Reason == engine.ReasonPush:
		l.serveSSE(w, r, req, out.Definition)
	case out.Forward:
		l.forward(w, r, req, out)
	case out.NotFound:
		if origin, ok := proxy.OriginFrom(r.Context()); ok {
			l.forward(w, r, req, engine.Outcome{Forward: true, ForwardURL: origin, Reason: engine.ReasonNoMatch})
			return
		}
		l.notFound(w, req)
	case out.Response != nil:
		l.writeResponse(w, r, out.Response)
	default:
		l.notFound(w, req)
	}
}

func (l *Listener) notFound(w http.ResponseWriter, req *mock.Request) {
	l.log.Debug("no definition matched", "method", req.Method, "path", req.Path,
		"body", httputil.TruncateBody(req.Body, 0))
	httputil.WriteError(w, http.StatusNotFound, httputil.CodeNoMatch, "no mock matches "+req.Method+" "+req.Path)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

// forward relays req to the outcome's origin. A failed proxy-priority
// forward falls back to the definition's rules.
func (l *Listener) forward(w http.ResponseWriter, r *http.Request, req *mock.Request, out engine.Outcome) {
	timeout := l.cfg.Timeout.Duration()
	if out.Definition != nil && out.Definition.ResponseTimeout > 0 {
		timeout = out.Definition.ResponseTimeout.Duration()
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp, err := l.forwarder.Forward(ctx, req, out.ForwardURL)
	if err == nil {
		resp.WriteTo(w)
		return
	}

	if def := out.Definition; def != nil && def.Type == mock.TypeRule && out.Reason == engine.ReasonProxy {
		fallback := l.run.Matcher.MatchRules(req, def)
		if fallback.Response != nil {
			l.log.Debug("proxy failed, answering from rules", "definition", def.ID, "error", err)
			l.writeResponse(w, r, fallback.Response)
			return
		}
	}

	status, code := http.StatusBadGateway, httputil.CodeUpstreamError
	var uerr *proxy.UpstreamError
	if errors.As(err, &uerr) {
		status = uerr.StatusCode()
		if uerr.Timeout {
			code = httputil.CodeUpstreamTimeout
		}
	}
	l.log.Warn("forward failed", "target", out.ForwardURL, "error", err)
	httputil.WriteError(w, status, code, err.Error())
}

// writeResponse waits out the response delay and writes it. A delay beyond
// the listener timeout is answered with 504.
func (l *Listener) writeResponse(w http.ResponseWriter, r *http.Request, resp *mock.Response) {
	if delay := resp.Delay.Duration(); delay > 0 {
		timeout := l.cfg.Timeout.Duration()
		if timeout > 0 && delay > timeout {
			if !sleep(r.Context(), timeout) {
				return
			}
			httputil.WriteError(w, http.StatusGatewayTimeout, httputil.CodeDelayExceedsLimit, "mock response delay exceeds timeout")
			return
		}
		if !sleep(r.Context(), delay) {
			return
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode())
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, resp.Body)
	}
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// recoverMiddleware answers a panicking request with 500 and keeps the
// listener serving.
func recoverMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
