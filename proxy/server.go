package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/floegence/previewdev/deverrors"
	"github.com/floegence/previewdev/internal/defaults"
	"github.com/floegence/previewdev/listenaddr"
	"github.com/floegence/previewdev/observability"
)

const accessTimeLayout = "2006-01-02 15:04:05"

// Server relays local HTTP requests to the preview host.
//
// A Server holds no mutable state besides its observer; every request is
// handled independently on the goroutine net/http gives it.
type Server struct {
	cfg    *compiledOptions
	client *http.Client
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	cfg, err := compileOptions(opts)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: cfg.transport,
		// Redirects are relayed to the browser, never followed here.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Server{cfg: cfg, client: client}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg
	start := cfg.now()
	cfg.observer.InFlight(1)
	defer cfg.observer.InFlight(-1)

	s.logAccess(start, r)

	target := cfg.upstreamURL(r.URL)
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		cfg.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.RequestURI()).Msg("build upstream request")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	outReq.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		outReq.Body = nil
	}
	outReq.Host = cfg.upstreamHost

	header, prefixed, tokenOK := rewriteRequestHeaders(r.Header, r.Host, cfg.token)
	outReq.Header = header
	if prefixed > 0 {
		cfg.observer.Rewrite(observability.RewriteKindPrefixed)
	}
	if !tokenOK {
		cfg.observer.Rewrite(observability.RewriteKindSkipped)
		cfg.logger.Warn().
			Err(deverrors.Wrap(deverrors.StageRewrite, deverrors.CodeInvalidHeaderValue, errors.New("preview token is not a valid header value"))).
			Msg("identification header not sent")
	}

	resp, err := s.client.Do(outReq)
	if err != nil {
		s.failUpstream(w, r, start, err)
		return
	}
	defer resp.Body.Close()

	respHeader, restored := rewriteResponseHeaders(resp.Header)
	if restored > 0 {
		cfg.observer.Rewrite(observability.RewriteKindRestored)
	}
	if isRedirect(resp.StatusCode) {
		s.rewriteRedirect(respHeader)
	}

	dst := w.Header()
	for k, vv := range respHeader {
		dst[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	cfg.observer.Request(observability.RequestResultOK, resp.StatusCode, cfg.now().Sub(start))

	if err := copyBody(w, resp.Body); err != nil {
		if r.Context().Err() == nil {
			cfg.logger.Debug().Err(err).Str("path", r.URL.RequestURI()).Msg("relay response body")
		}
		return
	}
	relayTrailers(dst, resp.Trailer)
}

// relayTrailers sends upstream trailers after the body. resp.Trailer is only
// filled in once the body has been read to EOF.
func relayTrailers(dst http.Header, trailer http.Header) {
	for k, vv := range trailer {
		name, _ := StripHeaderName(k)
		if isHopByHopHeader(name) || isFramingHeader(name) {
			continue
		}
		dst[http.TrailerPrefix+name] = append([]string(nil), vv...)
	}
}

func (s *Server) rewriteRedirect(h http.Header) {
	cfg := s.cfg
	loc := h.Get("Location")
	if loc == "" {
		return
	}
	rewritten, err := RewriteLocation(loc, cfg.upstreamName, cfg.address.Host, cfg.address.HTTPS)
	if err != nil {
		cfg.observer.Rewrite(observability.RewriteKindSkipped)
		cfg.logger.Debug().Err(err).Str("location", loc).Msg("redirect target left unchanged")
		return
	}
	if rewritten != loc {
		h.Set("Location", rewritten)
		cfg.observer.Rewrite(observability.RewriteKindRedirect)
	}
}

func (s *Server) failUpstream(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	cfg := s.cfg
	d := cfg.now().Sub(start)
	if r.Context().Err() != nil {
		cfg.observer.Request(observability.RequestResultClientGone, 0, d)
		cfg.logger.Debug().Err(err).Str("path", r.URL.RequestURI()).Msg("client went away before upstream replied")
		return
	}
	code := deverrors.ClassifyUpstreamCode(err)
	cfg.logger.Error().
		Err(deverrors.Wrap(deverrors.StageUpstream, code, err)).
		Str("method", r.Method).
		Str("path", r.URL.RequestURI()).
		Msg("upstream request failed")
	http.Error(w, fmt.Sprintf("upstream request failed (%s)", code), http.StatusBadGateway)
	cfg.observer.Request(observability.RequestResultUpstreamError, http.StatusBadGateway, d)
}

// logAccess writes a line such as
//
//	[2024-01-02 15:04:05] "GET localhost:8787/index.html HTTP/1.1"
func (s *Server) logAccess(t time.Time, r *http.Request) {
	_, _ = fmt.Fprintf(s.cfg.accessLog, "[%s] \"%s %s%s %s\"\n",
		t.Format(accessTimeLayout), r.Method, s.cfg.address.Host, r.URL.RequestURI(), r.Proto)
}

// copyBody streams src to w, flushing after every chunk so streamed responses
// reach the browser as they arrive.
func copyBody(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// Serve accepts connections on ln until ctx is canceled. Cancellation closes
// the listener and all open connections immediately.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.onListen != nil {
		s.cfg.onListen(ln.Addr())
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: defaults.HTTPReadHeaderTimeout,
		IdleTimeout:       defaults.HTTPIdleTimeout,
		MaxHeaderBytes:    defaults.HTTPMaxHeaderBytes,
		ErrorLog:          stdlog.New(s.cfg.logger.With().Str("component", "http").Logger(), "", 0),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() { _ = srv.Close() })
	defer stop()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds opts.Address and serves until ctx is canceled. A bind
// failure is a config-stage error.
func ListenAndServe(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return deverrors.Wrap(deverrors.StageConfig, deverrors.CodeInvalidOption, err)
	}
	ln, err := listenaddr.Listen(ctx, opts.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
