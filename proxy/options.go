package proxy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/floegence/previewdev/internal/defaults"
	"github.com/floegence/previewdev/listenaddr"
	"github.com/floegence/previewdev/observability"
	"github.com/floegence/previewdev/session"
	"github.com/rs/zerolog"
)

// DefaultUpstream is the preview host every request is forwarded to.
const DefaultUpstream = "https://rawhttp.cloudflareworkers.com"

// Options configures a Server.
type Options struct {
	// Upstream is the base URL of the preview host. Empty uses DefaultUpstream.
	// A base path is joined in front of every request path.
	Upstream string

	// Address is the resolved local listen address. Address.Host is the
	// display host used in access lines and redirect rewrites (required).
	Address listenaddr.Address

	// Token identifies this dev run to the preview host (required).
	Token session.PreviewToken

	// Transport is used for upstream round trips. nil uses a clone of
	// http.DefaultTransport with compression left to the client.
	Transport http.RoundTripper

	// Logger receives diagnostics. nil discards them.
	Logger *zerolog.Logger

	// AccessLog receives one human-readable line per request. nil discards them.
	AccessLog io.Writer

	// Observer receives metric events. nil disables metrics.
	Observer observability.ProxyObserver

	// Now is the clock used for access lines and latency. nil uses time.Now.
	Now func() time.Time

	// OnListen is called once the listener is bound, before serving.
	OnListen func(addr net.Addr)
}

type compiledOptions struct {
	upstream     *url.URL
	upstreamHost string // host[:port] sent as Host
	upstreamName string // hostname compared against redirect targets

	address listenaddr.Address
	token   string

	transport http.RoundTripper
	logger    zerolog.Logger
	accessLog io.Writer
	observer  observability.ProxyObserver
	now       func() time.Time
	onListen  func(net.Addr)
}

func compileOptions(opts Options) (*compiledOptions, error) {
	upstreamStr := strings.TrimSpace(opts.Upstream)
	if upstreamStr == "" {
		upstreamStr = DefaultUpstream
	}
	upstreamURL, err := url.Parse(upstreamStr)
	if err != nil || upstreamURL == nil {
		if err == nil {
			err = errors.New("invalid url")
		}
		return nil, fmt.Errorf("invalid Upstream: %w", err)
	}
	switch upstreamURL.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("invalid Upstream scheme (expected http/https): %q", upstreamURL.Scheme)
	}
	if upstreamURL.Host == "" || upstreamURL.Hostname() == "" {
		return nil, errors.New("invalid Upstream: missing host")
	}
	if upstreamURL.RawQuery != "" || upstreamURL.Fragment != "" {
		return nil, errors.New("invalid Upstream: query/fragment not allowed")
	}
	if upstreamURL.User != nil {
		return nil, errors.New("invalid Upstream: userinfo not allowed")
	}

	if strings.TrimSpace(opts.Address.Host) == "" {
		return nil, errors.New("missing Address.Host")
	}
	if opts.Token == "" {
		return nil, errors.New("missing Token")
	}

	transport := opts.Transport
	if transport == nil {
		transport = defaultTransport()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	accessLog := opts.AccessLog
	if accessLog == nil {
		accessLog = io.Discard
	}
	observer := opts.Observer
	if observer == nil {
		observer = observability.NoopProxyObserver
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &compiledOptions{
		upstream:     upstreamURL,
		upstreamHost: upstreamURL.Host,
		upstreamName: upstreamURL.Hostname(),

		address: opts.Address,
		token:   string(opts.Token),

		transport: transport,
		logger:    logger,
		accessLog: &lockedWriter{w: accessLog},
		observer:  observer,
		now:       now,
		onListen:  opts.OnListen,
	}, nil
}

func defaultTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	// Pass Accept-Encoding and Content-Encoding through untouched.
	t.DisableCompression = true
	t.TLSHandshakeTimeout = defaults.TLSHandshakeTimeout
	t.ResponseHeaderTimeout = 0
	return t
}

// upstreamURL resolves the client's request target against the upstream base.
func (c *compiledOptions) upstreamURL(in *url.URL) *url.URL {
	u := *c.upstream
	u.Path, u.RawPath = joinURLPath(c.upstream, in)
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

func joinURLPath(base, in *url.URL) (path, rawpath string) {
	if base.Path == "" || base.Path == "/" {
		return in.Path, in.RawPath
	}
	path = singleJoiningSlash(base.Path, in.Path)
	if base.RawPath == "" && in.RawPath == "" {
		return path, ""
	}
	return path, singleJoiningSlash(base.EscapedPath(), in.EscapedPath())
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
