// Package listenaddr resolves the local bind address of a dev run and the host
// label browsers see for it.
package listenaddr

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/floegence/previewdev/deverrors"
)

const (
	// DefaultIP is used when no IP is supplied.
	DefaultIP = "127.0.0.1"
	// DefaultPort is used when no port is supplied.
	DefaultPort = 8787
)

// Input holds the raw user preferences. Empty strings mean "not supplied".
type Input struct {
	Host string
	IP   string
	Port string
}

// Address is a resolved listen address.
//
// The local listener never terminates TLS. HTTPS only changes how redirects
// are rewritten and how the preview token is encoded.
type Address struct {
	Host  string // display label, host[:port] without scheme
	IP    string
	Port  int
	HTTPS bool
}

// BindAddr returns the ip:port the listener binds to.
func (a Address) BindAddr() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// Scheme returns "https" or "http" according to a.HTTPS.
func (a Address) Scheme() string {
	if a.HTTPS {
		return "https"
	}
	return "http"
}

// URL is the base URL the developer opens in a browser.
func (a Address) URL() string {
	return a.Scheme() + "://" + a.Host
}

func (a Address) String() string { return a.Host }

// Resolve validates in and fills in defaults.
func Resolve(in Input) (Address, error) {
	ip := strings.TrimSpace(in.IP)
	if ip == "" {
		ip = DefaultIP
	}
	parsed := net.ParseIP(strings.Trim(ip, "[]"))
	if parsed == nil {
		return Address{}, deverrors.Config(deverrors.CodeInvalidIP, "invalid ip %q", in.IP)
	}
	ip = parsed.String()

	port := DefaultPort
	if raw := strings.TrimSpace(in.Port); raw != "" {
		p, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return Address{}, deverrors.Config(deverrors.CodeInvalidPort, "invalid port %q", in.Port)
		}
		port = int(p)
	}

	addr := Address{IP: ip, Port: port}
	if raw := strings.TrimSpace(in.Host); raw != "" {
		host, https, err := parseHost(raw)
		if err != nil {
			return Address{}, deverrors.Config(deverrors.CodeInvalidHost, "invalid host %q: %v", in.Host, err)
		}
		addr.Host = host
		addr.HTTPS = https
		return addr, nil
	}

	displayIP := ip
	if parsed.IsUnspecified() {
		displayIP = "localhost"
	}
	addr.Host = net.JoinHostPort(displayIP, strconv.Itoa(port))
	return addr, nil
}

func parseHost(raw string) (host string, https bool, err error) {
	rest := raw
	switch {
	case hasPrefixFold(rest, "https://"):
		https = true
		rest = rest[len("https://"):]
	case hasPrefixFold(rest, "http://"):
		rest = rest[len("http://"):]
	case strings.Contains(rest, "://"):
		return "", false, errors.New("scheme must be http or https")
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", false, errors.New("missing host")
	}
	if strings.ContainsAny(rest, " \t\r\n/?#@") {
		return "", false, errors.New("host must not contain a path, query or credentials")
	}
	u, err := url.Parse("http://" + rest)
	if err != nil {
		return "", false, err
	}
	if u.Hostname() == "" {
		return "", false, errors.New("missing host")
	}
	if p := u.Port(); p != "" {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil {
			return "", false, errors.New("invalid port in host")
		}
	}
	return strings.ToLower(u.Host), https, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Listen binds a TCP listener on a.BindAddr(). A port held by another process
// is reported as a config error; no other port is tried.
func Listen(ctx context.Context, a Address) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.BindAddr())
	if err != nil {
		return nil, deverrors.Wrap(deverrors.StageConfig, deverrors.CodeBindFailed, err)
	}
	return ln, nil
}
