package proxy

import (
	"net/http"
	"strings"
)

const (
	// HeaderPreview carries the preview token to the upstream.
	HeaderPreview = "Cf-Ew-Preview"
	// ReservedPrefix escapes client headers that would collide with headers the
	// proxy manages. The upstream echoes escaped headers back with the same prefix.
	ReservedPrefix = "Cf-Ew-Raw-"
)

var managedRequestHeaders = map[string]struct{}{
	"host":          {},
	"cf-ew-preview": {},
}

// Hop-by-hop headers (RFC 7230 section 6.1). These describe a single
// connection and are never relayed.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"proxy-connection":    {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func isHopByHopHeader(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// isFramingHeader reports whether name describes the length of the body on
// the wire. Only the upstream's own value may be relayed.
func isFramingHeader(name string) bool {
	return strings.EqualFold(name, "Content-Length")
}

// connectionTokens returns the header names listed in Connection, which are
// hop-by-hop for this message only.
func connectionTokens(h http.Header) map[string]struct{} {
	var out map[string]struct{}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok == "" {
				continue
			}
			if out == nil {
				out = make(map[string]struct{})
			}
			out[tok] = struct{}{}
		}
	}
	return out
}

func skipHeader(name string, conn map[string]struct{}) bool {
	if isHopByHopHeader(name) {
		return true
	}
	_, listed := conn[strings.ToLower(name)]
	return listed
}

func isSafeHeaderValue(v string) bool {
	// Prevent header injection / request smuggling.
	return !strings.ContainsAny(v, "\r\n\x00")
}

// collides reports whether a client header must be escaped before it is sent
// upstream. Names that already carry the prefix are escaped again so that
// stripping one prefix on the way back always restores the original.
func collides(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := managedRequestHeaders[lower]; ok {
		return true
	}
	return hasReservedPrefix(name)
}

func hasReservedPrefix(name string) bool {
	return len(name) > len(ReservedPrefix) && strings.EqualFold(name[:len(ReservedPrefix)], ReservedPrefix)
}

// PrefixHeaderName escapes name with the reserved prefix.
func PrefixHeaderName(name string) string {
	return http.CanonicalHeaderKey(ReservedPrefix + name)
}

// StripHeaderName removes one reserved prefix from name. It reports false
// when name does not carry the prefix.
func StripHeaderName(name string) (string, bool) {
	if !hasReservedPrefix(name) {
		return name, false
	}
	return http.CanonicalHeaderKey(name[len(ReservedPrefix):]), true
}

// rewriteRequestHeaders builds the upstream request headers. The upstream Host
// is set on the request itself; clientHost is forwarded escaped so the
// upstream can still see what the browser asked for. A token that is not a
// valid header value is left out and reported through tokenOK.
func rewriteRequestHeaders(in http.Header, clientHost string, token string) (out http.Header, prefixed int, tokenOK bool) {
	out = make(http.Header, len(in)+2)
	conn := connectionTokens(in)
	for k, vv := range in {
		if skipHeader(k, conn) {
			continue
		}
		name := k
		if collides(k) {
			name = PrefixHeaderName(k)
			prefixed++
		}
		out[name] = append(out[name], vv...)
	}
	if clientHost != "" {
		out.Set(PrefixHeaderName("Host"), clientHost)
		prefixed++
	}
	// Keep net/http from adding its own User-Agent.
	if _, ok := out["User-Agent"]; !ok {
		out["User-Agent"] = []string{""}
	}
	if token != "" && isSafeHeaderValue(token) {
		out.Set(HeaderPreview, token)
		tokenOK = true
	}
	return out, prefixed, tokenOK
}

// rewriteResponseHeaders strips the reserved prefix from upstream response
// headers. A restored header replaces an unprefixed one of the same name.
// Restored hop-by-hop and framing names are dropped: the local side frames
// the body it actually relays.
func rewriteResponseHeaders(in http.Header) (out http.Header, restored int) {
	out = make(http.Header, len(in))
	conn := connectionTokens(in)
	for k, vv := range in {
		if skipHeader(k, conn) || hasReservedPrefix(k) {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	for k, vv := range in {
		name, ok := StripHeaderName(k)
		if !ok || isHopByHopHeader(name) || isFramingHeader(name) {
			continue
		}
		out[name] = append([]string(nil), vv...)
		restored++
	}
	return out, restored
}
