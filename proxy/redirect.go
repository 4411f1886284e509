package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/floegence/previewdev/deverrors"
)

func isRedirect(status int) bool {
	return status >= http.StatusMultipleChoices && status < http.StatusBadRequest
}

// RewriteLocation points a redirect that targets the upstream back at the
// local listener. Only absolute http(s) URLs whose hostname equals
// upstreamHost are rewritten: the host becomes localHost and the scheme
// follows https. Path, query and fragment are kept as sent.
//
// Any other value is returned unchanged. A value that does not parse also
// yields a rewrite-stage error; callers relay the original in that case.
func RewriteLocation(location, upstreamHost, localHost string, https bool) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return location, deverrors.Wrap(deverrors.StageRewrite, deverrors.CodeInvalidLocation, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return location, nil
	}
	if u.Host == "" || !strings.EqualFold(u.Hostname(), upstreamHost) {
		return location, nil
	}
	u.Host = localHost
	if https {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	return u.String(), nil
}
