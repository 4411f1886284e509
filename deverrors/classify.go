package deverrors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
)

// ClassifyUpstreamCode maps an upstream round-trip error to a stable Code.
func ClassifyUpstreamCode(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case isTLSError(err):
		return CodeTLSFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeDialFailed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDialFailed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return CodeRequestFailed
}

// ClassifyBridgeDialCode maps an inspector dial error to a stable Code.
func ClassifyBridgeDialCode(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case isTLSError(err):
		return CodeTLSFailed
	default:
		return CodeDialFailed
	}
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var hostErr x509.HostnameError
	return errors.As(err, &hostErr)
}
