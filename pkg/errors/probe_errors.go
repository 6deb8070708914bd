package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ProbeErrorKind classifies why an HTTP probe attempt produced no response.
type ProbeErrorKind string

const (
	ProbeErrorTimeout    ProbeErrorKind = "timeout"
	ProbeErrorDNS        ProbeErrorKind = "dns"
	ProbeErrorRefused    ProbeErrorKind = "connection_refused"
	ProbeErrorReset      ProbeErrorKind = "connection_reset"
	ProbeErrorTLS        ProbeErrorKind = "tls"
	ProbeErrorCanceled   ProbeErrorKind = "canceled"
	ProbeErrorTransport  ProbeErrorKind = "transport"
	ProbeErrorBodyTooBig ProbeErrorKind = "body_too_large"
)

// ErrBodyTooLarge is returned when a probe response exceeds the read cap.
var ErrBodyTooLarge = errors.New("response body exceeds probe read limit")

// ClassifyProbeError maps a transport error to a ProbeErrorKind. nil maps to "".
func ClassifyProbeError(err error) ProbeErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrBodyTooLarge) {
		return ProbeErrorBodyTooBig
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ProbeErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ProbeErrorCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ProbeErrorTimeout
		}
		return ProbeErrorDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProbeErrorTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ProbeErrorRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ProbeErrorReset
	}

	if isTLSError(err) {
		return ProbeErrorTLS
	}

	return ProbeErrorTransport
}

// IsProbeTimeout reports whether err is a probe timeout.
func IsProbeTimeout(err error) bool {
	return ClassifyProbeError(err) == ProbeErrorTimeout
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		recordHeader     tls.RecordHeaderError
		certVerify       *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalid),
		errors.As(err, &recordHeader),
		errors.As(err, &certVerify):
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "tls:")
}
