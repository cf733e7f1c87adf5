// Package uploaderr classifies the failures of the media upload pipeline.
// Only Transport failures are retryable; every other kind needs operator attention.
package uploaderr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Kind names a class of upload failure.
type Kind string

const (
	// KindTransport covers refused connections, DNS failures and timeouts.
	KindTransport Kind = "TRANSPORT_ERROR"
	// KindCredentialDenied means the backend refused to issue write URLs.
	KindCredentialDenied Kind = "CREDENTIAL_DENIED"
	// KindCommitRejected means the blob store refused the block list.
	KindCommitRejected Kind = "COMMIT_REJECTED"
	// KindFinalizeFailed means no processing job was started.
	KindFinalizeFailed Kind = "FINALIZE_FAILED"
	// KindUnexpectedStatus means the remote side answered outside the protocol.
	KindUnexpectedStatus Kind = "UNEXPECTED_STATUS"
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrTransport        = errors.New("transport error")
	ErrCredentialDenied = errors.New("credential denied")
	ErrCommitRejected   = errors.New("commit rejected")
	ErrFinalizeFailed   = errors.New("finalize failed")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

var sentinels = map[Kind]error{
	KindTransport:        ErrTransport,
	KindCredentialDenied: ErrCredentialDenied,
	KindCommitRejected:   ErrCommitRejected,
	KindFinalizeFailed:   ErrFinalizeFailed,
	KindUnexpectedStatus: ErrUnexpectedStatus,
}

// Error is a classified pipeline failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, sentinels[e.Kind])
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Transport wraps a network level failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Status builds an error for a non-success HTTP answer.
func Status(kind Kind, op string, statusCode int, body string) *Error {
	return &Error{Kind: kind, Op: op, StatusCode: statusCode, Body: body}
}

// New builds an error of the given kind around a cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err may succeed when repeated.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransport
}

// Classify turns a client side request error into a Transport error when it is one.
// Cancellation of the caller's own context is returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTransport(err) {
		return Transport(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransport reports whether err is a connection level failure: a refused or reset
// connection, a DNS failure, or a timeout. Certificate and protocol errors are not.
func IsTransport(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if err == nil || isCertificateError(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var authorityErr x509.UnknownAuthorityError
	var invalidErr x509.CertificateInvalidError
	var hostnameErr x509.HostnameError
	return errors.As(err, &verifyErr) || errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &invalidErr) || errors.As(err, &hostnameErr)
}
