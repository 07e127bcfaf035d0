package imap

import (
	"errors"
	"net"
	"strings"
)

var (
	ErrNotConnected = errors.New("imap: not connected")
	ErrShuttingDown = errors.New("imap: shutting down")
)

// AuthenticationError means the server rejected the credentials.
type AuthenticationError struct{ Err error }

func (e *AuthenticationError) Error() string { return "imap authentication failed: " + e.Err.Error() }
func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectivityError covers DNS, dial and timeout failures.
type ConnectivityError struct{ Err error }

func (e *ConnectivityError) Error() string { return "imap connectivity: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// ServerError is an unexpected server-side failure.
type ServerError struct{ Err error }

func (e *ServerError) Error() string { return "imap server error: " + e.Err.Error() }
func (e *ServerError) Unwrap() error { return e.Err }

var authHints = []string{"auth", "logowanie", "password", "hasło", "invalid credentials", "login failed"}

// Classify wraps err in one of the typed errors above. It only informs logs
// and the reconnect policy; callers must not rely on the exact buckets.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		authErr *AuthenticationError
		connErr *ConnectivityError
		srvErr  *ServerError
	)
	if errors.As(err, &authErr) || errors.As(err, &connErr) || errors.As(err, &srvErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "internal server error") || strings.Contains(msg, "bye") {
		return &ServerError{Err: err}
	}
	for _, h := range authHints {
		if strings.Contains(msg, h) {
			return &AuthenticationError{Err: err}
		}
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &netErr) || errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return &ConnectivityError{Err: err}
	}
	for _, h := range []string{"connection refused", "no such host", "timeout", "eof", "reset by peer", "network is unreachable"} {
		if strings.Contains(msg, h) {
			return &ConnectivityError{Err: err}
		}
	}
	return &ServerError{Err: err}
}

func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
