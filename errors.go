package authgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown identity and
	// for a wrong secret alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExpiredToken is returned when an access token is outside its validity window.
	ErrExpiredToken = errors.New("token expired")
	// ErrBadSignature is returned for a MAC mismatch or an unexpected algorithm.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrMalformed is returned for undecodable tokens and for tokens of the wrong kind.
	ErrMalformed = errors.New("token malformed")
	// ErrTokenRevoked is returned in strict mode for denylisted access tokens.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrReplayDetected is returned when a superseded refresh token is
	// presented. The session family is revoked before the error is returned.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrUnknownSession is returned when the refresh token's family does not exist.
	ErrUnknownSession = errors.New("unknown session")
	// ErrExpiredRefresh is returned when a refresh token or its family has expired.
	ErrExpiredRefresh = errors.New("refresh token expired")
	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when a shared store cannot be reached and
	// the operation fails closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrGateNotReady is returned by a zero or closed Gate.
	ErrGateNotReady = errors.New("gate not ready")
)

// RateLimitedError reports a rejected call together with its retry hint.
type RateLimitedError struct {
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Scope, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for every *RateLimitedError.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

const (
	// MessageUnauthenticated is the single public message for every
	// authentication failure.
	MessageUnauthenticated = "could not validate credentials"
	// MessageRateLimited is the public message for rejected calls.
	MessageRateLimited = "too many requests"
	// MessageUnavailable is the public message for fail-closed store outages.
	MessageUnavailable = "service temporarily unavailable"
	// MessageInternal is used for anything else.
	MessageInternal = "internal error"
)

// PublicMessage maps err to the message a caller may see. Authentication
// failures share one message so responses do not reveal which check failed.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthFailure(err):
		return MessageUnauthenticated
	case errors.Is(err, ErrRateLimited):
		return MessageRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return MessageUnavailable
	default:
		return MessageInternal
	}
}

// IsAuthFailure reports whether err is one of the authentication failures.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrExpiredRefresh)
}
