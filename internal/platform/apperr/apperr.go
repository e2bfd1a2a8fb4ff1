// Package apperr defines the arbiter's error taxonomy: NotFound, Transient,
// Permanent, Integrity, and Config. Every error raised by market/store calls
// is classified into one of these so the scheduler's retry and abort policy
// can key off errors.Is instead of string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel classes. Wrap a cause with Wrap(class, cause) and test with
// errors.Is(err, apperr.NotFound) etc.
var (
	NotFound  = errors.New("not found")
	Transient = errors.New("transient error")
	Permanent = errors.New("permanent error")
	Integrity = errors.New("integrity violation")
	Config    = errors.New("config error")
)

// classified wraps a cause under one of the sentinel classes while keeping
// the cause reachable via errors.Unwrap/errors.Is.
type classified struct {
	class error
	cause error
}

func (c *classified) Error() string {
	if c.cause == nil {
		return c.class.Error()
	}
	return fmt.Sprintf("%s: %v", c.class.Error(), c.cause)
}

func (c *classified) Unwrap() []error { return []error{c.class, c.cause} }

// Wrap attaches class to cause. class must be one of the sentinels above.
func Wrap(class, cause error) error {
	if cause == nil {
		return class
	}
	return &classified{class: class, cause: cause}
}

// ClassifyHTTP maps a market-gateway HTTP status code to a taxonomy class,
// per spec §7: 404 is NotFound, >=500 is Transient, other >=400 is Permanent.
func ClassifyHTTP(status int) error {
	switch {
	case status == 404:
		return NotFound
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return nil
	}
}

// IsTransient reports whether err should be retried with backoff rather than
// treated as final.
func IsTransient(err error) bool {
	return errors.Is(err, Transient)
}

// IsNotFound reports whether err is the terminal-but-benign 404 class.
func IsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}

// IsPermanent reports whether err should immediately flip the phase flag
// (or abort the bounty) without retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, Permanent)
}

// IsIntegrity reports whether err is a unique-constraint violation that
// should be treated as an idempotent no-op (duplicate bounty insert).
func IsIntegrity(err error) bool {
	return errors.Is(err, Integrity)
}

// ClassName returns the taxonomy label for err, for use in metrics and logs.
// It reports "unknown" for an unclassified non-nil error.
func ClassName(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "notfound"
	case IsTransient(err):
		return "transient"
	case IsPermanent(err):
		return "permanent"
	case IsIntegrity(err):
		return "integrity"
	case errors.Is(err, Config):
		return "config"
	default:
		return "unknown"
	}
}
