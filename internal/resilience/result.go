package resilience

import (
	"context"
	"errors"
)

// ErrorKind classifies the outcome of one unit of work.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindFatal
	// KindInternal marks failures in our own code or storage, as opposed to
	// a remote source.
	KindInternal
	// KindUnavailable means the call was refused locally because the
	// source's circuit is open. The item itself was never tried.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindInternal:
		return "internal"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Classify maps an error onto an ErrorKind. Cancellation is internal: the
// caller stopped, the source did not fail.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCircuitOpen):
		return KindUnavailable
	case IsFatal(err):
		return KindFatal
	case errors.Is(err, context.Canceled):
		return KindInternal
	case IsTransient(err):
		return KindTransient
	default:
		return KindFatal
	}
}

// Result is the explicit outcome of fetching one item. Batch loops consume
// it instead of inspecting a nil value.
type Result[T any] struct {
	Value T
	Err   error
	Kind  ErrorKind
}

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Err == nil }

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure, classifying it.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err, Kind: Classify(err)}
}

// From builds a Result from a conventional (value, error) pair.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}
