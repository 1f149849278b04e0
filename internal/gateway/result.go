package gateway

import "github.com/roach88/perpetua/internal/model"

// Result is the outcome of a remote call: either a value or a typed error,
// never both. Expected remote failures are always reported here rather
// than by panicking or through a bare error.
type Result[T any] struct {
	Value T
	Err   *model.Error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a typed error.
func Fail[T any](err *model.Error) Result[T] {
	return Result[T]{Err: err}
}

// IsOk reports success.
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// Error returns the failure as an error, or nil on success.
func (r Result[T]) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Kind returns the failure kind, or "" on success.
func (r Result[T]) Kind() model.Kind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
