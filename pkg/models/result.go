package models

// Result is the outcome of a call to an external port. A thrown failure and a
// structured error payload are represented the same way: OK=false with an
// ErrorMessage.
type Result[T any] struct {
	OK           bool
	Value        T
	ErrorMessage string
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{OK: true, Value: v}
}

// Fail wraps a failure description.
func Fail[T any](msg string) Result[T] {
	if msg == "" {
		msg = "unknown error"
	}
	return Result[T]{ErrorMessage: msg}
}
