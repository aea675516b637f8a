package xerror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// xerror carries the wrapped error and the file/line of every Wrap call site,
// innermost last.
type xerror struct {
	err        error
	stacktrace []string
}

func (e xerror) Error() string {
	return fmt.Sprintf("%s\n%s", e.err, strings.Join(e.stacktrace, "\n"))
}

func (e xerror) Unwrap() error {
	return e.err
}

func New(message string) error {
	return xerror{
		err:        errors.New(message),
		stacktrace: []string{caller(2)},
	}
}

// Errorf formats like fmt.Errorf (so %w keeps the chain) and records the caller.
func Errorf(format string, args ...any) error {
	return xerror{
		err:        fmt.Errorf(format, args...),
		stacktrace: []string{caller(2)},
	}
}

func Wrap(err error) error {
	return WrapWithCaller(err, 3)
}

func WrapWithCaller(err error, skip int) error {
	if err == nil {
		return nil
	}

	if xe, ok := err.(xerror); ok {
		xe.stacktrace = append([]string{caller(skip)}, xe.stacktrace...)
		return xe
	}

	return xerror{
		err:        err,
		stacktrace: []string{caller(skip)},
	}
}

// Cause returns the error without any stack annotation.
func Cause(err error) error {
	if xe, ok := err.(xerror); ok {
		return xe.err
	}
	return err
}

func caller(skip int) string {
	_, file, line, _ := runtime.Caller(skip)
	return fmt.Sprintf("%s %d", file, line)
}
