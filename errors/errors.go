// Package errors provides the error type used throughout mindease. It is based
// on `github.com/go-errors/errors` and adds gRPC status codes, which double as
// an error classification, and a public message that is safe to show to end
// users.
//
// Sentinel errors are declared once per package and returned with Mark, so
// that the stack trace points at the caller while errors.Is keeps matching:
//
//	var ErrNotFound = errors.NewC("record not found", codes.NotFound)
//
//	func (s *store) Read(id string) error {
//	    return errors.Mark(ErrNotFound, 0)
//	}
//
// Callers can then branch on the sentinel or the code:
//
//	if errors.Is(err, storage.ErrNotFound) { ... }
//	if errors.Code(err) == codes.PermissionDenied { ... }
package errors

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
)

// The maximum number of stackframes on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace, a status code, and an optional
// message intended for end users.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string

	// Classification of the error.
	code codes.Code

	// Message that is safe to surface to the user.
	publicMessage string
}

// New makes an Error from the given value. If that value is already an
// error then it will be used directly, if not, it will be passed to
// fmt.Errorf("%v"). The stacktrace will point to the line of code that
// called New.
func New(e any) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with a status code defined.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 1)
}

func newError(e any, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(2 + skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value. Existing *Error values are returned
// as is. The skip parameter indicates how far up the stack to start the
// stacktrace. 0 is from the current call, 1 from its caller, etc.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(e, codes.Unknown, 1+skip)
}

// MaybeWrap wraps a non-nil error and returns nil otherwise. It exists so that
// `return errors.MaybeWrap(fn(), 0)` doesn't produce a typed nil.
func MaybeWrap(err error, skip int) error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1+skip)
}

// WrapPrefix makes an Error from the given value and adds a prefix to the
// message returned by Error().
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}

	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = prefix + ": " + err.prefix
	}

	return &Error{
		Err:           err.Err,
		stack:         err.stack,
		code:          err.code,
		publicMessage: err.publicMessage,
		prefix:        prefix,
	}
}

// Mark takes an error and sets the stack trace from the point it was called,
// overriding any previous stack trace that may have been set. The returned
// error still matches the original with errors.Is.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return &Error{
			Err:           err.Err,
			stack:         callers(2 + skip),
			code:          err.code,
			publicMessage: err.publicMessage,
			prefix:        err.prefix,
		}
	}
	return Wrap(e, 1+skip)
}

// Recovered turns a value returned by recover() into an Error whose stack
// starts at the panicking frame. Its TypeName is "panic".
func Recovered(r any) *Error {
	if r == nil {
		return nil
	}
	return &Error{
		Err:   uncaughtPanicError{value: r},
		stack: callers(4),
		code:  codes.Internal,
	}
}

type uncaughtPanicError struct {
	value any
}

func (p uncaughtPanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Errorf creates a new error with the given message. %w verbs are honored.
func Errorf(format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), codes.Unknown, 1)
}

// WithCode takes an error and attaches a status code to it.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithCode(code)
}

// WithPublicMessage takes an error and attaches a user facing message to it.
func WithPublicMessage(err error, publicMessage string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithPublicMessage(publicMessage)
}

// Error returns the underlying error's message.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	return msg
}

// Append returns a copy of the error with extra detail added to the message.
// The copy still matches the original with errors.Is.
func (err *Error) Append(detail string) *Error {
	cp := *err
	cp.Err = &detailError{cause: err.Err, detail: detail}
	return &cp
}

// Is reports whether target is the same sentinel as err, ignoring stack traces
// and prefixes.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	a, b := rootCause(err.Err), rootCause(t.Err)
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}

// Unwrap the error (implements api for As function).
func (err *Error) Unwrap() error {
	return err.Err
}

// Code returns the status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the status code associated with the error.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// PublicMessage returns the message that should be shown to users.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the message that should be shown to users.
func (err *Error) WithPublicMessage(publicMessage string) *Error {
	err.publicMessage = publicMessage
	return err
}

// Stack returns the callstack formatted the same way that go does
// in runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns a string that contains both the error message and the
// callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// StackFrames returns an array of frames containing information about the
// stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// MinimalStack returns a compact, single line rendering of count frames after
// skipping the first skip frames. Useful for structured logs.
func (err *Error) MinimalStack(skip, count int) string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return ""
	}
	frames = frames[skip:]
	if count < len(frames) {
		frames = frames[:count]
	}
	parts := make([]string, 0, len(frames))
	for _, f := range frames {
		parts = append(parts, fmt.Sprintf("%s:%d", f.Func(), f.LineNumber))
	}
	return strings.Join(parts, " < ")
}

// TypeName returns the type this error. e.g. *errors.stringError.
func (err *Error) TypeName() string {
	if _, ok := err.Err.(uncaughtPanicError); ok {
		return "panic"
	}
	return reflect.TypeOf(err.Err).String()
}

// Code returns the status code for an error. If the error is nil, it returns
// codes.OK. Wrapped errors are searched for a code, otherwise codes.Unknown is
// returned.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var ce codedError
	if As(err, &ce) {
		return ce.Code()
	}
	return codes.Unknown
}

// PublicMessage returns the user facing message for an error, falling back to
// fallback when the error doesn't carry one.
func PublicMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var e *Error
	if As(err, &e) && e.publicMessage != "" {
		return e.publicMessage
	}
	return fallback
}

type codedError interface {
	Code() codes.Code
}

type detailError struct {
	cause  error
	detail string
}

func (d *detailError) Error() string {
	return d.cause.Error() + ": " + d.detail
}

func (d *detailError) Unwrap() error {
	return d.cause
}

func rootCause(err error) error {
	for {
		d, ok := err.(*detailError)
		if !ok {
			return err
		}
		err = d.cause
	}
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(1+skip, stack)
	return stack[:length]
}
