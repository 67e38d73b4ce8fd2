package exception

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// maxDepth bounds how many causes are followed in one chain. It stays below
// the wire decoder's nesting limit so a captured chain always decodes.
const maxDepth = 256

// Envelope is the plain representation of an error chain that crosses a
// process boundary. Trace is only set on the outermost envelope.
type Envelope struct {
	ClassName string
	Message   string
	Cause     *Envelope
	Trace     string
}

// Depth returns the number of envelopes in the chain.
func (e *Envelope) Depth() int {
	n := 0
	for ; e != nil; e = e.Cause {
		n++
	}
	return n
}

// Capture walks err's cause chain into an Envelope. A *RemoteError keeps the
// trace it arrived with. Causes past the 256th are dropped.
func Capture(err error) *Envelope {
	if err == nil {
		return nil
	}
	env := capture(err, 0)
	if r, ok := err.(*RemoteError); ok {
		env.Trace = r.Trace
	} else {
		env.Trace = RenderTrace(err)
	}
	return env
}

func capture(err error, depth int) *Envelope {
	env := &Envelope{ClassName: ClassNameOf(err), Message: messageOf(err)}
	if depth+1 < maxDepth {
		if cause := unwrapOne(err); cause != nil {
			env.Cause = capture(cause, depth+1)
		}
	}
	return env
}

// Reconstruct rebuilds the envelope chain as placeholder errors.
func (e *Envelope) Reconstruct() error {
	if e == nil {
		return nil
	}
	r := &RemoteError{ClassName: e.ClassName, Message: e.Message, Trace: e.Trace}
	if e.Cause != nil {
		r.Cause = e.Cause.Reconstruct()
	}
	return r
}

// RemoteError stands in for an error raised on the far side whose type is not
// known locally. Kind checks compare the declared name, not Go types.
type RemoteError struct {
	ClassName string
	Message   string
	Trace     string
	Cause     error
}

func (r *RemoteError) Error() string {
	if r.Message == "" {
		return r.ClassName
	}
	return r.Message
}

func (r *RemoteError) Unwrap() error {
	return r.Cause
}

// InstanceOf reports whether the declared name is name, ignoring case.
func (r *RemoteError) InstanceOf(name string) bool {
	return strings.EqualFold(r.ClassName, name)
}

// Is matches targets that carry a declared name: *Error kinds, other
// placeholders and errors with a ClassName method.
func (r *RemoteError) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return r.InstanceOf(t.Kind.String())
	case *RemoteError:
		return r.InstanceOf(t.ClassName)
	case interface{ ClassName() string }:
		return r.InstanceOf(t.ClassName())
	}
	return false
}

// Format prints the carried remote trace for %+v.
func (r *RemoteError) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('+'):
		if r.Trace != "" {
			fmt.Fprint(f, r.Trace)
			return
		}
		fmt.Fprintf(f, "%s: %s", r.ClassName, r.Message)
	case verb == 'q':
		fmt.Fprintf(f, "%q", r.Error())
	default:
		fmt.Fprint(f, r.Error())
	}
}

// ClassNameOf returns the name an error is declared as on the wire.
func ClassNameOf(err error) string {
	switch e := err.(type) {
	case *Error:
		return e.Kind.String()
	case *RemoteError:
		return e.ClassName
	case interface{ ClassName() string }:
		return e.ClassName()
	}
	return reflect.TypeOf(err).String()
}

func messageOf(err error) string {
	switch e := err.(type) {
	case *Error:
		return e.Message
	case *RemoteError:
		return e.Message
	}
	return err.Error()
}

// unwrapOne follows a single cause link. Joined errors continue with their
// first member.
func unwrapOne(err error) error {
	if cause := errors.Unwrap(err); cause != nil {
		return cause
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}

// RenderTrace renders err and its causes with the frames recorded where each
// *Error was created, in the layout remote peers print.
func RenderTrace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil && depth < maxDepth; depth++ {
		if depth > 0 {
			b.WriteString("Caused by: ")
		}
		b.WriteString(ClassNameOf(err))
		if msg := messageOf(err); msg != "" {
			b.WriteString(": ")
			b.WriteString(msg)
		}
		b.WriteByte('\n')
		if e, ok := err.(*Error); ok {
			writeFrames(&b, e.stack)
		}
		err = unwrapOne(err)
	}
	return b.String()
}

func writeFrames(b *strings.Builder, pcs []uintptr) {
	if len(pcs) == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(b, "\tat %s(%s:%d)\n", frame.Function, frame.File, frame.Line)
		if !more {
			return
		}
	}
}
