// Package exception defines the errors that cross the connector protocol.
//
// Well-known failures are an *Error tagged with a Kind; each kind has its own
// wire name so the receiving side rebuilds the same *Error. Any other error is
// captured into an Envelope (declared type name, message, cause chain and a
// rendered trace) and rebuilt as a *RemoteError placeholder.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"connector-rpc/objects"
)

// Kind tags a well-known error.
type Kind int

const (
	KindConnector Kind = iota
	KindAlreadyExists
	KindUnknownUID
	KindConfiguration
	KindConnectorIO
	KindConnectionBroken
	KindConnectionFailed
	KindOperationTimeout
	KindSecurity
	KindPermissionDenied
	KindInvalidCredential
	KindInvalidPassword
	KindPasswordExpired
	KindRetryable
)

var kindNames = [...]string{
	KindConnector:         "ConnectorException",
	KindAlreadyExists:     "AlreadyExistsException",
	KindUnknownUID:        "UnknownUidException",
	KindConfiguration:     "ConfigurationException",
	KindConnectorIO:       "ConnectorIOException",
	KindConnectionBroken:  "ConnectionBrokenException",
	KindConnectionFailed:  "ConnectionFailedException",
	KindOperationTimeout:  "OperationTimeoutException",
	KindSecurity:          "ConnectorSecurityException",
	KindPermissionDenied:  "PermissionDeniedException",
	KindInvalidCredential: "InvalidCredentialException",
	KindInvalidPassword:   "InvalidPasswordException",
	KindPasswordExpired:   "PasswordExpiredException",
	KindRetryable:         "RetryableException",
}

var kindParents = map[Kind]Kind{
	KindAlreadyExists:     KindConnector,
	KindUnknownUID:        KindConnector,
	KindConfiguration:     KindConnector,
	KindConnectorIO:       KindConnector,
	KindConnectionBroken:  KindConnectorIO,
	KindConnectionFailed:  KindConnectorIO,
	KindOperationTimeout:  KindConnector,
	KindSecurity:          KindConnector,
	KindPermissionDenied:  KindSecurity,
	KindInvalidCredential: KindSecurity,
	KindInvalidPassword:   KindInvalidCredential,
	KindPasswordExpired:   KindInvalidCredential,
	KindRetryable:         KindConnector,
}

// Kinds lists every well-known kind.
func Kinds() []Kind {
	kinds := make([]Kind, len(kindNames))
	for i := range kindNames {
		kinds[i] = Kind(i)
	}
	return kinds
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Is reports whether k is target or one of its specialisations.
func (k Kind) Is(target Kind) bool {
	for {
		if k == target {
			return true
		}
		parent, ok := kindParents[k]
		if !ok {
			return false
		}
		k = parent
	}
}

// KindByName resolves a wire name to a Kind, ignoring case.
func KindByName(name string) (Kind, bool) {
	for i, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(i), true
		}
	}
	return 0, false
}

// Error is a well-known connector failure.
type Error struct {
	Kind    Kind
	Message string
	// UID is set for kinds that refer to one object: already-exists,
	// unknown-uid, password-expired, and a retryable create that already
	// assigned an identifier.
	UID   *objects.Uid
	Cause error

	stack []uintptr
	trace string
}

// Sentinels for errors.Is. They match any *Error of the same kind or of a
// more specific kind.
var (
	ErrConnector         = &Error{Kind: KindConnector}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrUnknownUID        = &Error{Kind: KindUnknownUID}
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrConnectorIO       = &Error{Kind: KindConnectorIO}
	ErrConnectionBroken  = &Error{Kind: KindConnectionBroken}
	ErrConnectionFailed  = &Error{Kind: KindConnectionFailed}
	ErrOperationTimeout  = &Error{Kind: KindOperationTimeout}
	ErrSecurity          = &Error{Kind: KindSecurity}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrInvalidPassword   = &Error{Kind: KindInvalidPassword}
	ErrPasswordExpired   = &Error{Kind: KindPasswordExpired}
	ErrRetryable         = &Error{Kind: KindRetryable}
)

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, stack: callers()}
}

// Newf is New with a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), stack: callers()}
}

// Wrap returns an *Error of the given kind caused by cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, stack: callers()}
}

// AlreadyExists reports that an object with uid is already present.
func AlreadyExists(uid *objects.Uid) *Error {
	return &Error{Kind: KindAlreadyExists, Message: "object " + uid.String() + " already exists", UID: uid, stack: callers()}
}

// UnknownUID reports that no object with uid exists.
func UnknownUID(uid *objects.Uid) *Error {
	return &Error{Kind: KindUnknownUID, Message: "object " + uid.String() + " does not exist", UID: uid, stack: callers()}
}

// PasswordExpired reports that the password of uid has expired.
func PasswordExpired(uid *objects.Uid) *Error {
	return &Error{Kind: KindPasswordExpired, Message: "password expired", UID: uid, stack: callers()}
}

// Retryable reports a failure the caller may retry. A non-nil uid means a
// create already took effect under that identifier; the caller should follow
// up with an update rather than create again.
func Retryable(msg string, cause error, uid *objects.Uid) *Error {
	return &Error{Kind: KindRetryable, Message: msg, Cause: cause, UID: uid, stack: callers()}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WireTypeName selects the binding for the error's kind.
func (e *Error) WireTypeName() string {
	return e.Kind.String()
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.UID != nil || t.Cause != nil {
		return false
	}
	return e.Kind.Is(t.Kind)
}

// Format prints the trace for %+v: the one carried from the remote side when
// the error was decoded, otherwise the local one.
func (e *Error) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('+'):
		if e.trace != "" {
			fmt.Fprint(f, e.trace)
			return
		}
		fmt.Fprint(f, RenderTrace(e))
	case verb == 'q':
		fmt.Fprintf(f, "%q", e.Error())
	default:
		fmt.Fprint(f, e.Error())
	}
}

// IsKind reports whether any error in err's chain is of kind or a
// specialisation of it. Placeholders match when their declared name is a
// well-known kind.
func IsKind(err error, kind Kind) bool {
	for depth := 0; err != nil && depth < maxDepth; depth++ {
		switch e := err.(type) {
		case *Error:
			if e.Kind.Is(kind) {
				return true
			}
		case *RemoteError:
			if k, ok := KindByName(e.ClassName); ok && k.Is(kind) {
				return true
			}
		}
		err = unwrapOne(err)
	}
	return false
}

// UIDOf returns the Uid carried by the first *Error in err's chain.
func UIDOf(err error) *objects.Uid {
	var e *Error
	if errors.As(err, &e) {
		return e.UID
	}
	return nil
}

func callers() []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
