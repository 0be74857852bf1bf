// Package wgerr defines the typed error taxonomy shared by every
// component: input errors, invariant errors, remote errors, and
// recoverable warnings, per the error handling design.
package wgerr

import "fmt"

// Kind tags an Error with its taxonomy bucket so callers can branch on
// category without string-matching messages.
type Kind string

const (
	KindInput      Kind = "input"
	KindInvariant  Kind = "invariant"
	KindRemote     Kind = "remote"
	KindRecoverable Kind = "recoverable"
)

// Error is the machine-taggable error type used throughout the module.
// Tag is the stable machine identifier named in spec.md (e.g.
// "MalformedKey", "AddressSpaceExhausted"); Kind places it in one of
// the four buckets from the error handling design.
type Error struct {
	Tag     string
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Tag
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is supports errors.Is against the sentinel values below: two *Error
// values are equal for errors.Is purposes when their Tag matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Tag == t.Tag
}

func New(kind Kind, tag, message string) *Error {
	return &Error{Kind: kind, Tag: tag, Message: message}
}

func Wrap(kind Kind, tag, message string, err error) *Error {
	return &Error{Kind: kind, Tag: tag, Message: message, Wrapped: err}
}

// Sentinels named directly from spec.md §7's taxonomy. Callers compare
// with errors.Is(err, wgerr.ErrMalformedKey) etc; concrete instances
// returned by the code carry their own Message/Wrapped detail but share
// the Tag so Is() matches.
var (
	ErrMalformedConfig       = &Error{Kind: KindInput, Tag: "MalformedConfig"}
	ErrMalformedKey          = &Error{Kind: KindInput, Tag: "MalformedKey"}
	ErrMalformedSection      = &Error{Kind: KindInput, Tag: "MalformedSection"}
	ErrDuplicateField        = &Error{Kind: KindInput, Tag: "DuplicateField"}
	ErrUnknownAccessLevel    = &Error{Kind: KindInput, Tag: "UnknownAccessLevel"}
	ErrAddressFamilyMismatch = &Error{Kind: KindInput, Tag: "AddressFamilyMismatch"}

	ErrKeyConsistency        = &Error{Kind: KindInvariant, Tag: "KeyConsistencyError"}
	ErrDuplicateIdentity     = &Error{Kind: KindInvariant, Tag: "DuplicateIdentity"}
	ErrAddressSpaceExhausted = &Error{Kind: KindInvariant, Tag: "AddressSpaceExhausted"}
	ErrOrphanedReference     = &Error{Kind: KindInvariant, Tag: "OrphanedReference"}

	ErrSSHAuthFailure    = &Error{Kind: KindRemote, Tag: "SshAuthFailure"}
	ErrSSHTransport      = &Error{Kind: KindRemote, Tag: "SshTransport"}
	ErrRemoteCommandFail = &Error{Kind: KindRemote, Tag: "RemoteCommandFailed"}

	WarnUnknownField        = &Error{Kind: KindRecoverable, Tag: "UnknownField"}
	WarnUnrecognizedPattern = &Error{Kind: KindRecoverable, Tag: "UnrecognizedPattern"}
	WarnBackupMissing       = &Error{Kind: KindRecoverable, Tag: "BackupMissing"}
	WarnForwardingDisabled  = &Error{Kind: KindRecoverable, Tag: "ForwardingDisabled"}
)

// Warning is a recoverable issue collected during a parse or
// orchestration step. It is never returned as the operation's error —
// it is aggregated into the operation's result per §7's propagation
// policy ("the parser and orchestrator recover locally from warnings
// and aggregate them into the operation result").
type Warning struct {
	Tag     string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Tag, w.Message)
}
