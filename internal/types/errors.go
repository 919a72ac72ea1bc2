package types

import "fmt"

// TransportErrorKind classifies remote transport failures
type TransportErrorKind string

const (
	TransportUnreachable TransportErrorKind = "unreachable"
	TransportAuth        TransportErrorKind = "auth"
	TransportTimeout     TransportErrorKind = "timeout"
)

// TransportError is returned by sources and remote executors when a request
// cycle against a host fails at the transport level.
type TransportError struct {
	Kind TransportErrorKind
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %s: %v", e.Kind, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError marks a single malformed record
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// StoreWriteError wraps a failed batch write for one host
type StoreWriteError struct {
	Host string
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write for %s: %v", e.Host, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// ActionDispatchError wraps a failed webhook or remediation dispatch
type ActionDispatchError struct {
	Action ActionKind
	Target string
	Err    error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("%s dispatch to %s: %v", e.Action, e.Target, e.Err)
}

func (e *ActionDispatchError) Unwrap() error { return e.Err }
