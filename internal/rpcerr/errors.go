// Package rpcerr defines the error kinds shared across the session, cluster,
// and apply-engine layers so callers can distinguish them with errors.As
// instead of string matching, per the error taxonomy this system uses
// throughout.
package rpcerr

import "fmt"

// Protocol reports a malformed frame, an unknown response cid, or an
// unexpected binary frame with no pending accept_files entry.
type Protocol struct {
	Detail string
}

func (e *Protocol) Error() string { return "protocol error: " + e.Detail }

// Command wraps a peer's [false, cid, message] reply surfaced to the caller
// of remoteCommand.
type Command struct {
	Message string
}

func (e *Command) Error() string { return e.Message }

// Auth reports a missing/invalid certificate, a non-admin uid on the control
// socket, or a duplicate-CN takeover.
type Auth struct {
	Detail string
}

func (e *Auth) Error() string { return "auth error: " + e.Detail }

// PolicyLoad reports a syntax or evaluation error in a policy or tags
// program, carrying the "<file>:<line>: <message>" location the Starlark
// evaluator pins to the logical repository path.
type PolicyLoad struct {
	File    string
	Line    int
	Message string
}

func (e *PolicyLoad) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// Decree reports a failure raised from a decree's detect/update/activate
// phase. It is formatted the same way as PolicyLoad when surfaced upstream.
type Decree struct {
	DecreeName string
	Message    string
}

func (e *Decree) Error() string {
	return fmt.Sprintf("%s: %s", e.DecreeName, e.Message)
}

// Transport reports a connection drop or TLS failure. Handled by tearing
// down the session (controller side) or by the reconnect-with-backoff loop
// (agent side); never retried at the session layer itself.
type Transport struct {
	Detail string
	Err    error
}

func (e *Transport) Error() string {
	if e.Err != nil {
		return "transport error: " + e.Detail + ": " + e.Err.Error()
	}
	return "transport error: " + e.Detail
}

func (e *Transport) Unwrap() error { return e.Err }

// DuplicateInclude is raised when a policy program calls include() twice
// on the same normalized path (require() tolerates this silently).
type DuplicateInclude struct {
	Path string
}

func (e *DuplicateInclude) Error() string {
	return fmt.Sprintf("%s already included", e.Path)
}

// Reused is raised when a decree's _apply is invoked a second time.
type Reused struct {
	DecreeName string
}

func (e *Reused) Error() string {
	return fmt.Sprintf("%s: refused attempt to run twice", e.DecreeName)
}
