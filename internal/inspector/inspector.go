// Package inspector provides the low-level instrumentation channel to a
// browser target: attach, detach, command/response, and event delivery.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one asynchronous notification emitted by an attached target.
type Event struct {
	Method string
	Params json.RawMessage
}

// TargetInfo describes a debuggable target as listed by the inspector
// endpoint.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Link is a live instrumentation channel to a single target.
//
// Detach is idempotent and never fails observably. Events is closed when the
// link goes away, whether by Detach or by the remote side disconnecting.
type Link interface {
	Info() TargetInfo
	Command(ctx context.Context, method string, params any) (json.RawMessage, error)
	Events() <-chan Event
	Detach()
}

// Dialer attaches links to targets by identifier.
type Dialer interface {
	Attach(ctx context.Context, targetID string) (Link, error)
}

// ErrDetached is returned by Command once the link is gone.
var ErrDetached = errors.New("inspector: link detached")

// ErrTargetNotFound is returned by Attach when the endpoint does not list
// the requested target.
var ErrTargetNotFound = errors.New("inspector: target not found")

// CommandError carries a protocol-level command failure.
type CommandError struct {
	Method  string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("inspector: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}
