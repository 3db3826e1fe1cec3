// Package agent consumes the remote conversational agent's streaming API.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Request is one agent invocation.
type Request struct {
	SessionID string
	// MemoryID keys the agent's long-term memory; the relay uses the session id.
	MemoryID            string
	InputText           string
	EnableTrace         bool
	StreamFinalResponse bool
}

// Event is one sub-event of an agent response stream. Exactly one of Chunk,
// Trace or Err is set.
type Event struct {
	Chunk []byte
	// Trace is the decoded trace document, keyed like the service's JSON
	// wire shape (agentId, sessionId, trace.orchestrationTrace...).
	Trace map[string]any
	Err   error
}

// Client defines the interface for agent backends.
type Client interface {
	// Stream invokes the agent and returns a channel of events.
	// The channel MUST be closed by the client when the stream ends, after
	// delivering an Err event, or when ctx is done.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)
}

// StreamError is a failure reported by the response stream after the
// invocation was accepted. These are the transient protocol hiccups a fresh
// invocation usually gets past.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("agent stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying with a fresh invocation.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var streamErr *StreamError
	return errors.As(err, &streamErr)
}
