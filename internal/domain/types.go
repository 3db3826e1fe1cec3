package domain

import (
	"encoding/json"
)

// ChatTurn is one inbound chat request. It lives for the duration of the
// response stream and is never persisted.
type ChatTurn struct {
	SessionID string
	InputText string
}

// EventKind discriminates the WireEvent union.
type EventKind int

const (
	EventChunk EventKind = iota
	EventTrace
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventTrace:
		return "trace"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// WireEvent is the payload of one server-sent event on the chat stream.
type WireEvent struct {
	Kind         EventKind
	Chunk        string
	Trace        map[string]any
	FullResponse string
	Error        string
}

// ChunkEvent carries cleaned response text.
func ChunkEvent(text string) WireEvent {
	return WireEvent{Kind: EventChunk, Chunk: text}
}

// TraceEvent carries one raw agent trace, unmodified.
func TraceEvent(raw map[string]any) WireEvent {
	return WireEvent{Kind: EventTrace, Trace: raw}
}

// FinalEvent terminates a successful turn.
func FinalEvent(fullResponse string) WireEvent {
	return WireEvent{Kind: EventFinal, FullResponse: fullResponse}
}

// ErrorEvent terminates a failed turn.
func ErrorEvent(message string) WireEvent {
	return WireEvent{Kind: EventError, Error: message}
}

// Terminal reports whether no further events follow e.
func (e WireEvent) Terminal() bool {
	return e.Kind == EventFinal || e.Kind == EventError
}

// MarshalJSON renders the client-facing shape for each kind:
//
//	{"chunk": "...", "done": false}
//	{"trace": {...}, "done": false}
//	{"chunk": "", "done": true, "fullResponse": "..."}
//	{"error": "..."}
func (e WireEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventChunk:
		return json.Marshal(struct {
			Chunk string `json:"chunk"`
			Done  bool   `json:"done"`
		}{Chunk: e.Chunk})
	case EventTrace:
		return json.Marshal(struct {
			Trace map[string]any `json:"trace"`
			Done  bool           `json:"done"`
		}{Trace: e.Trace})
	case EventFinal:
		return json.Marshal(struct {
			Chunk        string `json:"chunk"`
			Done         bool   `json:"done"`
			FullResponse string `json:"fullResponse"`
		}{Done: true, FullResponse: e.FullResponse})
	default:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: e.Error})
	}
}

// ReportRecord is the per-session report status kept in the session store.
// Timestamps are unix seconds; ExpiresAt is the store TTL attribute.
type ReportRecord struct {
	SessionID       string `json:"sessionId"`
	ReportGenerated bool   `json:"reportGenerated"`
	LastReportTime  int64  `json:"lastReportTime"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
	ExpiresAt       int64  `json:"expiresAt,omitempty"`
}

// ReportStatus is the answer to a report check.
type ReportStatus struct {
	ReportGenerated bool
	Message         string
	// FileURL is nil when the report is not downloadable.
	FileURL *string
}

// MarshalJSON omits fileUrl while no report was generated and renders it as
// null when a report was recorded but its file is missing.
func (s ReportStatus) MarshalJSON() ([]byte, error) {
	if !s.ReportGenerated {
		return json.Marshal(struct {
			ReportGenerated bool   `json:"reportGenerated"`
			Message         string `json:"message"`
		}{s.ReportGenerated, s.Message})
	}
	return json.Marshal(struct {
		ReportGenerated bool    `json:"reportGenerated"`
		Message         string  `json:"message"`
		FileURL         *string `json:"fileUrl"`
	}{s.ReportGenerated, s.Message, s.FileURL})
}
