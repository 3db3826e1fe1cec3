// Package trace renders agent trace events as human-readable log blocks.
//
// A trace event is the decoded JSON document the agent service emits for one
// reasoning step, shaped like
//
//	{"agentId": "...", "sessionId": "...", "trace": {"orchestrationTrace": {...}}}
//
// Only the orchestration sub-object is classified. Everything here is pure;
// the relay logs the result and forwards the raw event to the client.
package trace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind classifies one orchestration step.
type Kind string

const (
	KindInput       Kind = "Input"
	KindOutput      Kind = "Output"
	KindRationale   Kind = "Rationale"
	KindObservation Kind = "Observation"
	KindUnknown     Kind = "Unknown"
)

const timestampLayout = "2006-01-02 15:04:05"

// FormattedTrace is the normalized view of one trace event.
type FormattedTrace struct {
	Timestamp time.Time
	Kind      Kind
	TraceID   string
	Body      string
}

// String renders the fixed multi-line log template.
func (f FormattedTrace) String() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 80))
	b.WriteString("\n")
	fmt.Fprintf(&b, "[%s] Trace Event - Type: %s\n", f.Timestamp.Format(timestampLayout), f.Kind)
	fmt.Fprintf(&b, "TraceId: %s\n", f.TraceID)
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")
	b.WriteString(f.Body)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 80))
	b.WriteString("\n")
	return b.String()
}

// Format normalizes event and renders it. It never fails: a structurally
// malformed event is rendered as its stringified raw form instead.
func Format(event map[string]any, now time.Time) string {
	ft, err := Normalize(event, now)
	if err != nil {
		return Stringify(event)
	}
	return ft.String()
}

// Stringify renders a raw event for logging.
func Stringify(event map[string]any) string {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Sprint(event)
	}
	return string(data)
}

// Normalize classifies event. Categories are tried in a fixed priority order
// (Input, Output, Rationale, Observation) and the first present wins; an
// event matching none is Unknown. An error is returned only when the event
// has the right keys with the wrong shapes.
func Normalize(event map[string]any, now time.Time) (FormattedTrace, error) {
	ft := FormattedTrace{Timestamp: now, Kind: KindUnknown}

	orchestration, err := orchestrationTrace(event)
	if err != nil {
		return ft, err
	}

	switch {
	case has(orchestration, "modelInvocationInput"):
		ft.Kind = KindInput
		sub, err := object(orchestration, "modelInvocationInput")
		if err != nil {
			return ft, err
		}
		ft.TraceID = str(sub["traceId"])
		ft.Body, err = inputBody(sub)
		if err != nil {
			return ft, err
		}

	case has(orchestration, "modelInvocationOutput"):
		ft.Kind = KindOutput
		sub, err := object(orchestration, "modelInvocationOutput")
		if err != nil {
			return ft, err
		}
		ft.TraceID = str(sub["traceId"])
		ft.Body = outputBody(sub)

	case has(orchestration, "rationale"):
		ft.Kind = KindRationale
		sub, err := object(orchestration, "rationale")
		if err != nil {
			return ft, err
		}
		ft.TraceID = str(sub["traceId"])
		ft.Body = str(sub["text"])

	case has(orchestration, "observation"):
		ft.Kind = KindObservation
		sub, err := object(orchestration, "observation")
		if err != nil {
			return ft, err
		}
		ft.TraceID = str(sub["traceId"])
		ft.Body = observationBody(sub)
	}

	return ft, nil
}

// orchestrationTrace digs out event.trace.orchestrationTrace. Missing levels
// yield an empty object.
func orchestrationTrace(event map[string]any) (map[string]any, error) {
	if event == nil {
		return map[string]any{}, nil
	}
	outer, err := optionalObject(event, "trace")
	if err != nil {
		return nil, err
	}
	return optionalObject(outer, "orchestrationTrace")
}

func inputBody(sub map[string]any) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Input: %s\n", str(sub["text"]))

	raw, ok := sub["messages"]
	if !ok || raw == nil {
		return b.String(), nil
	}
	messages, ok := raw.([]any)
	if !ok {
		return "", fmt.Errorf("messages: expected list, got %T", raw)
	}

	lines := make([]string, 0, len(messages))
	for i, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			return "", fmt.Errorf("messages[%d]: expected object, got %T", i, m)
		}
		role, hasRole := msg["role"]
		content, hasContent := msg["content"]
		if !hasRole || !hasContent {
			return "", fmt.Errorf("messages[%d]: role and content required", i)
		}
		lines = append(lines, fmt.Sprintf("- %v: %v", role, content))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String(), nil
}

// outputBody extracts the model's text from the raw response payload. The
// payload is JSON text; when it does not parse it is used verbatim. When
// several text entries exist the last one wins, matching existing trace logs.
func outputBody(sub map[string]any) string {
	var body string

	if rawResponse, ok := sub["rawResponse"].(map[string]any); ok {
		content := str(rawResponse["content"])

		var payload any
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			body = content
		} else {
			switch p := payload.(type) {
			case map[string]any:
				if items, ok := p["content"].([]any); ok {
					for _, item := range items {
						entry, ok := item.(map[string]any)
						if !ok {
							continue
						}
						if entry["type"] == "text" {
							body = str(entry["text"])
						}
					}
				}
			case string:
				body = p
			}
		}
	}

	if metadata, ok := sub["metadata"].(map[string]any); ok {
		if usage, ok := metadata["usage"].(map[string]any); ok {
			body += "\n\nToken Usage:\n"
			body += fmt.Sprintf("- Input Tokens: %d\n", count(usage["inputTokens"]))
			body += fmt.Sprintf("- Output Tokens: %d", count(usage["outputTokens"]))
		}
	}

	return body
}

func observationBody(sub map[string]any) string {
	if final, ok := sub["finalResponse"].(map[string]any); ok {
		return str(final["text"])
	}
	if output, ok := sub["actionGroupInvocationOutput"].(map[string]any); ok {
		return str(output["text"])
	}
	return ""
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func object(m map[string]any, key string) (map[string]any, error) {
	switch v := m[key].(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("%s: expected object, got %T", key, v)
	}
}

func optionalObject(m map[string]any, key string) (map[string]any, error) {
	if _, ok := m[key]; !ok {
		return map[string]any{}, nil
	}
	return object(m, key)
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// count reads a token count from either a decoded JSON number or a native
// integer; anything else counts as 0.
func count(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
