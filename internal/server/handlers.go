package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/report"
)

// DefaultSessionID is used for chat requests that carry no session.
const DefaultSessionID = "default_session"

// MessageSessionInitialized is returned by a successful init-session call.
const MessageSessionInitialized = "session initialized"

const maxRequestBody = 1 << 20

// Relay streams one chat turn as wire events. The channel closes after a
// terminal event, or early when ctx is cancelled.
type Relay interface {
	Stream(ctx context.Context, turn domain.ChatTurn) <-chan domain.WireEvent
}

// Reports answers session and report lookups.
type Reports interface {
	InitSession(ctx context.Context, sessionID string) error
	CheckReport(ctx context.Context, sessionID string) (*domain.ReportStatus, error)
	OpenReport(ctx context.Context, sessionID string) (*report.Artifact, error)
	Preview(ctx context.Context, sessionID string) ([]byte, error)
}

// Handler serves the gateway's HTTP endpoints.
type Handler struct {
	relay   Relay
	reports Reports
	logger  *slog.Logger
}

func NewHandler(relay Relay, reports Reports, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{relay: relay, reports: reports, logger: logger}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Chat relays one turn to the agent and streams the result as server-sent
// events. Once the stream has started every failure is delivered in-band.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Message == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("message required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = DefaultSessionID
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, domain.ErrServer("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.relay.Stream(r.Context(), domain.ChatTurn{
		SessionID: req.SessionID,
		InputText: req.Message,
	})

	var chunks int
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			// Trace documents come from the agent; a value json cannot encode
			// drops that event only.
			h.logger.Warn("failed to encode chat event",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("kind", event.Kind.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away. Cancelling the request context stops the relay.
			AddError(r.Context(), err)
			return
		}
		flusher.Flush()

		switch event.Kind {
		case domain.EventChunk:
			chunks++
		case domain.EventError:
			AddLogField(r.Context(), "error", event.Error)
		}
	}
	AddLogField(r.Context(), "chunks", strconv.Itoa(chunks))
}

// InitSession creates or resets the session's report record.
func (h *Handler) InitSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionFromBody(w, r)
	if !ok {
		return
	}
	if err := h.reports.InitSession(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": MessageSessionInitialized,
	})
}

// CheckReport reports whether the session's report can be downloaded.
func (h *Handler) CheckReport(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionFromBody(w, r)
	if !ok {
		return
	}
	status, err := h.reports.CheckReport(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetReport streams the stored report as an attachment.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	AddLogField(r.Context(), "session_id", sessionID)

	art, err := h.reports.OpenReport(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer art.Body.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	if art.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, art.Body); err != nil {
		// Headers are gone; all that is left is to record the failure.
		AddError(r.Context(), err)
	}
}

// PreviewReport renders the stored report as an HTML page.
func (h *Handler) PreviewReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	AddLogField(r.Context(), "session_id", sessionID)

	page, err := h.reports.Preview(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

// Health reports that the process is serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) sessionFromBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	if req.SessionID == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("sessionId required"))
		return "", false
	}
	AddLogField(r.Context(), "session_id", req.SessionID)
	return req.SessionID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidRequest("invalid request body").WithCause(err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError logs err and writes it as {"error": ...} with the status its
// APIError type maps to.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	status := apiErr.HTTPStatusCode()
	AddError(r.Context(), err)

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, errorBody{Error: apiErr.Message, Details: apiErr.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
