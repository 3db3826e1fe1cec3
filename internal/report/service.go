package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tjfontaine/agent-relay-gateway/internal/docx"
	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
)

const (
	// ContentType is the media type of stored reports.
	ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	// DefaultPrefix is the key prefix reports are written under.
	DefaultPrefix = "reports/"

	// maxPreviewSize bounds how much of a report is read for previewing.
	maxPreviewSize = 32 << 20
)

// Status messages returned by CheckReport.
const (
	MessageNoSession    = "no session information"
	MessageNotReady     = "report system is not ready, please retry shortly"
	MessageNotGenerated = "report has not been generated yet"
	MessageGenerated    = "report has been generated"
	MessageFileMissing  = "report was generated but the file could not be found"
)

// Artifact is a report opened for download. Callers must close Body.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// Service answers report lookups from the session store and object store.
type Service struct {
	sessions storage.SessionStore
	objects  ObjectStore
	prefix   string
	logger   *slog.Logger
}

// NewService creates a report service. An empty prefix uses DefaultPrefix.
func NewService(sessions storage.SessionStore, objects ObjectStore, prefix string, logger *slog.Logger) *Service {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		objects:  objects,
		prefix:   prefix,
		logger:   logger,
	}
}

// Key returns the object key of the report for sessionID.
func (s *Service) Key(sessionID string) string {
	return s.prefix + sessionID + ".docx"
}

// DownloadURL is the relative URL a generated report is served from.
func DownloadURL(sessionID string) string {
	return "/get-report/" + sessionID
}

// InitSession creates or resets the session record.
func (s *Service) InitSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.InitSession(ctx, sessionID); err != nil {
		return domain.ErrStorage("failed to initialize session", err)
	}
	return nil
}

// CheckReport reports whether the session's report exists. A missing
// session table is reported as not generated rather than as an error.
func (s *Service) CheckReport(ctx context.Context, sessionID string) (*domain.ReportStatus, error) {
	rec, err := s.sessions.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &domain.ReportStatus{Message: MessageNoSession}, nil
	case errors.Is(err, storage.ErrNotReady):
		s.logger.Warn("session store not provisioned",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return &domain.ReportStatus{Message: MessageNotReady}, nil
	case err != nil:
		return nil, domain.ErrStorage("failed to check report", err).WithDetails(err.Error())
	}

	if !rec.ReportGenerated {
		return &domain.ReportStatus{Message: MessageNotGenerated}, nil
	}

	key := s.Key(sessionID)
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return nil, domain.ErrStorage("failed to check report", err).WithDetails(err.Error())
	}
	if !exists {
		s.logger.Warn("report recorded but object missing",
			slog.String("session_id", sessionID),
			slog.String("key", key),
		)
		return &domain.ReportStatus{ReportGenerated: true, Message: MessageFileMissing}, nil
	}

	url := DownloadURL(sessionID)
	return &domain.ReportStatus{ReportGenerated: true, Message: MessageGenerated, FileURL: &url}, nil
}

// OpenReport opens the stored report for download.
func (s *Service) OpenReport(ctx context.Context, sessionID string) (*Artifact, error) {
	obj, err := s.objects.Open(ctx, s.Key(sessionID))
	if err != nil {
		return nil, domain.ErrStorage("failed to retrieve report", err).WithDetails(err.Error())
	}
	return &Artifact{
		Body:          obj.Body,
		ContentType:   ContentType,
		ContentLength: obj.ContentLength,
		Filename:      fmt.Sprintf("report-%s.docx", sessionID),
	}, nil
}

// Preview renders the stored report as a standalone HTML page.
func (s *Service) Preview(ctx context.Context, sessionID string) ([]byte, error) {
	obj, err := s.objects.Open(ctx, s.Key(sessionID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFoundf("report file not found").WithCause(err)
	}
	if err != nil {
		return nil, domain.ErrStorage("failed to retrieve report", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(io.LimitReader(obj.Body, maxPreviewSize+1))
	if err != nil {
		return nil, domain.ErrStorage("failed to read report", err)
	}
	if len(data) > maxPreviewSize {
		return nil, domain.ErrServer("report is too large to preview")
	}

	fragment, err := docx.ToHTML(data)
	if err != nil {
		return nil, domain.ErrServer("failed to convert report").WithCause(err)
	}

	page, err := RenderPage(fragment)
	if err != nil {
		return nil, domain.ErrServer("failed to render report").WithCause(err)
	}
	return page, nil
}
