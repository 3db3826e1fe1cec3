package report

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage/memory"
)

type fakeObjects struct {
	objects map[string][]byte
	err     error
	keys    []string
}

func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Open(ctx context.Context, key string) (*Object, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &Object{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: int64(len(data))}, nil
}

// notReadyStore behaves like a session store whose table was never created.
type notReadyStore struct{ storage.SessionStore }

func (notReadyStore) GetSession(ctx context.Context, id string) (*domain.ReportRecord, error) {
	return nil, storage.ErrNotReady
}

func newService(t *testing.T, objects *fakeObjects, generated ...string) *Service {
	t.Helper()
	sessions := memory.New(0)
	ctx := context.Background()
	for _, id := range []string{"pending", "ready", "lost"} {
		if err := sessions.InitSession(ctx, id); err != nil {
			t.Fatalf("InitSession() error = %v", err)
		}
	}
	for _, id := range generated {
		if err := sessions.MarkReportGenerated(ctx, id, time.Now()); err != nil {
			t.Fatalf("MarkReportGenerated() error = %v", err)
		}
	}
	return NewService(sessions, objects, "", nil)
}

func TestService_CheckReport(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{"reports/ready.docx": []byte("x")}}
	svc := newService(t, objects, "ready", "lost")

	tests := []struct {
		name      string
		sessionID string
		want      string
	}{
		{"no record", "unknown", `{"reportGenerated":false,"message":"no session information"}`},
		{"not generated", "pending", `{"reportGenerated":false,"message":"report has not been generated yet"}`},
		{"generated", "ready", `{"reportGenerated":true,"message":"report has been generated","fileUrl":"/get-report/ready"}`},
		{"generated but missing", "lost", `{"reportGenerated":true,"message":"report was generated but the file could not be found","fileUrl":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := svc.CheckReport(context.Background(), tt.sessionID)
			if err != nil {
				t.Fatalf("CheckReport() error = %v", err)
			}
			got, _ := json.Marshal(status)
			if string(got) != tt.want {
				t.Errorf("CheckReport() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestService_CheckReportNotReady(t *testing.T) {
	svc := NewService(notReadyStore{}, &fakeObjects{}, "", nil)

	status, err := svc.CheckReport(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CheckReport() error = %v", err)
	}
	if status.ReportGenerated || status.Message != MessageNotReady {
		t.Errorf("status = %+v", status)
	}
}

func TestService_CheckReportStorageError(t *testing.T) {
	objects := &fakeObjects{err: errors.New("access denied")}
	svc := newService(t, objects, "ready")

	_, err := svc.CheckReport(context.Background(), "ready")
	apiErr := domain.AsAPIError(err)
	if apiErr.HTTPStatusCode() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.HTTPStatusCode())
	}
	if apiErr.Details != "access denied" {
		t.Errorf("details = %q", apiErr.Details)
	}
}

func TestService_OpenReport(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{"reports/ready.docx": []byte("docx-bytes")}}
	svc := newService(t, objects)

	art, err := svc.OpenReport(context.Background(), "ready")
	if err != nil {
		t.Fatalf("OpenReport() error = %v", err)
	}
	defer art.Body.Close()

	if art.Filename != "report-ready.docx" {
		t.Errorf("Filename = %q", art.Filename)
	}
	if art.ContentType != ContentType {
		t.Errorf("ContentType = %q", art.ContentType)
	}

	if _, err := svc.OpenReport(context.Background(), "nope"); domain.AsAPIError(err).HTTPStatusCode() != http.StatusInternalServerError {
		t.Errorf("OpenReport(missing) error = %v, want storage error", err)
	}
}

func minimalDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+body+`</w:body></w:document>`)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestService_Preview(t *testing.T) {
	doc := minimalDocx(t, `<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Summary</w:t></w:r></w:p>`)
	objects := &fakeObjects{objects: map[string][]byte{
		"custom/ready.docx":  doc,
		"custom/broken.docx": []byte("not a zip"),
	}}
	svc := NewService(memory.New(0), objects, "custom/", nil)

	page, err := svc.Preview(context.Background(), "ready")
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	html := string(page)
	for _, want := range []string{"<!DOCTYPE html>", `<div class="page">`, "<h2>Summary</h2>", "width: 21cm", "@media print"} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}

	_, err = svc.Preview(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) || domain.AsAPIError(err).HTTPStatusCode() != http.StatusNotFound {
		t.Errorf("Preview(missing) error = %v, want 404", err)
	}

	_, err = svc.Preview(context.Background(), "broken")
	if domain.AsAPIError(err).HTTPStatusCode() != http.StatusInternalServerError {
		t.Errorf("Preview(broken) error = %v, want 500", err)
	}
}

func TestService_Key(t *testing.T) {
	if got := NewService(nil, nil, "", nil).Key("abc"); got != "reports/abc.docx" {
		t.Errorf("Key() = %q", got)
	}
}
