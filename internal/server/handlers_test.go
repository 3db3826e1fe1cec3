package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/report"
)

type fakeRelay struct {
	events []domain.WireEvent
	turns  []domain.ChatTurn
}

func (f *fakeRelay) Stream(ctx context.Context, turn domain.ChatTurn) <-chan domain.WireEvent {
	f.turns = append(f.turns, turn)
	out := make(chan domain.WireEvent, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out
}

type fakeReports struct {
	initErr  error
	status   *domain.ReportStatus
	checkErr error
	artifact *report.Artifact
	openErr  error
	page     []byte
	viewErr  error
	inits    []string
}

func (f *fakeReports) InitSession(ctx context.Context, id string) error {
	f.inits = append(f.inits, id)
	return f.initErr
}

func (f *fakeReports) CheckReport(ctx context.Context, id string) (*domain.ReportStatus, error) {
	return f.status, f.checkErr
}

func (f *fakeReports) OpenReport(ctx context.Context, id string) (*report.Artifact, error) {
	return f.artifact, f.openErr
}

func (f *fakeReports) Preview(ctx context.Context, id string) ([]byte, error) {
	return f.page, f.viewErr
}

func newTestServer(relay Relay, reports Reports) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Options{Port: 0, AllowedOrigins: []string{"*"}}, logger, NewHandler(relay, reports, logger))
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func readEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected stream line %q", line)
		}
		events = append(events, data)
	}
	return events
}

func TestChat_StreamsEvents(t *testing.T) {
	relay := &fakeRelay{events: []domain.WireEvent{
		domain.TraceEvent(map[string]any{"trace": map[string]any{}}),
		domain.ChunkEvent("Hello"),
		domain.FinalEvent("Hello"),
	}}
	s := newTestServer(relay, &fakeReports{})

	rec := serve(s, http.MethodPost, "/chat", `{"message":"hi","sessionId":"s1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	got := readEvents(t, rec.Body.String())
	want := []string{
		`{"trace":{"trace":{}},"done":false}`,
		`{"chunk":"Hello","done":false}`,
		`{"chunk":"","done":true,"fullResponse":"Hello"}`,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("events =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	if len(relay.turns) != 1 || relay.turns[0] != (domain.ChatTurn{SessionID: "s1", InputText: "hi"}) {
		t.Errorf("turns = %+v", relay.turns)
	}
}

func TestChat_ErrorIsInBand(t *testing.T) {
	relay := &fakeRelay{events: []domain.WireEvent{domain.ErrorEvent("transient service error, please retry")}}
	s := newTestServer(relay, &fakeReports{})

	rec := serve(s, http.MethodPost, "/chat", `{"message":"hi","sessionId":"s1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := readEvents(t, rec.Body.String())
	if len(got) != 1 || got[0] != `{"error":"transient service error, please retry"}` {
		t.Errorf("events = %v", got)
	}
}

// stallingRelay sends one chunk and then waits for the request to end.
type stallingRelay struct {
	sent     chan struct{}
	released chan struct{}
}

func (r *stallingRelay) Stream(ctx context.Context, turn domain.ChatTurn) <-chan domain.WireEvent {
	out := make(chan domain.WireEvent)
	go func() {
		defer close(out)
		out <- domain.ChunkEvent("Hello")
		close(r.sent)
		<-ctx.Done()
		close(r.released)
	}()
	return out
}

func TestChat_ClientDisconnect(t *testing.T) {
	relay := &stallingRelay{sent: make(chan struct{}), released: make(chan struct{})}
	s := newTestServer(relay, &fakeReports{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","sessionId":"s1"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Router.ServeHTTP(rec, req)
	}()

	select {
	case <-relay.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("relay never sent a chunk")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler still running after disconnect")
	}
	<-relay.released

	got := readEvents(t, rec.Body.String())
	if len(got) != 1 || got[0] != `{"chunk":"Hello","done":false}` {
		t.Errorf("events = %v, want the single chunk", got)
	}
}

func TestChat_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty message", `{"message":"","sessionId":"s1"}`, `{"error":"message required"}`},
		{"missing body", ``, `{"error":"message required"}`},
		{"malformed", `{"message":`, `{"error":"invalid request body"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &fakeRelay{}
			rec := serve(newTestServer(relay, &fakeReports{}), http.MethodPost, "/chat", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("body = %s, want %s", got, tt.want)
			}
			if len(relay.turns) != 0 {
				t.Error("relay called for invalid request")
			}
		})
	}
}

func TestChat_DefaultSession(t *testing.T) {
	relay := &fakeRelay{events: []domain.WireEvent{domain.FinalEvent("")}}
	serve(newTestServer(relay, &fakeReports{}), http.MethodPost, "/chat", `{"message":"hi"}`)

	if len(relay.turns) != 1 || relay.turns[0].SessionID != DefaultSessionID {
		t.Errorf("turns = %+v, want default session", relay.turns)
	}
}

func TestInitSession(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		reports := &fakeReports{}
		rec := serve(newTestServer(&fakeRelay{}, reports), http.MethodPost, "/init-session", `{"sessionId":"s1"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["status"] != "success" || body["message"] != MessageSessionInitialized {
			t.Errorf("body = %v", body)
		}
		if len(reports.inits) != 1 || reports.inits[0] != "s1" {
			t.Errorf("inits = %v", reports.inits)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		rec := serve(newTestServer(&fakeRelay{}, &fakeReports{}), http.MethodPost, "/init-session", `{}`)
		if rec.Code != http.StatusBadRequest || strings.TrimSpace(rec.Body.String()) != `{"error":"sessionId required"}` {
			t.Errorf("got %d %s", rec.Code, rec.Body)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		reports := &fakeReports{initErr: domain.ErrStorage("failed to initialize session", errors.New("throttled"))}
		rec := serve(newTestServer(&fakeRelay{}, reports), http.MethodPost, "/init-session", `{"sessionId":"s1"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestCheckReport(t *testing.T) {
	url := "/get-report/s1"
	tests := []struct {
		name       string
		reports    *fakeReports
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "generated",
			reports:    &fakeReports{status: &domain.ReportStatus{ReportGenerated: true, Message: report.MessageGenerated, FileURL: &url}},
			body:       `{"sessionId":"s1"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"reportGenerated":true,"message":"report has been generated","fileUrl":"/get-report/s1"}`,
		},
		{
			name:       "missing id",
			reports:    &fakeReports{},
			body:       `{"sessionId":""}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"sessionId required"}`,
		},
		{
			name: "storage error",
			reports: &fakeReports{checkErr: domain.ErrStorage("failed to check report", errors.New("denied")).
				WithDetails("denied")},
			body:       `{"sessionId":"s1"}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"failed to check report","details":"denied"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestServer(&fakeRelay{}, tt.reports), http.MethodPost, "/check-report", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestGetReport(t *testing.T) {
	reports := &fakeReports{artifact: &report.Artifact{
		Body:          io.NopCloser(strings.NewReader("docx-bytes")),
		ContentType:   report.ContentType,
		ContentLength: 10,
		Filename:      "report-s1.docx",
	}}
	rec := serve(newTestServer(&fakeRelay{}, reports), http.MethodGet, "/get-report/s1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="report-s1.docx"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != report.ContentType {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Body.String() != "docx-bytes" {
		t.Errorf("body = %q", rec.Body)
	}

	failing := &fakeReports{openErr: domain.ErrStorage("failed to retrieve report", errors.New("NoSuchKey"))}
	rec = serve(newTestServer(&fakeRelay{}, failing), http.MethodGet, "/get-report/s1", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestPreviewReport(t *testing.T) {
	rec := serve(newTestServer(&fakeRelay{}, &fakeReports{page: []byte("<html>ok</html>")}), http.MethodGet, "/preview-report/s1", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>ok</html>" {
		t.Errorf("got %d %q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	missing := &fakeReports{viewErr: domain.ErrNotFoundf("report file not found")}
	rec = serve(newTestServer(&fakeRelay{}, missing), http.MethodGet, "/preview-report/s1", "")
	if rec.Code != http.StatusNotFound || strings.TrimSpace(rec.Body.String()) != `{"error":"report file not found"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body)
	}
}

func TestHealth(t *testing.T) {
	rec := serve(newTestServer(&fakeRelay{}, &fakeReports{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body)
	}
}
