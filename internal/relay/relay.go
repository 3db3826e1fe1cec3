// Package relay runs one conversational turn against the remote agent and
// turns its event stream into client-facing wire events.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/agent-relay-gateway/internal/agent"
	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/trace"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 10 * time.Second

	// TransientErrorMessage is sent in-band once transient failures exhaust
	// every attempt.
	TransientErrorMessage = "transient service error, please retry"
)

// TokenCounter estimates the token count of a response for logging.
type TokenCounter interface {
	Count(text string) int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Relay.
type Option func(*Relay)

// WithMaxRetries sets the number of attempts made on transient errors.
func WithMaxRetries(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithRetryDelay sets the wait between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Relay) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithSleep replaces the retry wait.
func WithSleep(fn SleepFunc) Option {
	return func(r *Relay) { r.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithTokenCounter enables response token logging.
func WithTokenCounter(c TokenCounter) Option {
	return func(r *Relay) { r.tokens = c }
}

// WithClock sets the clock used to timestamp logged traces.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Relay streams agent turns with bounded retry.
type Relay struct {
	client     agent.Client
	maxRetries int
	retryDelay time.Duration
	sleep      SleepFunc
	logger     *slog.Logger
	tokens     TokenCounter
	now        func() time.Time
	tracer     oteltrace.Tracer
}

// New creates a relay for the given agent client.
func New(client agent.Client, opts ...Option) *Relay {
	r := &Relay{
		client:     client,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepContext,
		logger:     slog.Default(),
		now:        time.Now,
		tracer:     otel.Tracer("github.com/tjfontaine/agent-relay-gateway/internal/relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream runs one turn. The returned channel carries chunk and trace events
// followed by exactly one terminal event (final or error), then closes. If
// ctx is cancelled the channel closes without a terminal event.
func (r *Relay) Stream(ctx context.Context, turn domain.ChatTurn) <-chan domain.WireEvent {
	out := make(chan domain.WireEvent)
	go r.run(ctx, turn, out)
	return out
}

func (r *Relay) run(ctx context.Context, turn domain.ChatTurn, out chan<- domain.WireEvent) {
	defer close(out)

	ctx, span := r.tracer.Start(ctx, "relay.turn",
		oteltrace.WithAttributes(attribute.String("session.id", turn.SessionID)))
	defer span.End()

	send := func(ev domain.WireEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	logger := r.logger.With(slog.String("session_id", turn.SessionID))

	attempt := 0
	for attempt < r.maxRetries {
		full, err := r.attempt(ctx, turn, attempt+1, send)
		if err == nil {
			attrs := []any{slog.Int("attempts", attempt+1), slog.Int("response_chars", len(full))}
			if r.tokens != nil {
				attrs = append(attrs, slog.Int("response_tokens", r.tokens.Count(full)))
			}
			logger.Info("relay turn completed", attrs...)
			send(domain.FinalEvent(full))
			return
		}

		if ctx.Err() != nil {
			logger.Info("relay turn abandoned", slog.String("reason", ctx.Err().Error()))
			return
		}

		if !agent.IsTransient(err) {
			logger.Error("relay turn failed", slog.String("error", err.Error()))
			span.SetStatus(codes.Error, err.Error())
			send(domain.ErrorEvent(err.Error()))
			return
		}

		attempt++
		logger.Warn("transient agent stream error",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", r.maxRetries),
			slog.String("error", err.Error()),
		)
		if attempt < r.maxRetries {
			if err := r.sleep(ctx, r.retryDelay); err != nil {
				logger.Info("relay turn abandoned during retry wait")
				return
			}
		}
	}

	logger.Error("relay retries exhausted", slog.Int("attempts", attempt))
	span.SetStatus(codes.Error, "retries exhausted")
	send(domain.ErrorEvent(TransientErrorMessage))
}

// attempt makes one remote call and forwards its events. It returns the
// cleaned full response on normal end of stream.
func (r *Relay) attempt(ctx context.Context, turn domain.ChatTurn, n int, send func(domain.WireEvent) bool) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "relay.attempt", oteltrace.WithAttributes(
		attribute.String("session.id", turn.SessionID),
		attribute.Int("relay.attempt", n),
	))
	defer span.End()

	events, err := r.client.Stream(ctx, &agent.Request{
		SessionID:           turn.SessionID,
		MemoryID:            turn.SessionID,
		InputText:           turn.InputText,
		EnableTrace:         true,
		StreamFinalResponse: true,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var (
		filter  sourceFilter
		full    strings.Builder
		partial []byte
	)
	emit := func(text string) bool {
		if text == "" {
			return true
		}
		full.WriteString(text)
		return send(domain.ChunkEvent(text))
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// A client that went away can close the stream before ctx.Done
				// is observed; that is not a completed turn.
				if err := ctx.Err(); err != nil {
					return "", err
				}
				tail := filter.Write(string(partial)) + filter.Flush()
				if !emit(tail) {
					return "", ctx.Err()
				}
				return CleanSources(full.String()), nil
			}

			switch {
			case ev.Err != nil:
				span.RecordError(ev.Err)
				return "", ev.Err

			case ev.Trace != nil:
				r.logger.Debug("agent trace",
					slog.String("session_id", turn.SessionID),
					slog.String("trace", trace.Format(ev.Trace, r.now())),
				)
				if !send(domain.TraceEvent(ev.Trace)) {
					return "", ctx.Err()
				}

			default:
				var text string
				text, partial = decodeChunk(partial, ev.Chunk)
				if !emit(filter.Write(text)) {
					return "", ctx.Err()
				}
			}
		}
	}
}

// decodeChunk appends b to any bytes held from the previous chunk and
// returns the complete UTF-8 text plus an incomplete trailing sequence.
func decodeChunk(held, b []byte) (string, []byte) {
	buf := append(held, b...)
	cut := len(buf)
	// A rune is at most utf8.UTFMax bytes, so only the tail needs checking.
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if !utf8.FullRune(buf[i:]) {
			cut = i
		}
		break
	}
	rest := append([]byte(nil), buf[cut:]...)
	return string(buf[:cut]), rest
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
