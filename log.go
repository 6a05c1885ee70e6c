package webinar

import (
	"context"
	"io"
	"log/slog"

	sentryslog "github.com/getsentry/sentry-go/slog"
)

// NewLogger builds the service logger: a text handler on w, plus a Sentry
// handler for warnings and errors when Sentry has been initialized.
func NewLogger(w io.Writer, sentryEnabled bool) *slog.Logger {
	text := slog.NewTextHandler(w, nil)
	if !sentryEnabled {
		return slog.New(text)
	}
	sentryHandler := sentryslog.Option{Level: slog.LevelWarn}.NewSentryHandler()
	return slog.New(teeHandler{text, sentryHandler})
}

// teeHandler fans records out to both handlers.
type teeHandler struct {
	a, b slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.a.Enabled(ctx, level) || t.b.Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if t.a.Enabled(ctx, r.Level) {
		err = t.a.Handle(ctx, r.Clone())
	}
	if t.b.Enabled(ctx, r.Level) {
		if berr := t.b.Handle(ctx, r.Clone()); err == nil {
			err = berr
		}
	}
	return err
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t.a.WithAttrs(attrs), t.b.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t.a.WithGroup(name), t.b.WithGroup(name)}
}
