package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/drblury/logtower/internal/runtime/diagnostics"
)

// SlogHandlerOptions configures a SlogHandler.
type SlogHandlerOptions struct {
	// Level is the minimum level shipped. Defaults to slog.LevelInfo.
	Level slog.Leveler
	// SourceKey names the attribute that carries the record source, which
	// feeds the {logger_name} placeholder. Defaults to "logger".
	SourceKey string
	// DefaultSource is used when a record has no source attribute.
	// Defaults to "slog".
	DefaultSource string
	// JSON renders records with slog.JSONHandler instead of
	// slog.TextHandler.
	JSON bool
}

// SlogHandler is a slog.Handler that ships every record through a Handler.
type SlogHandler struct {
	target *Handler
	opts   SlogHandlerOptions

	// source is a SourceKey attribute bound with WithAttrs.
	source string
	// chain replays WithAttrs and WithGroup onto the renderer of each record.
	chain []func(slog.Handler) slog.Handler
	group bool
}

var _ slog.Handler = (*SlogHandler)(nil)

// NewSlogHandler returns a slog.Handler writing to h.
func NewSlogHandler(h *Handler, opts *SlogHandlerOptions) *SlogHandler {
	var o SlogHandlerOptions
	if opts != nil {
		o = *opts
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	if o.SourceKey == "" {
		o.SourceKey = "logger"
	}
	if o.DefaultSource == "" {
		o.DefaultSource = "slog"
	}
	return &SlogHandler{target: h, opts: o}
}

func (s *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.opts.Level.Level()
}

// Handle renders r without its time, which travels as the event timestamp,
// and emits it. Records logged by the handler's own diagnostics are skipped
// so a logger routed back into the handler cannot feed on itself.
func (s *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	source := s.source
	diagnostic := false
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case s.opts.SourceKey:
			if !s.group {
				source = a.Value.String()
			}
		case diagnostics.FieldKind:
			diagnostic = true
		}
		return true
	})
	if diagnostic {
		return nil
	}
	if source == "" {
		source = s.opts.DefaultSource
	}

	var buf bytes.Buffer
	renderer := s.renderer(&buf)
	if err := renderer.Handle(ctx, r); err != nil {
		return err
	}

	err := s.target.Emit(Record{
		Time:    r.Time,
		Source:  source,
		Message: strings.TrimSuffix(buf.String(), "\n"),
	})
	if IsDropped(err) {
		return nil
	}
	return err
}

func (s *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	next := s.clone()
	if !s.group {
		for _, a := range attrs {
			if a.Key == s.opts.SourceKey {
				next.source = a.Value.String()
			}
		}
	}
	next.chain = append(next.chain, func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
	return next
}

func (s *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	next := s.clone()
	next.group = true
	next.chain = append(next.chain, func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
	return next
}

func (s *SlogHandler) clone() *SlogHandler {
	next := *s
	next.chain = append([]func(slog.Handler) slog.Handler(nil), s.chain...)
	return &next
}

func (s *SlogHandler) renderer(buf *bytes.Buffer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}
	var h slog.Handler
	if s.opts.JSON {
		h = slog.NewJSONHandler(buf, opts)
	} else {
		h = slog.NewTextHandler(buf, opts)
	}
	for _, wrap := range s.chain {
		h = wrap(h)
	}
	return h
}
