// Package prettylog is a colorized slog handler for development use.
// Production deployments use slog.NewJSONHandler instead.
package prettylog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const timeFormat = "15:04:05.000"

const (
	reset = "\033[0m"

	red      = 31
	yellow   = 33
	cyan     = 36
	darkGray = 90
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%dm%s%s", colorCode, v, reset)
}

type handler struct {
	level slog.Level
	attrs []slog.Attr

	mux *sync.Mutex
	out io.Writer
}

// NewHandler writes colorized records to stderr at the given minimum
// level.
func NewHandler(level slog.Level) slog.Handler {
	return &handler{
		level: level,
		mux:   &sync.Mutex{},
		out:   os.Stderr,
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(red, level)
	}

	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	var buf bytes.Buffer
	buf.WriteString(colorize(darkGray, r.Time.Format(timeFormat)))
	buf.WriteString(" ")
	buf.WriteString(level)
	buf.WriteString(" ")
	buf.WriteString(colorize(white, r.Message))
	if len(attrs) > 0 {
		buf.WriteString(" ")
		buf.WriteString(colorize(darkGray, attrsToJSON(attrs)))
	}
	buf.WriteString("\n")

	h.mux.Lock()
	defer h.mux.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func attrValue(v slog.Value) any {
	resolved := v.Resolve().Any()
	switch typed := resolved.(type) {
	case error:
		return typed.Error()
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func attrsToJSON(attrs map[string]any) string {
	asJSON, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJSON)
}
