// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const termTimeFormat = "01-02|15:04:05.000"
const errorKey = "LOG_ERROR"

// terminalHandler renders records in the familiar
// "LEVEL [date|time] message key=value" format used by the teacher's CLI
// tools, optionally colorized for an interactive terminal.
type terminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	level    slog.Level
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandler returns a handler writing human-readable, colorized (if
// useColor) log lines to wr, at the default Trace verbosity.
func NewTerminalHandler(wr io.Writer, useColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(wr, LevelTrace, useColor)
}

// NewTerminalHandlerWithLevel is like NewTerminalHandler but filters records
// below the given level.
func NewTerminalHandlerWithLevel(wr io.Writer, level slog.Level, useColor bool) slog.Handler {
	return &terminalHandler{wr: wr, level: level, useColor: useColor}
}

// AutoColor reports whether wr looks like an interactive terminal that
// supports ANSI colors, wrapping it with go-colorable on Windows.
func AutoColor(wr io.Writer) (io.Writer, bool) {
	if f, ok := wr.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) {
			return colorable.NewColorable(f), true
		}
	}
	return wr, false
}

type _file = interface {
	io.Writer
	Fd() uintptr
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	buf := new(strings.Builder)
	lvl := LevelAlignedString(r.Level)
	if h.useColor {
		fmt.Fprintf(buf, "%s%-5s\x1b[0m", colorForLevel(r.Level), lvl)
	} else {
		fmt.Fprintf(buf, "%-5s", lvl)
	}
	buf.WriteString(" [")
	writeTimeTermFormat(buf, r.Time)
	buf.WriteString("] ")
	msg := r.Message
	if len(msg) < 40 {
		msg += strings.Repeat(" ", 40-len(msg))
	}
	buf.WriteString(msg)

	var fields []string
	for _, a := range h.attrs {
		fields = append(fields, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, formatAttr(a))
		return true
	})
	for _, f := range fields {
		buf.WriteByte(' ')
		buf.WriteString(f)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.wr, buf.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler {
	return h
}

func colorForLevel(l slog.Level) string {
	switch {
	case l >= LevelCrit:
		return "\x1b[35m"
	case l >= LevelError:
		return "\x1b[31m"
	case l >= LevelWarn:
		return "\x1b[33m"
	case l >= LevelInfo:
		return "\x1b[32m"
	default:
		return "\x1b[36m"
	}
}

func writeTimeTermFormat(buf *strings.Builder, t time.Time) {
	buf.WriteString(t.Format(termTimeFormat))
}

func formatAttr(a slog.Attr) string {
	v := formatLogfmtValue(a.Value)
	k := a.Key
	if strings.ContainsAny(k, " =\"") {
		k = strconv.Quote(k)
	}
	return k + "=" + v
}

func formatLogfmtValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return maybeQuote(v.String())
	case slog.KindInt64:
		return FormatLogfmtInt64(v.Int64())
	case slog.KindUint64:
		return FormatLogfmtUint64(v.Uint64())
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	default:
		any := v.Any()
		switch x := any.(type) {
		case error:
			return maybeQuote(x.Error())
		case fmt.Stringer:
			return maybeQuote(x.String())
		case *big.Int:
			return formatLogfmtBigInt(x)
		case []byte:
			return maybeQuote(fmt.Sprintf("%v", x))
		case nil:
			return "<nil>"
		default:
			return maybeQuote(fmt.Sprintf("%+v", any))
		}
	}
}

func maybeQuote(s string) string {
	if strings.ContainsAny(s, " \t\n\"=") || s == "" {
		return strconv.Quote(s)
	}
	return s
}

// JSONHandler returns a slog.Handler emitting one JSON object per line, at
// trace verbosity. Used for log shipping where the terminal format would be
// wasted on a machine reader.
func JSONHandler(wr io.Writer) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{Level: LevelTrace})
}

// JSONHandlerWithLevel is JSONHandler with an explicit minimum level.
func JSONHandlerWithLevel(wr io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{Level: level})
}

// LogfmtHandler returns a slog.Handler writing plain, unaligned logfmt
// lines (no terminal padding/coloring), suitable for piping into a log
// aggregator that understands key=value pairs.
func LogfmtHandler(wr io.Writer) slog.Handler {
	return slog.NewTextHandler(wr, &slog.HandlerOptions{Level: LevelTrace})
}

// discardHandler drops every record. Used as the zero-value default before
// SetDefault/Root is configured, and by components under test that don't
// care about log output.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler         { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler              { return discardHandler{} }

// GlogHandler wraps another handler with a runtime-adjustable verbosity
// threshold, mirroring glog's -v flag. Vmodule is accepted for interface
// compatibility with the teacher's CLI flag wiring but this implementation
// only honors the global threshold, not per-file overrides.
type GlogHandler struct {
	inner slog.Handler
	level atomic.Int32
}

// NewGlogHandler wraps h with an adjustable verbosity gate, initially open
// at LevelTrace.
func NewGlogHandler(h slog.Handler) *GlogHandler {
	g := &GlogHandler{inner: h}
	g.level.Store(int32(LevelTrace))
	return g
}

// Verbosity sets the minimum level that will be passed through to the
// wrapped handler.
func (g *GlogHandler) Verbosity(level slog.Level) {
	g.level.Store(int32(level))
}

// Vmodule is accepted for compatibility; see the type doc comment.
func (g *GlogHandler) Vmodule(string) error {
	return nil
}

func (g *GlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.Level(g.level.Load()) && g.inner.Enabled(ctx, level)
}

func (g *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	return g.inner.Handle(ctx, r)
}

func (g *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GlogHandler{inner: g.inner.WithAttrs(attrs), level: g.level}
}

func (g *GlogHandler) WithGroup(name string) slog.Handler {
	return &GlogHandler{inner: g.inner.WithGroup(name), level: g.level}
}

