package log

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"
)

func TestTerminalHandlerVerbosity(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandlerWithLevel(out, LevelTrace, false))
	glog.Verbosity(LevelCrit)
	logger := NewLogger(glog)

	logger.Warn("This should not be seen", "ignored", "true")
	if out.Len() != 0 {
		t.Fatalf("expected nothing written below the verbosity floor, got %q", out.String())
	}

	logger.Crit("seen", "k", "v")
	if out.Len() == 0 {
		t.Fatalf("expected a Crit record to pass the verbosity floor")
	}
}

func TestTerminalHandlerWithAttrs(t *testing.T) {
	out := new(bytes.Buffer)
	h := NewTerminalHandlerWithLevel(out, LevelTrace, false).WithAttrs([]slog.Attr{slog.String("baz", "bat")})
	logger := NewLogger(h)
	logger.Trace("a message", "foo", "bar")
	have := out.String()
	have = strings.Split(have, "]")[1]
	want := " a message                                baz=bat foo=bar\n"
	if have != want {
		t.Errorf("\nhave: %q\nwant: %q\n", have, want)
	}
}

func TestJSONHandler(t *testing.T) {
	out := new(bytes.Buffer)
	handler := JSONHandler(out)
	logger := slog.New(handler)
	logger.Debug("hi there")
	if out.Len() == 0 {
		t.Error("expected non-empty debug log output from default JSON Handler")
	}

	out.Reset()
	handler = JSONHandlerWithLevel(out, slog.LevelInfo)
	logger = slog.New(handler)
	logger.Debug("hi there")
	if out.Len() != 0 {
		t.Errorf("expected empty debug log output, but got: %v", out.String())
	}
}

func TestLogfmtHandler(t *testing.T) {
	out := new(bytes.Buffer)
	logger := NewLogger(LogfmtHandler(out))
	logger.Info("hi there", "k", "v")
	if !strings.Contains(out.String(), "k=v") {
		t.Errorf("expected logfmt output to contain k=v, got %q", out.String())
	}
}

func TestLoggerOutputFields(t *testing.T) {
	out := new(bytes.Buffer)
	glogHandler := NewGlogHandler(NewTerminalHandler(out, false))
	glogHandler.Verbosity(LevelInfo)

	var (
		bigint = big.NewInt(100)
		nilbig *big.Int
		err    = errors.New("oh nooes it's crap")
	)
	NewLogger(glogHandler).Info("This is a message",
		"foo", int16(123),
		"bigint", bigint,
		"nilbig", nilbig,
		"err", err,
	)
	have := out.String()
	for _, want := range []string{"This is a message", "foo=123", "bigint=100", "nilbig=<nil>", `err="oh nooes it's crap"`} {
		if !strings.Contains(have, want) {
			t.Errorf("expected output to contain %q, got %q", want, have)
		}
	}
}

func TestTermTimeFormat(t *testing.T) {
	now := time.Now()
	want := now.AppendFormat(nil, termTimeFormat)
	b := new(strings.Builder)
	writeTimeTermFormat(b, now)
	if b.String() != string(want) {
		t.Errorf("have != want\nhave: %q\nwant: %q\n", b.String(), string(want))
	}
}

func BenchmarkTraceLogging(b *testing.B) {
	SetDefault(NewLogger(NewTerminalHandler(io.Discard, true)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Trace("a message", "v", i)
	}
}
