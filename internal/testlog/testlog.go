// Copyright 2021 The go-ethereum Authors
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

// Package testlog provides a log handler for unit tests that depends on
// slog's *testing.T logging mechanism.
package testlog

import (
	"log/slog"
	"sync"

	"github.com/twine-protocol/beacon-in-a-box/log"
)

// tHelper is the subset of testing.TB used here, so mockT in tests doesn't
// need to satisfy the whole interface.
type tHelper interface {
	Helper()
	Logf(format string, args ...any)
}

// Handler returns a log handler which writes to the unit test log via
// t.Logf().
func Handler(t tHelper, level slog.Level) slog.Handler {
	return log.NewTerminalHandlerWithLevel(&tWriter{t}, level, false)
}

// Logger returns a logger which logs to the unit test log via t.Logf().
func Logger(t tHelper, level slog.Level) log.Logger {
	return log.NewLogger(Handler(t, level))
}

type tWriter struct {
	t tHelper
}

var mu sync.Mutex

func (w *tWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	w.t.Helper()
	w.t.Logf("%s", string(p))
	return len(p), nil
}
