// Copyright 2019 The go-ethereum Authors
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
	"math/big"
	"strconv"
)

// FormatLogfmtInt64 formats n with thousand-separator commas once it's large
// enough to be hard to read at a glance (mirrors the numbers emitted for
// tixel indices and retry counters in log lines).
func FormatLogfmtInt64(n int64) string {
	if n < 0 {
		return "-" + FormatLogfmtUint64(uint64(-n))
	}
	return FormatLogfmtUint64(uint64(n))
}

// FormatLogfmtUint64 formats n with thousand-separator commas.
func FormatLogfmtUint64(n uint64) string {
	if n < 100000 {
		return strconv.FormatUint(n, 10)
	}
	return groupDigits(strconv.FormatUint(n, 10))
}

func formatLogfmtBigInt(n *big.Int) string {
	if n == nil {
		return "<nil>"
	}
	neg := n.Sign() < 0
	s := new(big.Int).Abs(n).String()
	if len(s) < 6 {
		if neg {
			return "-" + s
		}
		return s
	}
	s = groupDigits(s)
	if neg {
		return "-" + s
	}
	return s
}

// groupDigits inserts a comma every three digits from the right.
func groupDigits(s string) string {
	n := len(s)
	if n <= 5 {
		return s
	}
	var out []byte
	lead := n % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < n; i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
