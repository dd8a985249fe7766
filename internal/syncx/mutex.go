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

// Package syncx contains exotic synchronization primitives not offered by
// the sync package.
package syncx

// ClosableMutex is a mutex that can also be closed. Once closed, it cannot
// be locked again. The pulse pipeline uses one of these to guard the
// single-writer assembler state: shutdown closes it so any in-flight
// TryLock fails instead of racing a final write against process exit.
type ClosableMutex struct {
	ch chan struct{}
}

// NewClosableMutex creates a new ClosableMutex.
func NewClosableMutex() *ClosableMutex {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return &ClosableMutex{ch: ch}
}

// TryLock tries to lock the mutex. It returns true if it succeeded, and
// false, without locking, if the mutex is closed.
//
// Note that this method blocks while the mutex is locked and not closed.
func (cm *ClosableMutex) TryLock() bool {
	_, ok := <-cm.ch
	return ok
}

// MustLock locks the mutex, and panics if it is closed.
func (cm *ClosableMutex) MustLock() {
	_, ok := <-cm.ch
	if !ok {
		panic("mutex closed")
	}
}

// Unlock unlocks the mutex.
func (cm *ClosableMutex) Unlock() {
	select {
	case cm.ch <- struct{}{}:
	default:
		panic("Unlock of unlocked mutex")
	}
}

// Close locks the mutex, then closes it.
func (cm *ClosableMutex) Close() {
	_, ok := <-cm.ch
	if !ok {
		panic("Close of closed mutex")
	}
	close(cm.ch)
}
