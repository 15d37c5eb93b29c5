// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock provides non-blocking advisory file locks used to keep two
// processes from working on the same state directory.
package filelock

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked indicates the lock is currently held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock represents a held file lock.
type Lock interface{ Release() error }

type fileLock struct{ fl *flock.Flock }

// Acquire obtains a non-blocking exclusive lock for path and optionally writes
// payload into the lock file, so that operators can see who holds it.
func Acquire(path string, payload string) (Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyLocked
	}
	l := &fileLock{fl: fl}
	if payload != "" {
		if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
			return nil, errors.Join(err, l.Release())
		}
	}
	return l, nil
}

// IsLocked reports whether path is currently locked by somebody else.
func IsLocked(path string) bool {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		fl.Unlock()
		return false
	}
	return true
}

func (l *fileLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
