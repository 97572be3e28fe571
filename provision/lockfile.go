/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package provision

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/teranos/roslyn-wrapper/errors"
)

// DefaultLockRetryInterval is the initial poll interval while another
// process holds an install lock.
const DefaultLockRetryInterval = 20 * time.Millisecond

var errLockBusy = errors.New("lock held by another process")

// lockfile is an advisory, cross-process exclusive lock on a file.
// The lock is released by the OS if the holder exits. Not goroutine-safe.
type lockfile struct {
	path   string
	file   *os.File
	locked bool
}

func newLockfile(path string) *lockfile {
	return &lockfile{path: path}
}

func (l *lockfile) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// tryOnce attempts the lock without waiting. It returns errLockBusy when
// another holder has it.
func (l *lockfile) tryOnce() error {
	if l.locked {
		return nil
	}
	if err := l.open(); err != nil {
		return err
	}
	if err := doLock(l.file); err != nil {
		if isAlreadyLockedError(err) {
			return errLockBusy
		}
		return err
	}
	l.locked = true
	return nil
}

// Lock polls with exponential backoff until the lock is taken or ctx ends.
func (l *lockfile) Lock(ctx context.Context, retryInterval time.Duration) error {
	if retryInterval <= 0 {
		retryInterval = DefaultLockRetryInterval
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(retryInterval),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.Retry(func() error {
		err := l.tryOnce()
		if err == nil || errors.Is(err, errLockBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func (l *lockfile) Unlock() error {
	if l.file == nil || !l.locked {
		return nil
	}
	l.locked = false
	return doUnlock(l.file)
}

// Close unlocks and closes the file. The file itself is left in place: other
// processes may already have it open and be waiting on it.
func (l *lockfile) Close() error {
	unlockErr := l.Unlock()
	if l.file == nil {
		return unlockErr
	}
	closeErr := l.file.Close()
	l.file = nil
	return errors.CombineErrors(unlockErr, closeErr)
}

// lockHeld reports whether some holder currently has the lock at path.
// A missing lock file is not held.
func lockHeld(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	l := newLockfile(path)
	defer l.Close()
	return errors.Is(l.tryOnce(), errLockBusy)
}
