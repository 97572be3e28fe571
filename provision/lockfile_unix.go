//go:build !windows

// Copyright (c) Microsoft Corporation. All rights reserved.

package provision

import (
	"os"

	"golang.org/x/sys/unix"
)

func doLock(f *os.File) error {
	// flock locks belong to the open file description, so two opens of the
	// same path in one process still exclude each other.
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func doUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func isAlreadyLockedError(err error) bool {
	return err == unix.EWOULDBLOCK
}
