//go:build windows
// +build windows

package ledger

import (
	"os"
	"syscall"
)

// ERROR_LOCK_VIOLATION, returned by LockFileEx when the lock is
// already held and LOCKFILE_FAIL_IMMEDIATELY is set.
const errorLockViolation syscall.Errno = 0x21

// lockFile acquires an exclusive lock on the ledger file using
// LockFileEx, without blocking.
func lockFile(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	var overlapped syscall.Overlapped

	const (
		lockfileFailImmediately = 0x1
		lockfileExclusiveLock   = 0x2
	)

	err := syscall.LockFileEx(
		handle,
		lockfileExclusiveLock|lockfileFailImmediately,
		0, // reserved
		1, // lock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
	if err == errorLockViolation {
		return ErrLocked
	}
	return err
}

// unlockFile releases the lock on the ledger file.
func unlockFile(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	var overlapped syscall.Overlapped

	return syscall.UnlockFileEx(
		handle,
		0, // reserved
		1, // unlock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
}
