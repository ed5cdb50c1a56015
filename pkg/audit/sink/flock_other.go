//go:build !unix && !windows

package sink

import (
	"errors"
	"os"
)

var errLockUnsupported = errors.New("exclusive file locking is not supported on this platform")

func lockFile(f *os.File) error {
	return errLockUnsupported
}

func unlockFile(f *os.File) error {
	return errLockUnsupported
}
