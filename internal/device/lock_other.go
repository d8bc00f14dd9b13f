//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package device

import "os"

// No advisory locking here; callers must not open one device twice.
func lockFile(f *os.File, exclusive bool) error { return nil }

func unlockFile(f *os.File) {}
