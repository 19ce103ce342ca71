//go:build linux
// +build linux

package poll

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func isFDValid(fd int) bool {
	// Try to get the flags of the file descriptor
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// IsTemporaryError checks if the error is temporary, e.g., EAGAIN or EWOULDBLOCK.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func CloseFd(fd int) error {
	if isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return os.NewSyscallError("close", err)
		}
	}
	return nil
}

// writeEventfd adds n to the eventfd counter.
func writeEventfd(fd int, n uint64) error {
	_, err := unix.Write(fd, (*(*[8]byte)(unsafe.Pointer(&n)))[:])
	if err != nil {
		return os.NewSyscallError("write eventfd", err)
	}
	return nil
}

// readEventfd resets the eventfd counter and returns its previous value.
func readEventfd(fd int) (uint64, error) {
	var buf uint64
	_, err := unix.Read(fd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err != nil {
		return 0, os.NewSyscallError("read eventfd", err)
	}
	return buf, nil
}
