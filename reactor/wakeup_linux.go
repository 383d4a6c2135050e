//go:build linux

// File: reactor/wakeup_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

// createWakeupFd returns a counting eventfd used to break the poller's
// blocking wait from other goroutines.
func createWakeupFd() int {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("eventfd failed")
	}
	return fd
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

func writeWakeup(fd int) (int, error) {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	return unix.Write(fd, buf[:])
}

func readWakeup(fd int) (int, error) {
	var buf [8]byte
	return unix.Read(fd, buf[:])
}
