//go:build linux

// File: reactor/timerfd_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

// minTimerResolution floors how soon a timerfd may be armed. Rearming with
// a near-zero delay degenerates into a storm of immediate expirations.
const minTimerResolution = 100 * time.Microsecond

func createTimerfd() int {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("timerfd_create failed")
	}
	return fd
}

// readTimerfd consumes the expiration counter so the descriptor stops
// polling readable.
func readTimerfd(fd int, now time.Time) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 8 {
		logging.L().Error().Err(err).Int("n", n).Msg("timerfd read returned short count")
		return
	}
	logging.L().Trace().
		Uint64("expirations", binary.NativeEndian.Uint64(buf[:])).
		Time("at", now).
		Msg("timerfd fired")
}

// resetTimerfd arms the descriptor for the given absolute expiration.
func resetTimerfd(fd int, expiration time.Time) {
	delay := time.Until(expiration)
	if delay < minTimerResolution {
		delay = minTimerResolution
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(delay.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		logging.L().Error().Err(err).Msg("timerfd_settime failed")
	}
}
