// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations
// live in separate files guarded by build tags.

package affinity

// Pin binds the calling OS thread to a given logical CPU on supported
// platforms. The caller must hold the thread (runtime.LockOSThread) for the
// pin to stay meaningful. On unsupported platforms returns an error.
func Pin(cpuID int) error {
	return pinPlatform(cpuID)
}
