//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>

package affinity

import "errors"

func pinPlatform(int) error {
	return errors.New("affinity: not supported on this platform")
}
