//go:build !linux

package transport

import (
	"errors"
	"time"
)

// OpenRFCOMM is only available on Linux, where BlueZ exposes bound RFCOMM
// channels as /dev/rfcommN.
func OpenRFCOMM(path string, readTimeout time.Duration) (Port, error) {
	return nil, errors.New("rfcomm links are only supported on linux")
}
