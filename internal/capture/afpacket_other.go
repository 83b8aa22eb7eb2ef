//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/core"
)

func newAFPacketCapturer(config.CaptureConfig) (Capturer, error) {
	return nil, fmt.Errorf("%w: afpacket source is only available on linux", core.ErrConfigInvalid)
}
