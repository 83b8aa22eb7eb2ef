// Package core defines sentinel errors.
package core

import "errors"

var (
	// Frame classification errors
	ErrUnsupportedFrameType = errors.New("hostmon: unsupported frame type")
	ErrUnknownDirection     = errors.New("hostmon: unknown frame direction")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("hostmon: packet too short")
	ErrUnsupportedProto = errors.New("hostmon: unsupported protocol")

	// Hostname resolution errors
	ErrResolution = errors.New("hostmon: hostname resolution failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("hostmon: invalid configuration")
)
