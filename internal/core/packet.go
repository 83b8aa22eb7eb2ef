// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is a frame delivered by a capture source. The packet owns Data;
// sources copy out of their ring before queuing.
type RawPacket struct {
	Data       []byte    // Raw frame data
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length on the wire
}

// Length returns the frame length used for traffic accounting: the original
// wire length when the source reports it, otherwise the captured length.
func (p RawPacket) Length() int {
	if p.OrigLen > 0 {
		return int(p.OrigLen)
	}
	if p.CaptureLen > 0 {
		return int(p.CaptureLen)
	}
	return len(p.Data)
}
