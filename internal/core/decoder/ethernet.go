// Package decoder implements L2/L3 header decoding for captured frames.
package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/hostmon/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	vlanIDMask        = 0x0FFF

	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// maxVLANTags is the deepest tag stack accepted; QinQ uses two.
	maxVLANTags = 2
)

func isVLANTag(etherType uint16) bool {
	return etherType == etherTypeVLAN || etherType == etherTypeQinQ
}

// DecodeEthernet decodes the Ethernet header of frame, stripping up to two
// VLAN tags, and returns it with the remaining payload. Non-IP frames decode
// without error; callers check EtherType.
func DecodeEthernet(frame []byte) (core.EthernetHeader, []byte, error) {
	if len(frame) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	h := core.EthernetHeader{
		DstMAC:    [6]byte(frame[0:6]),
		SrcMAC:    [6]byte(frame[6:12]),
		EtherType: binary.BigEndian.Uint16(frame[12:14]),
	}
	rest := frame[ethernetHeaderLen:]

	for isVLANTag(h.EtherType) {
		if len(h.VLANs) == maxVLANTags {
			return h, nil, fmt.Errorf("%w: more than %d VLAN tags", core.ErrUnsupportedProto, maxVLANTags)
		}
		if len(rest) < vlanHeaderLen {
			return h, nil, core.ErrPacketTooShort
		}
		h.VLANs = append(h.VLANs, binary.BigEndian.Uint16(rest[0:2])&vlanIDMask)
		h.EtherType = binary.BigEndian.Uint16(rest[2:4])
		rest = rest[vlanHeaderLen:]
	}

	return h, rest, nil
}
