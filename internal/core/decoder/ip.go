package decoder

import (
	"net/netip"

	"firestige.xyz/hostmon/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// DecodeIP decodes an IPv4 or IPv6 header, dispatching on the version nibble.
// Returns the header and the remaining payload.
func DecodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	switch version := data[0] >> 4; version {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{Version: version}, nil, core.ErrUnsupportedProto
	}
}

func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	return ip, data[headerLen:], nil
}

// decodeIPv6 decodes the fixed IPv6 header. Extension headers are not walked;
// Protocol holds the raw Next Header value.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  6,
		Protocol: data[6],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	return ip, data[ipv6HeaderLen:], nil
}
