// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IsIP reports whether the frame carries an IPv4 or IPv6 payload.
func (h EthernetHeader) IsIP() bool {
	return h.EtherType == EtherTypeIPv4 || h.EtherType == EtherTypeIPv6
}

// IPHeader represents L3 IP header (IPv4/IPv6 base header only).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // TCP=6, UDP=17; Next Header for IPv6
}

// EtherType values relevant to classification.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD
)
