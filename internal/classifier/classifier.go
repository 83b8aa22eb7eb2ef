// Package classifier turns a raw Ethernet frame into a direction and an IP
// header relative to the local interface, and resolves the remote endpoint.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"firestige.xyz/hostmon/internal/core"
	"firestige.xyz/hostmon/internal/core/decoder"
	"firestige.xyz/hostmon/internal/host"
	"firestige.xyz/hostmon/internal/resolver"
)

// Classification is the result of classifying a single frame.
type Classification struct {
	Direction host.Direction
	VLANs     []uint16 // Outer tag first; set whenever the Ethernet header decoded
	IP        core.IPHeader
}

// Classify decodes the link and network headers of frame and determines its
// direction by comparing MAC addresses with localMAC. The destination MAC is
// checked first, so a frame addressed from and to the local host counts as
// inbound.
//
// Errors:
//   - core.ErrUnsupportedFrameType when the EtherType is not IPv4 or IPv6
//   - core.ErrUnknownDirection when neither MAC is local
//   - core.ErrPacketTooShort or core.ErrUnsupportedProto for malformed headers
func Classify(frame []byte, localMAC net.HardwareAddr) (Classification, error) {
	eth, payload, err := decoder.DecodeEthernet(frame)
	if err != nil {
		return Classification{}, err
	}
	c := Classification{VLANs: eth.VLANs}
	if !eth.IsIP() {
		return c, fmt.Errorf("%w: ethertype 0x%04x", core.ErrUnsupportedFrameType, eth.EtherType)
	}

	switch {
	case bytes.Equal(eth.DstMAC[:], localMAC):
		c.Direction = host.Inbound
	case bytes.Equal(eth.SrcMAC[:], localMAC):
		c.Direction = host.Outbound
	default:
		return c, core.ErrUnknownDirection
	}

	c.IP, _, err = decoder.DecodeIP(payload)
	if err != nil {
		return c, err
	}
	return c, nil
}

// RemoteAddr picks the remote endpoint of ip: the source for inbound frames,
// the destination for outbound ones.
func RemoteAddr(ip core.IPHeader, dir host.Direction) (netip.Addr, error) {
	if ip.Version != 4 && ip.Version != 6 {
		return netip.Addr{}, fmt.Errorf("%w: ip version %d", core.ErrUnsupportedProto, ip.Version)
	}
	switch dir {
	case host.Inbound:
		return ip.SrcIP, nil
	case host.Outbound:
		return ip.DstIP, nil
	default:
		return netip.Addr{}, core.ErrUnknownDirection
	}
}

// Resolve looks up the hostname of the remote endpoint. It blocks for as long
// as r does. Lookup failures, and lookups yielding no name, are returned as
// *ResolutionError. A trailing root dot is removed.
func Resolve(ctx context.Context, r resolver.Resolver, ip core.IPHeader, dir host.Direction) (string, error) {
	addr, err := RemoteAddr(ip, dir)
	if err != nil {
		return "", err
	}
	name, err := r.LookupAddr(ctx, addr)
	if err == nil {
		name = strings.TrimSuffix(name, ".")
		if name == "" {
			err = resolver.ErrNoName
		}
	}
	if err != nil {
		return "", &ResolutionError{Addr: addr, Version: ip.Version, Err: err}
	}
	return name, nil
}

// ResolutionError reports a failed reverse lookup. It matches
// core.ErrResolution with errors.Is.
type ResolutionError struct {
	Addr    netip.Addr
	Version uint8
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v: %s (IPv%d): %v", core.ErrResolution, e.Addr, e.Version, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == core.ErrResolution
}
