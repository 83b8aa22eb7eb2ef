// Package host holds per-host traffic records and the registry that
// aggregates them.
package host

import "strings"

// Direction classifies a frame relative to the local interface.
type Direction int

const (
	Unknown Direction = iota
	Inbound
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Record is the aggregated traffic of one normalized remote hostname.
// Byte counters are fractional kilobytes.
type Record struct {
	Hostname   string
	Country    string
	CountIn    uint64
	CountOut   uint64
	InBytes    float64
	OutBytes   float64
	TotalBytes float64
}

// Packets returns the total number of packets in both directions.
func (r Record) Packets() uint64 {
	return r.CountIn + r.CountOut
}

// add applies one frame of frameLen bytes in direction dir.
func (r *Record) add(frameLen int, dir Direction) {
	sizeKB := float64(frameLen) / 1024.0
	switch dir {
	case Inbound:
		r.CountIn++
		r.InBytes += sizeKB
	case Outbound:
		r.CountOut++
		r.OutBytes += sizeKB
	default:
		return
	}
	r.TotalBytes = r.InBytes + r.OutBytes
}

// Normalize truncates a hostname to its last two dot-separated labels when
// it has at least two dots. Hostnames with zero or one dot are unchanged.
func Normalize(hostname string) string {
	last := strings.LastIndexByte(hostname, '.')
	if last < 0 {
		return hostname
	}
	prev := strings.LastIndexByte(hostname[:last], '.')
	if prev < 0 {
		return hostname
	}
	return hostname[prev+1:]
}
