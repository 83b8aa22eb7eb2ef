package report

import (
	"fmt"
	"strings"

	"firestige.xyz/hostmon/internal/host"
)

const (
	// DefaultHostnameWidth is the hostname column width.
	DefaultHostnameWidth = 25

	packetsWidth = 30
	trafficWidth = 40
	countryWidth = 4

	// convertThreshold is the fraction of a megabyte above which a value is
	// shown in MB.
	convertThreshold = 0.8
)

// ShouldConvert reports whether kb is displayed in megabytes.
func ShouldConvert(kb float64) bool {
	return kb/1024.0 > convertThreshold
}

// RenderSize returns the display value of kb.
func RenderSize(kb float64, converted bool) float64 {
	if converted {
		return kb / 1024.0
	}
	return kb
}

// Unit returns "MB" for converted values and "KB" otherwise.
func Unit(converted bool) string {
	if converted {
		return "MB"
	}
	return "KB"
}

// Row format options.
type rowOptions struct {
	hostnameWidth int
	country       bool
}

// FormatRow renders one record as a fixed-width table row without the
// trailing newline.
func FormatRow(rec host.Record, hostnameWidth int, withCountry bool) string {
	return formatRow(rec, rowOptions{hostnameWidth: hostnameWidth, country: withCountry})
}

func formatRow(rec host.Record, opts rowOptions) string {
	width := opts.hostnameWidth
	if width <= 0 {
		width = DefaultHostnameWidth
	}

	fTotal := ShouldConvert(rec.TotalBytes)
	fIn := ShouldConvert(rec.InBytes)
	fOut := ShouldConvert(rec.OutBytes)

	packets := fmt.Sprintf("Packets: %d(%d OUT/%d IN)", rec.Packets(), rec.CountOut, rec.CountIn)
	traffic := fmt.Sprintf("Traffic: %.1f%s(%.1f%s OUT/%.1f%s IN)",
		RenderSize(rec.TotalBytes, fTotal), Unit(fTotal),
		RenderSize(rec.OutBytes, fOut), Unit(fOut),
		RenderSize(rec.InBytes, fIn), Unit(fIn),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s", width, truncate(rec.Hostname, width))
	if opts.country {
		cc := rec.Country
		if cc == "" {
			cc = "--"
		}
		fmt.Fprintf(&b, "%-*s", countryWidth, cc)
	}
	fmt.Fprintf(&b, "%-*s%-*s", packetsWidth, packets, trafficWidth, traffic)
	return b.String()
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width]
}
