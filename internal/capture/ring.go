package capture

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded
	maxBlockSize     = 4 * 1024 * 1024
)

// ringGeometry is the layout of a TPACKET_V3 mmap ring.
type ringGeometry struct {
	frameSize int
	blockSize int
	numBlocks int
}

// computeRing sizes a ring of roughly bufferMB megabytes for frames of up to
// snapLen bytes. The kernel requires frames aligned to TPACKET_ALIGNMENT and
// blocks that are a multiple of both the page size and the frame size.
func computeRing(bufferMB, snapLen, pageSize int) (ringGeometry, error) {
	switch {
	case bufferMB <= 0:
		return ringGeometry{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	case snapLen <= 0:
		return ringGeometry{}, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return ringGeometry{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	g := ringGeometry{frameSize: alignUp(tpacketHdrLen+snapLen, tpacketAlignment)}

	g.blockSize = lcm(pageSize, g.frameSize)
	if g.blockSize > maxBlockSize {
		// Fall back to page-aligned frames so any frame count fits a block.
		g.frameSize = alignUp(g.frameSize, pageSize)
		g.blockSize = g.frameSize * max(1, maxBlockSize/g.frameSize)
	}

	g.numBlocks = max(1, bufferMB*1024*1024/g.blockSize)
	return g, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
