package pipeline

import (
	"sync/atomic"

	"firestige.xyz/hostmon/internal/capture"
	"firestige.xyz/hostmon/internal/metrics"
)

// Metrics contains pipeline counters.
type Metrics struct {
	Received atomic.Uint64 // Frames taken off the queue
	Handled  atomic.Uint64 // Frames passed to the handler

	// Capture drop totals already exported, owned by the process loop.
	exportedQueue  uint64
	exportedKernel uint64
}

// exportDrops pushes the growth of the capturer's drop counters since the
// last call to m.
func (p *Metrics) exportDrops(st capture.Stats, m *metrics.Metrics) {
	if st.PacketsDropped > p.exportedQueue {
		m.Drop("queue", st.PacketsDropped-p.exportedQueue)
		p.exportedQueue = st.PacketsDropped
	}
	if st.PacketsKernelDropped > p.exportedKernel {
		m.Drop("kernel", st.PacketsKernelDropped-p.exportedKernel)
		p.exportedKernel = st.PacketsKernelDropped
	}
}
