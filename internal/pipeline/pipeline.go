// Package pipeline connects a capture source to the packet handler.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/hostmon/internal/capture"
	"firestige.xyz/hostmon/internal/core"
	"firestige.xyz/hostmon/internal/metrics"
)

// PacketHandler consumes one frame. Implementations recover from per-frame
// failures themselves.
type PacketHandler interface {
	Handle(ctx context.Context, raw core.RawPacket)
}

// Config contains pipeline configuration.
type Config struct {
	Capturer  capture.Capturer
	Handler   PacketHandler
	QueueSize int              // Raw packet channel buffer size
	Metrics   *metrics.Metrics // Optional
}

// Pipeline runs a capture goroutine feeding a bounded channel and a single
// process goroutine that hands frames to the handler in order.
type Pipeline struct {
	capturer capture.Capturer
	handler  PacketHandler
	metrics  *metrics.Metrics
	counters Metrics

	rawPacketChan chan core.RawPacket

	// Runtime state
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	startOnce sync.Once
	err       error // capture error, set before done is closed
}

// dropExportInterval bounds how stale exported drop counters get while the
// queue is idle.
const dropExportInterval = time.Second

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &Pipeline{
		capturer:      cfg.Capturer,
		handler:       cfg.Handler,
		metrics:       cfg.Metrics,
		rawPacketChan: make(chan core.RawPacket, cfg.QueueSize),
		done:          make(chan struct{}),
	}
}

// Start launches the capture and process goroutines. They stop when ctx is
// done, when Stop is called or when the source is exhausted. Only the first
// call has any effect.
func (p *Pipeline) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		slog.Info("pipeline starting", "source", p.capturer.Name(), "queue_size", cap(p.rawPacketChan))

		p.wg.Add(2)
		go p.captureLoop(ctx)
		go p.processLoop(ctx)

		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
	return nil
}

// Stop stops the pipeline and waits for both goroutines to return.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	slog.Info("pipeline stopping", "source", p.capturer.Name())
	p.cancel()
	<-p.done

	st := p.Stats()
	slog.Info("pipeline stopped",
		"received", st.Received,
		"handled", st.Handled,
		"queue_dropped", st.Capture.PacketsDropped,
		"kernel_dropped", st.Capture.PacketsKernelDropped)
	return nil
}

// Done is closed once both goroutines have returned, e.g. after a pcap file
// has been fully replayed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that ended capture, if any. Valid after Done is
// closed.
func (p *Pipeline) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// captureLoop lets the capturer fill the queue and closes it when capture ends.
func (p *Pipeline) captureLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.rawPacketChan)

	if err := p.capturer.Capture(ctx, p.rawPacketChan); err != nil && ctx.Err() == nil {
		slog.Error("capture failed", "source", p.capturer.Name(), "error", err)
		p.err = err
	}
}

// processLoop hands queued frames to the handler until the queue is closed
// or ctx is done.
func (p *Pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.exportDrops()

	ticker := time.NewTicker(dropExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			p.exportDrops()

		case raw, ok := <-p.rawPacketChan:
			if !ok {
				return
			}
			p.counters.Received.Add(1)
			p.handler.Handle(ctx, raw)
			p.counters.Handled.Add(1)
		}
	}
}

func (p *Pipeline) exportDrops() {
	p.counters.exportDrops(p.capturer.Stats(), p.metrics)
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received: p.counters.Received.Load(),
		Handled:  p.counters.Handled.Load(),
		Capture:  p.capturer.Stats(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received uint64
	Handled  uint64
	Capture  capture.Stats
}
