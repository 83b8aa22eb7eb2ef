package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/core"
)

// pcapOptions are the capture.options understood by the pcap source.
type pcapOptions struct {
	BufferSizeMB int  `mapstructure:"buffer_size_mb"` // Kernel buffer, 0 = libpcap default
	Immediate    bool `mapstructure:"immediate"`      // Deliver frames without waiting for the timeout
}

// pcapCapturer captures live from an interface through libpcap.
type pcapCapturer struct {
	cfg  config.CaptureConfig
	opts pcapOptions
	counters
}

func newPcapCapturer(cfg config.CaptureConfig) (Capturer, error) {
	var opts pcapOptions
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: pcap source requires an interface", core.ErrConfigInvalid)
	}
	return &pcapCapturer{cfg: cfg, opts: opts}, nil
}

func (c *pcapCapturer) Name() string {
	return "pcap:" + c.cfg.Interface
}

func (c *pcapCapturer) open() (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(c.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap handle on %s: %w", c.cfg.Interface, err)
	}
	defer inactive.CleanUp()

	// Never BlockForever: a read must return for cancellation to be seen
	// even if the interrupting Close loses the race.
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultCaptureTimeout
	}
	if err := inactive.SetSnapLen(c.cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("failed to set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(c.cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if c.opts.BufferSizeMB > 0 {
		if err := inactive.SetBufferSize(c.opts.BufferSizeMB * 1024 * 1024); err != nil {
			return nil, fmt.Errorf("failed to set buffer size: %w", err)
		}
	}
	if c.opts.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			return nil, fmt.Errorf("failed to set immediate mode: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate pcap handle on %s: %w", c.cfg.Interface, err)
	}

	if handle.LinkType() != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("%w: %s has link type %s, only Ethernet is supported",
			core.ErrUnsupportedFrameType, c.cfg.Interface, handle.LinkType())
	}

	if c.cfg.Filter != "" {
		if err := handle.SetBPFFilter(c.cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to apply BPF filter %q: %w", c.cfg.Filter, err)
		}
		slog.Debug("BPF filter applied", "filter", c.cfg.Filter)
	}
	return handle, nil
}

// Capture opens the interface and reads until ctx is done. Cancellation
// closes the handle, which wakes a read blocked on an idle interface.
func (c *pcapCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	handle, err := c.open()
	if err != nil {
		return err
	}
	h := &liveHandle{handle: handle}
	defer h.Close()

	slog.Info("pcap capture started",
		"interface", c.cfg.Interface,
		"filter", c.cfg.Filter,
		"snaplen", c.cfg.SnapLen,
		"promiscuous", c.cfg.Promiscuous,
		"timeout", c.cfg.Timeout)

	loop := readLoop{
		name:     c.Name(),
		reader:   handle,
		counters: &c.counters,
		isTimeout: func(err error) bool {
			return errors.Is(err, pcap.NextErrorTimeoutExpired)
		},
		refresh: func() {
			h.stats(func(st *pcap.Stats) {
				c.kernDrop.Store(uint64(st.PacketsDropped))
				c.ifDropped.Store(uint64(st.PacketsIfDropped))
			})
		},
		interrupt: h.Close,
	}
	err = loop.run(ctx, output)
	loop.refreshStats()
	return err
}

// liveHandle serializes Stats against a Close issued from another
// goroutine; libpcap must not be queried once the handle is closed.
type liveHandle struct {
	mu     sync.Mutex
	handle *pcap.Handle
	closed bool
}

func (h *liveHandle) stats(apply func(*pcap.Stats)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if st, err := h.handle.Stats(); err == nil {
		apply(st)
	}
}

// Close is idempotent and safe to call while a read is in progress.
func (h *liveHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.handle.Close()
	}
}

func (c *pcapCapturer) Stats() Stats {
	return c.snapshot()
}

// fileCapturer replays a pcap file.
type fileCapturer struct {
	path   string
	filter string
	counters
}

func newFileCapturer(cfg config.CaptureConfig) (Capturer, error) {
	if err := decodeOptions(cfg.Options, &struct{}{}); err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return nil, fmt.Errorf("%w: file source requires capture.file", core.ErrConfigInvalid)
	}
	return &fileCapturer{path: cfg.File, filter: cfg.Filter}, nil
}

func (c *fileCapturer) Name() string {
	return "file:" + c.path
}

// Capture replays every frame of the file, waiting for room in output rather
// than dropping. It returns nil at end of file.
func (c *fileCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	handle, err := pcap.OpenOffline(c.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", c.path, err)
	}
	defer handle.Close()

	if handle.LinkType() != layers.LinkTypeEthernet {
		return fmt.Errorf("%w: %s has link type %s, only Ethernet is supported",
			core.ErrUnsupportedFrameType, c.path, handle.LinkType())
	}
	if c.filter != "" {
		if err := handle.SetBPFFilter(c.filter); err != nil {
			return fmt.Errorf("failed to apply BPF filter %q: %w", c.filter, err)
		}
	}

	slog.Info("pcap file replay started", "file", c.path, "filter", c.filter)

	start := time.Now()
	loop := readLoop{
		name:     c.Name(),
		reader:   handle,
		counters: &c.counters,
		blocking: true,
	}
	err = loop.run(ctx, output)
	slog.Debug("pcap file replay finished", "file", c.path, "elapsed", time.Since(start))
	return err
}

func (c *fileCapturer) Stats() Stats {
	return c.snapshot()
}
