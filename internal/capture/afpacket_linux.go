//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/core"
)

// afpacketOptions are the capture.options understood by the afpacket source.
type afpacketOptions struct {
	BufferSizeMB int           `mapstructure:"buffer_size_mb"` // Ring size, default 8
	FanoutID     uint16        `mapstructure:"fanout_id"`      // 0 = no fanout group
	FanoutType   string        `mapstructure:"fanout_type"`    // hash
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`   // Overrides capture.timeout
}

// afpacketCapturer reads from a TPACKET_V3 ring.
type afpacketCapturer struct {
	cfg  config.CaptureConfig
	opts afpacketOptions
	ring ringGeometry
	counters
}

func newAFPacketCapturer(cfg config.CaptureConfig) (Capturer, error) {
	opts := afpacketOptions{BufferSizeMB: 8}
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: afpacket source requires an interface", core.ErrConfigInvalid)
	}
	if opts.FanoutType != "" && opts.FanoutType != "hash" {
		return nil, fmt.Errorf("%w: unknown fanout_type %q (only hash is supported)", core.ErrConfigInvalid, opts.FanoutType)
	}

	ring, err := computeRing(opts.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return &afpacketCapturer{cfg: cfg, opts: opts, ring: ring}, nil
}

func (c *afpacketCapturer) Name() string {
	return "afpacket:" + c.cfg.Interface
}

func (c *afpacketCapturer) pollTimeout() time.Duration {
	if c.opts.PollTimeout > 0 {
		return c.opts.PollTimeout
	}
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 100 * time.Millisecond
}

func (c *afpacketCapturer) open() (*afpacket.TPacket, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(c.cfg.Interface),
		afpacket.OptFrameSize(c.ring.frameSize),
		afpacket.OptBlockSize(c.ring.blockSize),
		afpacket.OptNumBlocks(c.ring.numBlocks),
		afpacket.OptPollTimeout(c.pollTimeout()),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle on %s: %w", c.cfg.Interface, err)
	}

	if c.opts.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHash, c.opts.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to set fanout: %w", err)
		}
	}

	if c.cfg.Filter != "" {
		insns, err := compileBPF(c.cfg.Filter, c.cfg.SnapLen)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(insns); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to set BPF: %w", err)
		}
		slog.Debug("BPF filter applied", "filter", c.cfg.Filter)
	}

	if err := tp.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}
	return tp, nil
}

// Capture owns the ring for its whole lifetime; the handle is closed only
// after the read loop has returned.
func (c *afpacketCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	tp, err := c.open()
	if err != nil {
		return err
	}
	defer tp.Close()

	if c.cfg.Promiscuous {
		slog.Debug("afpacket does not toggle promiscuous mode; enable it on the interface if needed",
			"interface", c.cfg.Interface)
	}
	slog.Info("afpacket capture started",
		"interface", c.cfg.Interface,
		"filter", c.cfg.Filter,
		"frame_size", c.ring.frameSize,
		"block_size", c.ring.blockSize,
		"num_blocks", c.ring.numBlocks,
		"fanout_id", c.opts.FanoutID)

	loop := readLoop{
		name:     c.Name(),
		reader:   tp,
		counters: &c.counters,
		isTimeout: func(err error) bool {
			return errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll)
		},
		refresh: func() {
			if _, v3, err := tp.SocketStats(); err == nil {
				c.kernDrop.Store(uint64(v3.Drops()))
			}
		},
	}
	err = loop.run(ctx, output)
	loop.refreshStats()
	return err
}

func (c *afpacketCapturer) Stats() Stats {
	return c.snapshot()
}
