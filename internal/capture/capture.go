// Package capture implements frame sources: live libpcap, AF_PACKET and pcap
// file replay.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/core"
)

// Capturer delivers raw frames to output until ctx is done or the source is
// exhausted. Frames handed to output own their Data.
type Capturer interface {
	Name() string
	Capture(ctx context.Context, output chan<- core.RawPacket) error
	Stats() Stats
}

// Stats represents capture statistics.
type Stats struct {
	PacketsReceived      uint64 // Frames read from the source
	PacketsDropped       uint64 // Frames dropped because output was full
	PacketsKernelDropped uint64 // Frames the kernel dropped for lack of buffer
	PacketsIfDropped     uint64 // Frames dropped by the interface
}

// New creates the capturer selected by cfg.Source.
func New(cfg config.CaptureConfig) (Capturer, error) {
	switch cfg.Source {
	case config.SourcePcap, "":
		return newPcapCapturer(cfg)
	case config.SourceAFPacket:
		return newAFPacketCapturer(cfg)
	case config.SourceFile:
		return newFileCapturer(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown capture source %q", core.ErrConfigInvalid, cfg.Source)
	}
}

// decodeOptions decodes source-specific capture.options into out. Strings
// such as "100ms" are accepted for durations and numbers may be given as
// strings.
func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: capture.options: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// packetReader is satisfied by *pcap.Handle and *afpacket.TPacket.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

type counters struct {
	received  atomic.Uint64
	dropped   atomic.Uint64
	kernDrop  atomic.Uint64
	ifDropped atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsReceived:      c.received.Load(),
		PacketsDropped:       c.dropped.Load(),
		PacketsKernelDropped: c.kernDrop.Load(),
		PacketsIfDropped:     c.ifDropped.Load(),
	}
}

// readLoop is the read loop shared by all sources.
type readLoop struct {
	name      string
	reader    packetReader
	counters  *counters
	isTimeout func(error) bool
	// blocking makes sends wait for room instead of dropping. Used for file
	// replay where nothing is lost by slowing down.
	blocking bool
	// refresh is called on read timeouts and every statsEvery frames to pull
	// kernel drop counters.
	refresh func()
	// interrupt, when set, runs once ctx is done so that a read blocked in
	// the reader returns. After it the reader must fail or report EOF.
	interrupt func()
}

const statsEvery = 1024

func (l *readLoop) run(ctx context.Context, output chan<- core.RawPacket) error {
	if l.interrupt != nil {
		stop := context.AfterFunc(ctx, l.interrupt)
		defer stop()
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("capture stopped", "source", l.name)
			return nil
		default:
		}

		data, ci, err := l.reader.ReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("capture stopped", "source", l.name)
				return nil
			}
			if errors.Is(err, io.EOF) {
				slog.Info("capture source exhausted", "source", l.name, "packets", l.counters.received.Load())
				return nil
			}
			if l.isTimeout != nil && l.isTimeout(err) {
				l.refreshStats()
				continue
			}
			return fmt.Errorf("%s read failed: %w", l.name, err)
		}

		n := l.counters.received.Add(1)
		if n%statsEvery == 0 {
			l.refreshStats()
		}

		raw := core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		}
		if raw.Timestamp.IsZero() {
			raw.Timestamp = time.Now()
		}

		if l.blocking {
			select {
			case output <- raw:
			case <-ctx.Done():
				slog.Info("capture stopped", "source", l.name)
				return nil
			}
			continue
		}

		// Prefer dropping over stalling the read loop.
		select {
		case output <- raw:
		case <-ctx.Done():
			slog.Info("capture stopped", "source", l.name)
			return nil
		default:
			l.counters.dropped.Add(1)
			slog.Debug("output channel full, dropping frame", "source", l.name)
		}
	}
}

func (l *readLoop) refreshStats() {
	if l.refresh != nil {
		l.refresh()
	}
}
