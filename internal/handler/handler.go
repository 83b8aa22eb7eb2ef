// Package handler applies captured frames to the host registry.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"firestige.xyz/hostmon/internal/classifier"
	"firestige.xyz/hostmon/internal/core"
	"firestige.xyz/hostmon/internal/host"
	"firestige.xyz/hostmon/internal/log"
	"firestige.xyz/hostmon/internal/metrics"
	"firestige.xyz/hostmon/internal/resolver"
)

// CountryLookup annotates an address with an ISO country code.
type CountryLookup interface {
	Country(addr netip.Addr) string
}

// Handler turns frames into registry updates. It holds no lock while
// resolving, so a slow lookup never blocks the reporting loop.
type Handler struct {
	registry *host.Registry
	localMAC net.HardwareAddr
	resolver resolver.Resolver
	geo      CountryLookup
	metrics  *metrics.Metrics
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithCountryLookup enables country annotation.
func WithCountryLookup(geo CountryLookup) Option {
	return func(h *Handler) { h.geo = geo }
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a Handler for frames captured on the interface with localMAC.
func New(registry *host.Registry, localMAC net.HardwareAddr, r resolver.Resolver, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		localMAC: localMAC,
		resolver: r,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one frame. Every failure is logged and counted here;
// nothing is returned to the capture loop.
func (h *Handler) Handle(ctx context.Context, raw core.RawPacket) {
	_, _ = h.handle(ctx, raw)
}

func (h *Handler) handle(ctx context.Context, raw core.RawPacket) (host.Record, error) {
	size := raw.Length()
	slog.Debug("frame received", "size", size)

	c, err := classifier.Classify(raw.Data, h.localMAC)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnsupportedFrameType):
		slog.Info("dropping non-IP frame", "size", size, "vlans", c.VLANs, "error", err)
		h.metrics.Frame(metrics.ResultNonIP)
		return host.Record{}, err
	case errors.Is(err, core.ErrUnknownDirection):
		log.Critical("dropping frame of unknown direction", "size", size, "vlans", c.VLANs)
		h.metrics.Frame(metrics.ResultUnknownDirection)
		return host.Record{}, err
	default:
		slog.Debug("dropping malformed frame", "size", size, "direction", c.Direction, "error", err)
		h.metrics.Frame(metrics.ResultMalformed)
		return host.Record{}, err
	}
	slog.Debug("direction determined",
		"direction", c.Direction,
		"src", c.IP.SrcIP,
		"dst", c.IP.DstIP,
		"proto", c.IP.Protocol,
		"vlans", c.VLANs)

	start := time.Now()
	name, err := classifier.Resolve(ctx, h.resolver, c.IP, c.Direction)
	h.metrics.ObserveResolve(time.Since(start))
	if err != nil {
		var rerr *classifier.ResolutionError
		if errors.As(err, &rerr) {
			slog.Warn("dropping frame, hostname resolution failed",
				"addr", rerr.Addr.String(), "ip_version", rerr.Version, "error", rerr.Err)
			h.metrics.Frame(metrics.ResultUnresolved)
		} else {
			slog.Debug("dropping frame without remote address", "error", err)
			h.metrics.Frame(metrics.ResultMalformed)
		}
		return host.Record{}, err
	}

	hostname := host.Normalize(name)
	slog.Debug("hostname resolved", "name", name, "host", hostname)

	var country string
	if h.geo != nil {
		if remote, err := classifier.RemoteAddr(c.IP, c.Direction); err == nil {
			country = h.geo.Country(remote)
		}
	}

	rec, _ := h.registry.Upsert(hostname, size, c.Direction, country)
	h.metrics.Frame(metrics.ResultRecorded)
	h.metrics.Bytes(c.Direction.String(), size)
	h.metrics.SetHosts(h.registry.Len())
	return rec, nil
}
