// Package daemon wires capture, classification, aggregation and reporting
// into one process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/hostmon/internal/capture"
	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/geoip"
	"firestige.xyz/hostmon/internal/handler"
	"firestige.xyz/hostmon/internal/host"
	logpkg "firestige.xyz/hostmon/internal/log"
	"firestige.xyz/hostmon/internal/metrics"
	"firestige.xyz/hostmon/internal/pipeline"
	"firestige.xyz/hostmon/internal/report"
	"firestige.xyz/hostmon/internal/resolver"
)

// shutdownTimeout bounds metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// Daemon owns every long-lived component of a hostmon run.
type Daemon struct {
	config *config.Config
	out    io.Writer

	// Core components
	registry *host.Registry
	resolver resolver.Resolver
	geo      *geoip.Lookup // nil if geoip disabled
	capturer capture.Capturer
	pipeline *pipeline.Pipeline
	reporter *report.Reporter

	metrics       *metrics.Metrics // nil if metrics disabled
	metricsServer *metrics.Server  // nil if metrics disabled
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithOutput sets where report tables are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Daemon) { d.out = w }
}

// WithResolver replaces the DNS resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(d *Daemon) { d.resolver = r }
}

// New initializes logging and builds every component from cfg. Setup
// failures such as a missing device, an unreadable GeoIP database or an
// undiscoverable MAC address are returned here.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		config: cfg,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initLogging(); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	if err := d.build(); err != nil {
		d.closeAll()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) build() error {
	cc := &d.config.Capture

	// 1. Capture device
	if cc.Source != config.SourceFile && cc.Interface == "" {
		name, err := capture.DefaultInterface()
		if err != nil {
			return fmt.Errorf("failed to find a capture device: %w", err)
		}
		cc.Interface = name
		slog.Info("capture device selected", "interface", name)
	}

	localMAC, err := capture.ResolveLocalMAC(*cc)
	if err != nil {
		return fmt.Errorf("failed to determine local MAC address: %w", err)
	}
	slog.Info("local MAC address", "mac", localMAC.String(), "interface", cc.Interface)

	d.capturer, err = capture.New(*cc)
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}

	// 2. Enrichment
	if d.resolver == nil {
		d.resolver = resolver.NewCached(resolver.NewDNS(d.config.Resolver.Timeout), d.config.Resolver.CacheSize)
	}

	var handlerOpts []handler.Option
	if d.config.GeoIP.Enabled {
		d.geo, err = geoip.Open(d.config.GeoIP.Database, d.config.GeoIP.CacheSize)
		if err != nil {
			return fmt.Errorf("failed to open GeoIP database: %w", err)
		}
		handlerOpts = append(handlerOpts, handler.WithCountryLookup(d.geo))
	}

	// 3. Metrics
	if d.config.Metrics.Enabled {
		d.metrics = metrics.New()
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.metrics.Gatherer())
		handlerOpts = append(handlerOpts, handler.WithMetrics(d.metrics))
	}

	// 4. Registry, handler, pipeline, reporter
	d.registry = host.NewRegistry()
	h := handler.New(d.registry, localMAC, d.resolver, handlerOpts...)

	d.pipeline = pipeline.New(pipeline.Config{
		Capturer:  d.capturer,
		Handler:   h,
		QueueSize: cc.QueueSize,
		Metrics:   d.metrics,
	})

	d.reporter = report.New(d.registry, d.out,
		report.WithInterval(d.config.Report.Interval),
		report.WithHostnameWidth(d.config.Report.HostnameWidth),
		report.WithCountry(d.config.GeoIP.Enabled),
	)
	return nil
}

// Run captures and reports until ctx is done or the capture source ends.
// A replayed file ends with one last report of everything it contained.
// Run releases every resource before returning.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeAll()

	slog.Info("starting hostmon",
		"source", d.capturer.Name(),
		"filter", d.config.Capture.Filter,
		"interval", d.config.Report.Interval,
	)

	if d.metricsServer != nil {
		if err := d.metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := d.metricsServer.Stop(stopCtx); err != nil {
				slog.Error("error stopping metrics server", "error", err)
			}
		}()
	}

	if err := d.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	reportCtx, stopReporting := context.WithCancel(ctx)
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		if err := d.reporter.Run(reportCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reporting loop failed", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case <-d.pipeline.Done():
		runErr = d.pipeline.Err()
		if runErr == nil {
			slog.Info("capture source finished")
		}
	}

	d.pipeline.Stop()
	stopReporting()
	<-reportDone

	if d.config.Capture.Source == config.SourceFile && runErr == nil {
		if _, err := d.reporter.Report(); err != nil {
			slog.Error("failed to write final report", "error", err)
		}
	}

	st := d.pipeline.Stats()
	slog.Info("hostmon stopped",
		"hosts", d.registry.Len(),
		"frames", st.Handled,
		"dropped", st.Capture.PacketsDropped+st.Capture.PacketsKernelDropped,
	)
	return runErr
}

// Registry exposes the host registry, mainly for tests and embedding.
func (d *Daemon) Registry() *host.Registry {
	return d.registry
}

func (d *Daemon) closeAll() {
	if d.geo != nil {
		if err := d.geo.Close(); err != nil {
			slog.Error("error closing GeoIP database", "error", err)
		}
	}
	if err := logpkg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "hostmon: failed to flush logs: %v\n", err)
	}
}
