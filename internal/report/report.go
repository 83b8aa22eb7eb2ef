// Package report periodically renders the host registry as a table.
package report

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/hostmon/internal/host"
	"firestige.xyz/hostmon/internal/log"
)

// DefaultInterval is the pause between two reports.
const DefaultInterval = 5 * time.Second

// State is a phase of the reporting loop.
type State int

const (
	// Reporting renders a snapshot of the registry.
	Reporting State = iota
	// Waiting sleeps until the next report.
	Waiting
)

func (s State) String() string {
	switch s {
	case Reporting:
		return "reporting"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Source supplies registry snapshots. *host.Registry implements it.
type Source interface {
	Snapshot() []host.Record
}

// Reporter writes the host table to an io.Writer on a fixed cadence.
type Reporter struct {
	source   Source
	out      io.Writer
	interval time.Duration
	row      rowOptions

	// newTimer is swapped in tests.
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the pause between reports.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithHostnameWidth sets the hostname column width.
func WithHostnameWidth(w int) Option {
	return func(r *Reporter) {
		if w > 0 {
			r.row.hostnameWidth = w
		}
	}
}

// WithCountry adds the country column.
func WithCountry(enabled bool) Option {
	return func(r *Reporter) { r.row.country = enabled }
}

// New creates a Reporter reading from source and writing to out.
func New(source Source, out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{
		source:   source,
		out:      out,
		interval: DefaultInterval,
		row:      rowOptions{hostnameWidth: DefaultHostnameWidth},
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run alternates between Reporting and Waiting until ctx is done. The first
// report is written immediately. An empty registry is reported as a
// critical log line and retried after the same interval.
func (r *Reporter) Run(ctx context.Context) error {
	state := Reporting
	for {
		switch state {
		case Reporting:
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := r.Report(); err != nil {
				slog.Error("failed to write report", "error", err)
			}
			state = Waiting

		case Waiting:
			c, stop := r.newTimer(r.interval)
			select {
			case <-ctx.Done():
				stop()
				return ctx.Err()
			case <-c:
			}
			state = Reporting
		}
	}
}

// Report writes one table from a fresh snapshot. It returns the number of
// rows written; zero rows means the registry was empty and nothing was
// printed.
func (r *Reporter) Report() (int, error) {
	slog.Debug("start printing")

	records := r.source.Snapshot()
	if len(records) == 0 {
		log.Critical("hosts registry empty, waiting", "interval", r.interval)
		return 0, nil
	}

	w := bufio.NewWriter(r.out)
	for _, rec := range records {
		slog.Debug("size conversion",
			"host", rec.Hostname,
			"in", ShouldConvert(rec.InBytes),
			"out", ShouldConvert(rec.OutBytes),
			"total", ShouldConvert(rec.TotalBytes))
		w.WriteString(formatRow(rec, r.row))
		w.WriteByte('\n')
	}
	w.WriteString("\n\n")
	if err := w.Flush(); err != nil {
		return 0, err
	}

	slog.Debug("end printing", "hosts", len(records))
	return len(records), nil
}
