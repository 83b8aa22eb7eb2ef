package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("loki writer is closed")

const (
	defaultLokiBatchSize     = 100
	defaultLokiFlushInterval = 5 * time.Second
	lokiMaxRetries           = 3
	lokiRetryBaseDelay       = 100 * time.Millisecond
)

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // Loki push endpoint URL
	Labels        map[string]string // Stream labels
	BatchSize     int               // Number of log entries per batch
	FlushInterval string            // Flush interval (e.g., "5s")
}

// LokiWriter implements io.Writer and pushes log lines to Grafana Loki in
// batches. Pushes happen outside the write path's lock, so a slow Loki
// never stalls logging callers for longer than a slice append.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	maxPending    int
	flushInterval time.Duration
	httpClient    *http.Client
	errOut        io.Writer

	mu      sync.Mutex
	batch   []logEntry
	closed  bool
	dropped int

	sendMu  sync.Mutex // serializes pushes
	flushCh chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type logEntry struct {
	timestamp time.Time
	line      string
}

// lokiPushRequest is the Loki push API request body.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a Loki writer and starts its background flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	flushInterval := defaultLokiFlushInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		if d > 0 {
			flushInterval = d
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLokiBatchSize
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "hostmon"
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     batchSize,
		maxPending:    batchSize * 10,
		flushInterval: flushInterval,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		errOut:        os.Stderr,
		batch:         make([]logEntry, 0, batchSize),
		flushCh:       make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
	}

	lw.wg.Add(1)
	go lw.flusher()

	return lw, nil
}

// Write queues one log line. A full batch wakes the flusher; when Loki is
// unreachable and the backlog exceeds ten batches the oldest lines are
// dropped.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed {
		return 0, ErrWriterClosed
	}

	lw.batch = append(lw.batch, logEntry{
		timestamp: time.Now(),
		line:      strings.TrimRight(string(p), "\n"),
	})
	if over := len(lw.batch) - lw.maxPending; over > 0 {
		lw.batch = append(lw.batch[:0], lw.batch[over:]...)
		lw.dropped += over
	}

	if len(lw.batch) >= lw.batchSize {
		select {
		case lw.flushCh <- struct{}{}:
		default:
		}
	}

	return len(p), nil
}

// Close stops the flusher and pushes whatever is still queued.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	lw.mu.Unlock()

	close(lw.closeCh)
	lw.wg.Wait()

	return lw.flush()
}

func (lw *LokiWriter) flusher() {
	defer lw.wg.Done()

	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-lw.flushCh:
		case <-lw.closeCh:
			return
		}
		if err := lw.flush(); err != nil {
			fmt.Fprintf(lw.errOut, "loki flush error: %v\n", err)
		}
	}
}

// flush takes the current batch and pushes it. On failure the entries are
// put back in front of anything written meanwhile.
func (lw *LokiWriter) flush() error {
	lw.sendMu.Lock()
	defer lw.sendMu.Unlock()

	lw.mu.Lock()
	pending := lw.batch
	dropped := lw.dropped
	lw.batch = make([]logEntry, 0, lw.batchSize)
	lw.dropped = 0
	lw.mu.Unlock()

	if dropped > 0 {
		fmt.Fprintf(lw.errOut, "loki writer dropped %d log lines\n", dropped)
	}
	if len(pending) == 0 {
		return nil
	}

	data, err := lw.encode(pending)
	if err != nil {
		return err
	}
	if err := lw.sendWithRetry(data); err != nil {
		lw.mu.Lock()
		if !lw.closed {
			lw.batch = append(pending, lw.batch...)
		}
		lw.mu.Unlock()
		return err
	}
	return nil
}

func (lw *LokiWriter) encode(entries []logEntry) ([]byte, error) {
	values := make([][]string, len(entries))
	for i, e := range entries {
		values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
	}
	data, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal loki request: %w", err)
	}
	return data, nil
}

// sendWithRetry pushes data with exponential backoff.
func (lw *LokiWriter) sendWithRetry(data []byte) error {
	var lastErr error
	for attempt := 0; attempt < lokiMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(lokiRetryBaseDelay << (attempt - 1))
		}
		if lastErr = lw.send(data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("loki push failed after %d retries: %w", lokiMaxRetries, lastErr)
}

func (lw *LokiWriter) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("loki push failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}
