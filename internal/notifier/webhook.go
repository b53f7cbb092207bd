package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nodescaler/internal/config"
	"nodescaler/pkg/backoff"
	"nodescaler/pkg/circuitbreaker"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// Publisher is the surface workflows publish through.
type Publisher interface {
	// Publish queues an event for async delivery. Non-blocking.
	Publish(event *Event) error

	// Stats returns delivery counters.
	Stats() Stats

	// Close drains the queue, bounded by the context deadline.
	Close(ctx context.Context) error
}

// Stats holds notifier delivery counters.
type Stats struct {
	QueueDepth   int   `json:"queue_depth"`
	Queued       int64 `json:"queued"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	Dropped      int64 `json:"dropped"`
	RetriesTotal int64 `json:"retries_total"`
	BreakerOpen  bool  `json:"breaker_open"`
}

// Config holds webhook notifier settings.
type Config struct {
	URL         string        // webhook endpoint, empty disables the notifier
	Secret      string        // HMAC signing key, empty = unsigned
	BufferSize  int
	Workers     int
	HTTPTimeout time.Duration
	MaxRetries  int
}

// LoadConfig reads notifier settings from the environment.
func LoadConfig() Config {
	return Config{
		URL:         config.GetEnv("NOTIFY_WEBHOOK_URL", ""),
		Secret:      config.GetEnv("NOTIFY_WEBHOOK_SECRET", ""),
		BufferSize:  config.GetIntEnv("NOTIFY_BUFFER_SIZE", 256),
		Workers:     config.GetIntEnv("NOTIFY_WORKERS", 2),
		HTTPTimeout: config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:  config.GetIntEnv("NOTIFY_MAX_RETRIES", 3),
	}
}

// Enabled reports whether a webhook URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	return c
}

// MetricsRecorder is an optional sink for delivery metrics.
type MetricsRecorder interface {
	RecordNotifierDelivered(ctx context.Context)
	RecordNotifierFailed(ctx context.Context)
	RecordNotifierDropped(ctx context.Context)
}

// Webhook is the queue-backed webhook notifier.
type Webhook struct {
	queue   chan *Event
	client  *http.Client
	breaker *circuitbreaker.Breaker
	retry   backoff.Policy
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates the notifier and starts its workers.
func New(cfg Config, metrics MetricsRecorder) *Webhook {
	cfg = cfg.withDefaults()

	w := &Webhook{
		queue: make(chan *Event, cfg.BufferSize),
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker:  circuitbreaker.New(5, 30*time.Second),
		retry:    backoff.Policy{Initial: 500 * time.Millisecond, Max: 10 * time.Second},
		config:   cfg,
		logger:   slog.With("component", "notifier"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go w.worker()
	}

	w.logger.Info("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return w
}

// Publish queues an event for async delivery.
func (w *Webhook) Publish(event *Event) error {
	if w.closed.Load() {
		return errors.New("notifier is closed")
	}

	select {
	case w.queue <- event:
		w.queued.Add(1)
		return nil
	default:
		w.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current delivery counters.
func (w *Webhook) Stats() Stats {
	return Stats{
		QueueDepth:   len(w.queue),
		Queued:       w.queued.Load(),
		Delivered:    w.delivered.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		RetriesTotal: w.retriesTotal.Load(),
		BreakerOpen:  w.breaker.State() == circuitbreaker.Open,
	}
}

// Close stops accepting events and waits for the workers to drain the queue,
// bounded by the context deadline.
func (w *Webhook) Close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil
	}

	w.logger.Info("Notifier shutting down", "queued", len(w.queue))
	close(w.shutdown)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Notifier shutdown complete",
			"delivered", w.delivered.Load(),
			"failed", w.failed.Load(),
			"dropped", w.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Notifier shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdown:
			// Drain what is left before exiting.
			for {
				select {
				case event := <-w.queue:
					w.deliver(event)
				default:
					return
				}
			}
		case event := <-w.queue:
			w.deliver(event)
		}
	}
}

func (w *Webhook) deliver(event *Event) {
	if !w.breaker.Allow() {
		w.drop(event, "circuit open")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.sendWithRetry(ctx, event); err != nil {
		w.breaker.RecordFailure()
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordNotifierFailed(ctx)
		}
		w.logger.Warn("Delivery failed", "type", event.Type, "subject", event.Subject, "error", err)
		return
	}

	w.breaker.RecordSuccess()
	w.delivered.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDelivered(ctx)
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *Event) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retry.Delay(attempt)):
			}
		}

		lastErr = w.send(ctx, event)
		if lastErr == nil {
			return nil
		}
		if isClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (w *Webhook) send(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("Ce-Specversion", event.SpecVersion)
	req.Header.Set("Ce-Type", event.Type)
	req.Header.Set("Ce-Source", event.Source)
	req.Header.Set("Ce-Subject", event.Subject)
	req.Header.Set("Ce-Id", event.ID)
	req.Header.Set("Ce-Time", event.Time.Format(time.RFC3339))

	if w.config.Secret != "" {
		req.Header.Set("X-Signature-256", sign(body, w.config.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &httpError{statusCode: resp.StatusCode}
}

func (w *Webhook) drop(event *Event, reason string) {
	w.dropped.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDropped(context.Background())
	}
	w.logger.Warn("Event dropped", "reason", reason, "type", event.Type, "subject", event.Subject)
}

// sign computes the HMAC-SHA256 signature header value for a payload.
func sign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d", e.statusCode)
}

// isClientError reports a 4xx response, which retrying cannot fix.
func isClientError(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.statusCode >= 400 && he.statusCode < 500
	}
	return false
}

var _ Publisher = (*Webhook)(nil)
