package webhooks

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
	"time"

	"github.com/google/uuid"

	"escrowmarket/core/events"
	"escrowmarket/native/market"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed
	// with "sha256=".
	SignatureHeader = "X-Market-Signature"
	// EventHeader names the market event type of the delivery.
	EventHeader = "X-Market-Event"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 64
)

// Payload is the webhook body for listed and bought events.
type Payload struct {
	Type         string    `json:"type"`
	DeliveryID   string    `json:"deliveryId"`
	InvocationID string    `json:"invocationId"`
	Listing      string    `json:"listing"`
	Seller       string    `json:"seller"`
	Buyer        string    `json:"buyer,omitempty"`
	ItemID       string    `json:"itemId"`
	Price        string    `json:"price"`
	Variant      string    `json:"variant"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Dispatcher posts market events to an HTTP endpoint with retry and
// exponential backoff. It implements events.Emitter so it can sit behind the
// node's committed event stream.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	nowFn       func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan delivery
	wg        sync.WaitGroup
	mu        sync.RWMutex
	stopping  chan struct{}
	closeOnce sync.Once
}

type delivery struct {
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger routes delivery failures to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		nowFn:       time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
		stopping:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close refuses new deliveries, gives every queued delivery one final attempt
// and waits for the worker to finish. A delivery that was mid-retry is not
// retried again.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		close(d.stopping)
		d.mu.Unlock()
		d.wg.Wait()
		d.cancel()
	})
}

// Emit queues listed and bought envelopes for delivery. Other events are
// ignored. When the queue is full the delivery is dropped and logged rather
// than blocking the committing invocation.
func (d *Dispatcher) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok || env.Payload == nil {
		return
	}
	switch env.Payload.Type {
	case market.EventTypeListed, market.EventTypeBought:
	default:
		return
	}
	attrs := env.Payload.Attributes
	payload := Payload{
		Type:         env.Payload.Type,
		DeliveryID:   uuid.NewString(),
		InvocationID: env.InvocationID,
		Listing:      attrs["listing"],
		Seller:       attrs["seller"],
		Buyer:        attrs["buyer"],
		ItemID:       attrs["itemId"],
		Price:        attrs["price"],
		Variant:      attrs["variant"],
		OccurredAt:   d.nowFn().UTC(),
	}
	if err := d.Enqueue(payload); err != nil {
		d.logger.Warn("webhook delivery dropped",
			slog.String("type", payload.Type),
			slog.String("listing", payload.Listing),
			slog.Any("error", err))
	}
}

// Enqueue sends payload asynchronously.
func (d *Dispatcher) Enqueue(payload Payload) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.stopping:
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, body: data}:
		return nil
	default:
		return errors.New("webhook: queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job, d.maxAttempts)
		case <-d.stopping:
			for {
				select {
				case job := <-d.queue:
					d.process(job, 1)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) process(job delivery, maxAttempts int) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := d.attemptContext()
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= maxAttempts {
			d.logger.Error("webhook delivery failed",
				slog.String("type", job.eventType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.stopping:
			d.logger.Warn("webhook delivery abandoned on close",
				slog.String("type", job.eventType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

// attemptContext bounds one delivery by the client timeout. A client without
// a timeout relies on the transport and the dispatcher lifetime.
func (d *Dispatcher) attemptContext() (context.Context, context.CancelFunc) {
	if d.client.Timeout > 0 {
		return context.WithTimeout(d.ctx, d.client.Timeout)
	}
	return context.WithCancel(d.ctx)
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, job.eventType)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body under secret.
func Verify(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
