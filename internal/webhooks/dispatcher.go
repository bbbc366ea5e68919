package webhooks

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultRetryInterval = 10 * time.Second

// Dispatcher delivers events to one endpoint in the background. Failed
// deliveries are retried with exponential backoff until MaxRetries is
// exhausted; pending retries do not survive a restart.
type Dispatcher struct {
	cfg          Config
	client       *http.Client
	eventChan    chan *Event
	workerCount  int
	shutdown     chan struct{}
	wg           sync.WaitGroup
	metrics      MetricsRecorder
	shutdownOnce sync.Once

	// closeMu keeps Emit from sending on a closed channel
	closeMu sync.RWMutex
	closed  bool

	retryMu       sync.Mutex
	retries       []*Delivery
	retryInterval time.Duration
}

// MetricsRecorder is an interface for recording webhook metrics
type MetricsRecorder interface {
	RecordEvent(eventType string)
	RecordDelivery(eventType, status string)
	RecordDeliveryDuration(eventType string, duration time.Duration)
	RecordRetry(eventType string)
	RecordDroppedEvent()
	SetQueueSize(size int)
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(cfg Config, workerCount, bufferSize int, metrics MetricsRecorder) *Dispatcher {
	if workerCount < 1 {
		workerCount = 1
	}
	if cfg.TimeoutSeconds < 1 {
		cfg.TimeoutSeconds = 10
	}
	return &Dispatcher{
		cfg:           cfg,
		client:        newHTTPClient(cfg.TimeoutSeconds),
		eventChan:     make(chan *Event, bufferSize),
		workerCount:   workerCount,
		shutdown:      make(chan struct{}),
		metrics:       metrics,
		retryInterval: defaultRetryInterval,
	}
}

// Start starts the webhook dispatcher workers
func (d *Dispatcher) Start() {
	slog.Info("starting webhook dispatcher", "workers", d.workerCount, "format", d.cfg.Format)

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.retryProcessor()
}

// Shutdown lets workers drain queued events, then stops. Safe to call more
// than once.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("shutting down webhook dispatcher")

		d.closeMu.Lock()
		d.closed = true
		close(d.eventChan)
		d.closeMu.Unlock()

		close(d.shutdown)
	})

	d.wg.Wait()

	d.retryMu.Lock()
	dropped := len(d.retries)
	d.retryMu.Unlock()
	slog.Info("webhook dispatcher shutdown complete", "pending_retries_dropped", dropped)
}

// Emit queues an event. Events are dropped when the queue is full or the
// dispatcher is shutting down.
func (d *Dispatcher) Emit(event *Event) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		slog.Warn("webhook dispatcher shutting down, dropping event", "event_type", event.Type)
		d.metrics.RecordDroppedEvent()
		return
	}

	select {
	case d.eventChan <- event:
		d.metrics.RecordEvent(string(event.Type))
		d.metrics.SetQueueSize(len(d.eventChan))
	default:
		slog.Warn("webhook event channel full, dropping event", "event_type", event.Type)
		d.metrics.RecordDroppedEvent()
	}
}

// worker processes webhook events from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	slog.Debug("webhook worker started", "worker_id", id)

	for event := range d.eventChan {
		if event == nil {
			continue
		}
		d.processEvent(event)
		d.metrics.SetQueueSize(len(d.eventChan))
	}

	slog.Debug("webhook worker event channel closed", "worker_id", id)
}

// processEvent processes a single webhook event
func (d *Dispatcher) processEvent(event *Event) {
	if !d.cfg.SubscribedTo(event.Type) {
		return
	}

	payload, err := TransformPayload(event, d.cfg.Format)
	if err != nil {
		slog.Error("failed to transform event payload", "error", err, "format", d.cfg.Format)
		return
	}

	d.attemptDelivery(&Delivery{
		EventType: event.Type,
		Payload:   payload,
		Status:    DeliveryStatusPending,
	})
}

// attemptDelivery attempts to deliver a webhook
func (d *Dispatcher) attemptDelivery(delivery *Delivery) {
	startTime := time.Now()
	delivery.AttemptCount++

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.cfg.TimeoutSeconds)*time.Second)
	result := Deliver(ctx, d.client, &d.cfg, delivery.Payload)
	cancel()

	d.metrics.RecordDeliveryDuration(string(delivery.EventType), time.Since(startTime))

	delivery.ResponseCode = result.ResponseCode
	if result.Error != nil {
		delivery.ErrorMessage = result.Error.Error()
	}

	if result.Success {
		delivery.Status = DeliveryStatusSuccess
		d.metrics.RecordDelivery(string(delivery.EventType), "success")
		return
	}

	if ShouldRetry(delivery.AttemptCount, d.cfg.MaxRetries+1) {
		delivery.Status = DeliveryStatusRetrying
		delivery.NextRetryAt = time.Now().Add(CalculateRetryDelay(delivery.AttemptCount - 1))

		d.retryMu.Lock()
		d.retries = append(d.retries, delivery)
		d.retryMu.Unlock()

		d.metrics.RecordRetry(string(delivery.EventType))

		slog.Info("webhook delivery failed, scheduling retry",
			"url", d.cfg.URL,
			"event_type", delivery.EventType,
			"attempt", delivery.AttemptCount,
			"max_retries", d.cfg.MaxRetries,
			"next_retry", delivery.NextRetryAt)
		return
	}

	delivery.Status = DeliveryStatusFailed
	d.metrics.RecordDelivery(string(delivery.EventType), "failed")

	slog.Error("webhook delivery failed after max retries",
		"url", d.cfg.URL,
		"event_type", delivery.EventType,
		"attempts", delivery.AttemptCount,
		"last_error", delivery.ErrorMessage)
}

// retryProcessor periodically re-attempts deliveries whose backoff elapsed
func (d *Dispatcher) retryProcessor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.processRetries(time.Now())
		}
	}
}

// processRetries attempts every delivery due at now
func (d *Dispatcher) processRetries(now time.Time) {
	d.retryMu.Lock()
	var due []*Delivery
	pending := d.retries[:0]
	for _, delivery := range d.retries {
		if delivery.NextRetryAt.After(now) {
			pending = append(pending, delivery)
		} else {
			due = append(due, delivery)
		}
	}
	d.retries = pending
	d.retryMu.Unlock()

	if len(due) > 0 {
		slog.Debug("processing pending webhook retries", "count", len(due))
	}
	for _, delivery := range due {
		d.attemptDelivery(delivery)
	}
}

// PendingRetries returns the number of deliveries waiting for another attempt
func (d *Dispatcher) PendingRetries() int {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	return len(d.retries)
}

// GetQueueSize returns the current size of the event queue
func (d *Dispatcher) GetQueueSize() int {
	return len(d.eventChan)
}
