package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Response bodies are captured for the delivery log up to this many bytes.
const maxResponseCapture = 1024

// Dispatcher fans session lifecycle events out to all active endpoints
// whose subscriptions match the event type. Delivery outcomes are recorded
// per endpoint and can be retried individually.
type Dispatcher struct {
	store  Store
	client *http.Client
	logger zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

func NewDispatcher(store Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register creates a new endpoint. When secret is empty a random one is
// generated and returned exactly once, on the registration response.
func (d *Dispatcher) Register(ctx context.Context, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event pattern is required")
	}
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
	}
	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.SaveEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Pause stops deliveries to the endpoint until it is resumed.
func (d *Dispatcher) Pause(ctx context.Context, id string) error {
	return d.setStatus(ctx, id, StatusPaused)
}

// Resume re-enables deliveries to a paused endpoint.
func (d *Dispatcher) Resume(ctx context.Context, id string) error {
	return d.setStatus(ctx, id, StatusActive)
}

func (d *Dispatcher) setStatus(ctx context.Context, id, status string) error {
	ep, err := d.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Status = status
	return d.store.SaveEndpoint(ctx, ep)
}

// Deliver posts one event to every active endpoint subscribed to its type.
// Individual endpoint failures are logged and recorded but do not stop
// delivery to the remaining endpoints; the first error is returned.
func (d *Dispatcher) Deliver(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal webhook data: %w", err)
	}
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	endpoints, _, err := d.store.ListEndpoints(ctx, 1000, 0)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ep := range endpoints {
		if ep.Status != StatusActive || !matchesEvent(ep.Events, eventType) {
			continue
		}
		attempt := d.post(ctx, ep, event, payload)
		if saveErr := d.store.SaveDelivery(ctx, attempt); saveErr != nil && firstErr == nil {
			firstErr = saveErr
		}
		if !attempt.Succeeded {
			d.logger.Warn().
				Str("endpoint_id", ep.ID).
				Str("event_type", eventType).
				Int("status_code", attempt.StatusCode).
				Str("error", attempt.Error).
				Msg("webhook delivery failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("delivery to %s failed", ep.URL)
			}
		}
	}
	return firstErr
}

// Retry re-sends a previously recorded delivery to its endpoint's current
// URL, using the original payload with a fresh signature and timestamp.
func (d *Dispatcher) Retry(ctx context.Context, deliveryID string) (*Delivery, error) {
	prev, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := d.store.GetEndpoint(ctx, prev.EndpointID)
	if err != nil {
		return nil, err
	}
	event := &Event{ID: prev.EventID, Type: prev.EventType}
	attempt := d.post(ctx, ep, event, prev.Payload)
	if err := d.store.SaveDelivery(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// Test sends a synthetic "webhook.test" event to one endpoint regardless of
// its subscriptions, so operators can verify connectivity and signatures.
func (d *Dispatcher) Test(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := d.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	event := &Event{
		ID:        uuid.New().String(),
		Type:      "webhook.test",
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"message":"test delivery"}`),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	attempt := d.post(ctx, ep, event, payload)
	if err := d.store.SaveDelivery(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// DeliveryLog returns one page of delivery attempts for an endpoint,
// newest first.
func (d *Dispatcher) DeliveryLog(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	return d.store.ListDeliveries(ctx, endpointID, limit, offset)
}

func (d *Dispatcher) post(ctx context.Context, ep *Endpoint, event *Event, payload []byte) *Delivery {
	attempt := &Delivery{
		ID:          uuid.New().String(),
		EndpointID:  ep.ID,
		EventID:     event.ID,
		EventType:   event.Type,
		URL:         ep.URL,
		AttemptedAt: time.Now().UTC(),
		Payload:     payload,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", event.ID)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(attempt.AttemptedAt.Unix(), 10))
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(ep.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseCapture))
	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(body)
	attempt.Succeeded = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !attempt.Succeeded && attempt.Error == "" {
		attempt.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}
	return attempt
}
