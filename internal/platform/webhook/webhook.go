// Package webhook delivers patient events to registered HTTP endpoints.
// Each POST body is the event bus message, signed with HMAC-SHA256 over the
// endpoint's secret. Failed deliveries are retried with backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/platform/eventbus"
)

const (
	SignatureHeader = "X-NeuroScribe-Signature"
	EventHeader     = "X-NeuroScribe-Event"
	DeliveryHeader  = "X-NeuroScribe-Delivery"

	StatusActive = "active"
	StatusPaused = "paused"

	EventTest = "webhook.test"

	// maxDeliveryLog caps the deliveries kept per endpoint.
	maxDeliveryLog = 100
)

var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrClosed           = errors.New("webhook manager closed")
)

// DefaultRetryDelays are the waits between attempts; len+1 attempts total.
var DefaultRetryDelays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// Endpoint is a registered destination.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records one attempt to deliver an event.
type Delivery struct {
	ID         string          `json:"id"`
	EndpointID string          `json:"endpoint_id"`
	EventType  string          `json:"event_type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Attempt    int             `json:"attempt"`
	StatusCode int             `json:"status_code"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration_ns"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"-"`
}

// Option configures a Manager.
type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithRetryDelays replaces DefaultRetryDelays. An empty slice disables
// retries.
func WithRetryDelays(d ...time.Duration) Option {
	return func(m *Manager) { m.retryDelays = d }
}

// WithTopic restricts delivery to messages published on topic. Without it
// every message is a candidate.
func WithTopic(topic string) Option {
	return func(m *Manager) { m.topic = topic }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l.With().Str("component", "webhook").Logger() }
}

// Manager holds endpoints and their delivery logs in memory and fans bus
// messages out to them.
type Manager struct {
	httpClient  *http.Client
	retryDelays []time.Duration
	topic       string
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	order      []string
	deliveries map[string][]*Delivery // endpoint id -> newest last
	closed     bool
}

func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: DefaultRetryDelays,
		logger:      zerolog.Nop(),
		ctx:         ctx,
		cancel:      cancel,
		endpoints:   make(map[string]*Endpoint),
		deliveries:  make(map[string][]*Delivery),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature, with or without the "sha256=" prefix,
// matches payload.
func Verify(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}

// Register adds an endpoint. An empty secret gets a random one and an empty
// event list subscribes to everything.
func (m *Manager) Register(rawURL, secret string, events []string, createdBy string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
		secret = hex.EncodeToString(b)
	}
	if len(events) == 0 {
		events = []string{"*"}
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       strings.TrimSpace(rawURL),
		Secret:    secret,
		Events:    append([]string(nil), events...),
		Status:    StatusActive,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.ID] = ep
	m.order = append(m.order, ep.ID)
	return copyEndpoint(ep), nil
}

// Get returns the endpoint without its secret.
func (m *Manager) Get(id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	out := copyEndpoint(ep)
	out.Secret = ""
	return out, nil
}

// List returns every endpoint in registration order, without secrets.
func (m *Manager) List() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Endpoint, 0, len(m.order))
	for _, id := range m.order {
		ep := copyEndpoint(m.endpoints[id])
		ep.Secret = ""
		out = append(out, ep)
	}
	return out
}

// SetStatus pauses or resumes an endpoint.
func (m *Manager) SetStatus(id, status string) error {
	if status != StatusActive && status != StatusPaused {
		return fmt.Errorf("unknown webhook status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return ErrEndpointNotFound
	}
	ep.Status = status
	return nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(m.endpoints, id)
	delete(m.deliveries, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Deliveries returns the delivery log for an endpoint, newest first.
func (m *Manager) Deliveries(id string) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.endpoints[id]; !ok {
		return nil, ErrEndpointNotFound
	}
	log := m.deliveries[id]
	out := make([]*Delivery, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		d := *log[i]
		out = append(out, &d)
	}
	return out, nil
}

// Forward queues msg for every active endpoint subscribed to its type. It
// returns at once; deliveries run in the background. Its signature matches
// eventbus.Bus.StartForwarder.
func (m *Manager) Forward(msg eventbus.Message) {
	if m.topic != "" && msg.Topic != m.topic {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error().Err(err).Str("type", msg.Type).Msg("marshal webhook payload")
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	for _, id := range m.order {
		ep := m.endpoints[id]
		if ep.Status != StatusActive || !subscribed(ep.Events, msg.Type) {
			continue
		}
		m.wg.Add(1)
		go m.deliverWithRetry(copyEndpoint(ep), msg, payload)
	}
}

// Test sends a synthetic event to one endpoint and waits for the single
// attempt to finish.
func (m *Manager) Test(ctx context.Context, id string) (*Delivery, error) {
	m.mu.RLock()
	ep, ok := m.endpoints[id]
	if ok {
		ep = copyEndpoint(ep)
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrEndpointNotFound
	}

	msg := eventbus.Message{
		Type:       EventTest,
		Topic:      "webhooks",
		ResourceID: ep.ID,
		Timestamp:  time.Now().UTC(),
		Data:       json.RawMessage(`{"test":true}`),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	d := m.attempt(ctx, ep, msg, payload, 1)
	m.record(d)
	return d, nil
}

// Wait blocks until in-flight deliveries finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops pending retries and waits for in-flight deliveries.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) deliverWithRetry(ep *Endpoint, msg eventbus.Message, payload []byte) {
	defer m.wg.Done()

	for n := 1; ; n++ {
		d := m.attempt(m.ctx, ep, msg, payload, n)
		m.record(d)
		if d.Success || n > len(m.retryDelays) {
			if !d.Success {
				m.logger.Warn().Str("endpoint", ep.ID).Str("type", msg.Type).Int("attempts", n).
					Str("error", d.Error).Msg("webhook delivery gave up")
			}
			return
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.retryDelays[n-1]):
		}
	}
}

func (m *Manager) attempt(ctx context.Context, ep *Endpoint, msg eventbus.Message, payload []byte, n int) *Delivery {
	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  msg.Type,
		ResourceID: msg.ResourceID,
		Attempt:    n,
		CreatedAt:  time.Now().UTC(),
		Payload:    payload,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+Sign(payload, ep.Secret))
	req.Header.Set(EventHeader, msg.Type)
	req.Header.Set(DeliveryHeader, d.ID)

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

func (m *Manager) record(d *Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[d.EndpointID]; !ok {
		return
	}
	log := append(m.deliveries[d.EndpointID], d)
	if len(log) > maxDeliveryLog {
		log = log[len(log)-maxDeliveryLog:]
	}
	m.deliveries[d.EndpointID] = log
}

// subscribed matches eventType against patterns: "*", an exact type, or a
// "patient.*" style prefix.
func subscribed(patterns []string, eventType string) bool {
	for _, p := range patterns {
		switch {
		case p == "*" || p == eventType:
			return true
		case strings.HasSuffix(p, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(p, "*")):
			return true
		}
	}
	return false
}

func copyEndpoint(ep *Endpoint) *Endpoint {
	out := *ep
	out.Events = append([]string(nil), ep.Events...)
	return &out
}
