package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types
const (
	EventTenantCreated     = "tenant.created"
	EventTenantProvisioned = "tenant.provisioned"
	EventTenantDeactivated = "tenant.deactivated"
	EventCompanyCreated    = "tenant.company.created"
	EventCompanySwitched   = "tenant.company.switched"
)

// TenantCreatedEvent is published when a new tenant is created
type TenantCreatedEvent struct {
	EventType    string    `json:"event_type"`
	TenantID     string    `json:"tenant_id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	DatabaseName string    `json:"database_name"`
	FromPool     bool      `json:"from_pool"`
	Timestamp    time.Time `json:"timestamp"`
}

// TenantProvisionedEvent is published when a tenant database finishes
// creation and migration
type TenantProvisionedEvent struct {
	EventType    string    `json:"event_type"`
	TenantID     string    `json:"tenant_id"`
	Slug         string    `json:"slug"`
	DatabaseName string    `json:"database_name"`
	GroupsRun    int       `json:"groups_run"`
	Timestamp    time.Time `json:"timestamp"`
}

// CompanyCreatedEvent is published when a company is created inside a
// tenant database
type CompanyCreatedEvent struct {
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	CompanyID string    `json:"company_id"`
	LegalName string    `json:"legal_name"`
	Timestamp time.Time `json:"timestamp"`
}

// CompanySwitchedEvent is published when a user switches their working
// company; consumers drop company-tagged caches on it
type CompanySwitchedEvent struct {
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TenantDeactivatedEvent is published when a tenant is taken out of
// service; its database is retained
type TenantDeactivatedEvent struct {
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Timestamp time.Time `json:"timestamp"`
}

// Client wraps the NATS connection
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Config holds NATS connection configuration
type Config struct {
	URL string
}

// DefaultConfig returns the default NATS configuration
func DefaultConfig() *Config {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	return &Config{URL: url}
}

// NewClient creates a new NATS client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	log.Printf("[NATS] Connecting to %s", cfg.URL)

	opts := []nats.Option{
		nats.Name("tenancy-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[NATS] Disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// LimitsPolicy so the router, billing and notification consumers can
	// all read the same stream
	_, err = js.AddStream(&nats.StreamConfig{
		Name:        "TENANT_EVENTS",
		Description: "Stream for tenant lifecycle and company events",
		Subjects:    []string{"tenant.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      24 * time.Hour * 7,
		MaxMsgs:     100000,
		Discard:     nats.DiscardOld,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		log.Printf("[NATS] Warning: Could not create stream (may already exist): %v", err)
	}

	log.Printf("[NATS] Connected successfully to %s", cfg.URL)

	return &Client{conn: conn, js: js}, nil
}

// Close drains and closes the connection
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Drain()
	c.conn.Close()
}

// IsConnected reports the connection state
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// PublishTenantCreated publishes a tenant created event
func (c *Client) PublishTenantCreated(ctx context.Context, event *TenantCreatedEvent) error {
	event.EventType = EventTenantCreated
	return c.publish(ctx, EventTenantCreated, event, &event.Timestamp)
}

// PublishTenantProvisioned publishes a tenant provisioned event
func (c *Client) PublishTenantProvisioned(ctx context.Context, event *TenantProvisionedEvent) error {
	event.EventType = EventTenantProvisioned
	return c.publish(ctx, EventTenantProvisioned, event, &event.Timestamp)
}

// PublishTenantDeactivated publishes a tenant deactivated event
func (c *Client) PublishTenantDeactivated(ctx context.Context, event *TenantDeactivatedEvent) error {
	event.EventType = EventTenantDeactivated
	return c.publish(ctx, EventTenantDeactivated, event, &event.Timestamp)
}

// PublishCompanyCreated publishes a company created event
func (c *Client) PublishCompanyCreated(ctx context.Context, event *CompanyCreatedEvent) error {
	event.EventType = EventCompanyCreated
	return c.publish(ctx, EventCompanyCreated, event, &event.Timestamp)
}

// PublishCompanySwitched publishes a company switched event
func (c *Client) PublishCompanySwitched(ctx context.Context, event *CompanySwitchedEvent) error {
	event.EventType = EventCompanySwitched
	return c.publish(ctx, EventCompanySwitched, event, &event.Timestamp)
}

// publish marshals and publishes one event with bounded retry
func (c *Client) publish(ctx context.Context, subject string, event interface{}, ts *time.Time) error {
	if c == nil || c.js == nil {
		return fmt.Errorf("NATS client not initialized")
	}

	*ts = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err = c.js.Publish(subject, data)
		if err == nil {
			return nil
		}
		log.Printf("[NATS] Attempt %d/%d: Failed to publish %s event: %v", attempt, maxRetries, subject, err)
		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while retrying publish: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed to publish %s event after %d attempts: %w", subject, maxRetries, err)
}
