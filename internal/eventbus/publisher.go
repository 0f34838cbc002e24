package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Announcement kinds, used as routing keys on the topic exchange.
const (
	KindStarted = "testrun.started"
	KindAborted = "testrun.aborted"
)

// SuiteSummary names one suite inside an announcement.
type SuiteSummary struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Announcement is the message published when a test run changes state. The
// execution orchestrator picks these up to schedule or stop the run.
type Announcement struct {
	Kind                   string         `json:"event"`
	TestRunID              string         `json:"test_run_id"`
	ArtifactID             string         `json:"artifact_id,omitempty"`
	ArtifactIdentity       string         `json:"artifact_identity,omitempty"`
	Suites                 []SuiteSummary `json:"suites,omitempty"`
	IUTProvider            string         `json:"iut_provider,omitempty"`
	ExecutionSpaceProvider string         `json:"execution_space_provider,omitempty"`
	LogAreaProvider        string         `json:"log_area_provider,omitempty"`
}

// Publisher announces test-run state changes.
type Publisher interface {
	Publish(ctx context.Context, a Announcement) error
	Close() error
}

// AMQPPublisher publishes announcements to a RabbitMQ topic exchange with
// persistent delivery.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher creates a publisher for the given broker URL and
// exchange. Call Connect before publishing.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
	}
}

// Connect dials the broker and declares the topic exchange.
func (p *AMQPPublisher) Connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connecting to message bus: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declaring exchange %q: %w", p.exchange, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()

	p.logger.Info("connected to message bus", "exchange", p.exchange)
	return nil
}

// Publish sends the announcement using its kind as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, a Announcement) error {
	if a.Kind == "" || a.TestRunID == "" {
		return errors.New("announcement needs a kind and a test run id")
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}

	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil {
		return errors.New("publisher is not connected")
	}

	err = ch.PublishWithContext(ctx, p.exchange, a.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID(a),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", a.Kind, err)
	}

	p.logger.Info("announcement published",
		"event", a.Kind, "test_run_id", a.TestRunID, "exchange", p.exchange)
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// NopPublisher drops announcements. Used when no message bus is configured
// so the HTTP flow works without a broker.
type NopPublisher struct {
	logger *slog.Logger
}

// NewNopPublisher creates a publisher that drops everything.
func NewNopPublisher(logger *slog.Logger) *NopPublisher {
	return &NopPublisher{logger: logger}
}

// Publish logs and drops the announcement.
func (p *NopPublisher) Publish(ctx context.Context, a Announcement) error {
	p.logger.Debug("message bus disabled, dropping announcement",
		"event", a.Kind, "test_run_id", a.TestRunID)
	return nil
}

// Close is a no-op.
func (p *NopPublisher) Close() error { return nil }

// messageID derives a stable broker message ID from the run and event kind,
// so redelivered announcements can be deduplicated downstream.
func messageID(a Announcement) string {
	return a.TestRunID + "." + a.Kind
}
