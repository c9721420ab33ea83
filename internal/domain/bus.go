package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS or Kafka (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds

	// Kafka settings
	KafkaBrokers []string `json:"kafkaBrokers" yaml:"kafka_brokers"`
	KafkaGroupID string   `json:"kafkaGroupId" yaml:"kafka_group_id"`
}

// Standard topic names for the classification pipeline.
const (
	TopicMetricsIngested  = "churnguard.metrics.ingested"
	TopicRiskAssessed     = "churnguard.risk.assessed"
	TopicRiskAlert        = "churnguard.risk.alert"
	TopicSnapshotRecorded = "churnguard.snapshot.recorded"
)

// MetricsIngestedEvent is published after period metrics are stored.
type MetricsIngestedEvent struct {
	AccountID   string      `json:"accountId"`
	Granularity Granularity `json:"granularity"`
	PeriodKeys  []string    `json:"periodKeys"`
}

// RiskAssessedEvent carries the fresh classification of one account.
type RiskAssessedEvent struct {
	AccountID     string          `json:"accountId"`
	Granularity   Granularity     `json:"granularity"`
	Settled       *RiskAssessment `json:"settled,omitempty"`
	Trending      *RiskAssessment `json:"trending,omitempty"`
	PreviousLevel RiskLevel       `json:"previousLevel,omitempty"`
}
