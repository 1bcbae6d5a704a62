package mq

import (
	"context"
	"time"
)

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	PublishBatch(ctx context.Context, topic string, messages []*Message) error
}

// Consumer delivers messages of subscribed topics to handlers between Start and Stop.
type Consumer interface {
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message is one queued message. ID doubles as the partition key.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
	// Priority ranges over 0-255, 0 being the most urgent.
	Priority uint8 `json:"priority"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
	// Expiration drops the message once it is older than this. Zero keeps it forever.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string
	// PrefetchCount is the per-worker buffer. Default 1.
	PrefetchCount int
	// Concurrency is the number of handler goroutines. Default 1.
	Concurrency int
	// MaxRetries bounds redeliveries of a failing message. Default 3.
	MaxRetries int
	// RetryDelay is the pause before a redelivery. Default 1s.
	RetryDelay time.Duration
	// DeadLetterTopic receives messages that ran out of retries. Empty drops them.
	DeadLetterTopic string
	// MessageTTL applies to messages published without an Expiration.
	MessageTTL time.Duration
}

// SetDefaults fills zero fields with their defaults.
func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount == 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message stamped with the current time.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}
