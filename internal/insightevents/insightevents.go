// Package insightevents provides a Kafka publisher for insight generation events.
package insightevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	OutcomeMiss    = "miss"
	OutcomeRefresh = "refresh"
)

// Event is emitted once per successful generation.
type Event struct {
	Key         string    `json:"key"`
	Region      string    `json:"region"`
	Brand       string    `json:"brand"`
	Date        string    `json:"date"`
	Mode        string    `json:"mode"`
	Outcome     string    `json:"outcome"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Publisher struct {
	topic   string
	logger  *slog.Logger
	prod    sarama.AsyncProducer
	mu      sync.RWMutex
	closed  bool
	events  chan Event
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("insightevents: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("insightevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer wraps an existing producer. The publisher owns it and
// closes it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		topic:   topic,
		logger:  logger,
		prod:    prod,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("insightevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Key),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("insightevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks the request path. Events are dropped when the queue
// is full or the publisher is closed.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("insightevents: close producer: %w", err)
	}
	return nil
}
