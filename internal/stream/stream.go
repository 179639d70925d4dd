// Package stream scores transactions consumed from Kafka and publishes the
// verdicts to a second topic.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/metrics"
	"github.com/Muneeb-Masood/EC-ML/internal/risk"
)

const (
	pollTimeoutMs  = 100
	flushTimeoutMs = 5000

	// DefaultCommitEvery is how many messages are processed between offset commits.
	DefaultCommitEvery = 20
)

// Config describes the topics and consumer group.
type Config struct {
	Broker       string
	RequestTopic string
	VerdictTopic string
	GroupID      string
	CommitEvery  int
}

// Consumer is the subset of *kafka.Consumer used here.
type Consumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	Commit() ([]kafka.TopicPartition, error)
	Close() error
}

// Producer is the subset of *kafka.Producer used here.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// NewConsumer connects a consumer in cfg's group. Offsets are committed
// manually by the Processor.
func NewConsumer(cfg Config) (*kafka.Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Broker,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return c, nil
}

// NewProducer connects a producer to cfg's broker.
func NewProducer(cfg Config) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": cfg.Broker})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return p, nil
}

// Publisher writes verdicts to the verdict topic. It implements risk.Publisher.
type Publisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

// NewPublisher starts a goroutine reading delivery reports from p.
func NewPublisher(p Producer, topic string, logger *slog.Logger) *Publisher {
	pub := &Publisher{
		producer: p,
		topic:    topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go pub.deliveries()
	return pub
}

// Publish enqueues v keyed by its transaction ID.
func (p *Publisher) Publish(_ context.Context, v *risk.Verdict) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(v.TransactionID),
		Value:          payload,
		Headers:        []kafka.Header{{Key: "verdict_id", Value: []byte(v.ID)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("produce verdict: %w", err)
	}
	return nil
}

func (p *Publisher) deliveries() {
	defer close(p.done)
	for ev := range p.producer.Events() {
		m, ok := ev.(*kafka.Message)
		if !ok || m.TopicPartition.Error == nil {
			continue
		}
		metrics.StreamMessagesTotal.WithLabelValues("delivery_failed").Inc()
		p.logger.Error("verdict delivery failed",
			"transaction_id", string(m.Key),
			"error", m.TopicPartition.Error,
		)
	}
}

// Close flushes outstanding messages and closes the producer.
func (p *Publisher) Close() {
	if left := p.producer.Flush(flushTimeoutMs); left > 0 {
		p.logger.Warn("verdicts left unflushed", "count", left)
	}
	p.producer.Close()
	<-p.done
}

// Evaluator scores one request. *risk.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, req *risk.TransactionRequest, source risk.Source) *risk.Verdict
}

// Processor consumes scoring requests and publishes verdicts.
type Processor struct {
	consumer    Consumer
	publisher   risk.Publisher
	engine      Evaluator
	cfg         Config
	logger      *slog.Logger
	uncommitted int
}

// NewProcessor creates a processor reading cfg.RequestTopic.
func NewProcessor(c Consumer, pub risk.Publisher, engine Evaluator, cfg Config, logger *slog.Logger) *Processor {
	if cfg.CommitEvery <= 0 {
		cfg.CommitEvery = DefaultCommitEvery
	}
	return &Processor{
		consumer:  c,
		publisher: pub,
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled or the consumer reports a fatal error.
// Offsets of processed messages are committed before it returns.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.consumer.SubscribeTopics([]string{p.cfg.RequestTopic}, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.cfg.RequestTopic, err)
	}
	p.logger.Info("stream processor started",
		"topic", p.cfg.RequestTopic,
		"group", p.cfg.GroupID,
	)
	defer p.commit()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stream processor stopping")
			return nil
		default:
		}

		switch e := p.consumer.Poll(pollTimeoutMs).(type) {
		case nil:
		case *kafka.Message:
			p.handle(ctx, e)
			p.uncommitted++
			if p.uncommitted >= p.cfg.CommitEvery {
				p.commit()
			}
		case kafka.Error:
			if e.IsFatal() {
				return fmt.Errorf("kafka consumer: %w", e)
			}
			p.logger.Warn("kafka consumer error", "error", e)
		default:
			p.logger.Debug("ignored kafka event", "event", e.String())
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg *kafka.Message) {
	start := time.Now()

	var req risk.TransactionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		metrics.StreamMessagesTotal.WithLabelValues("invalid").Inc()
		p.logger.Warn("undecodable stream message",
			"offset", msg.TopicPartition.Offset.String(),
			"error", err,
		)
		return
	}
	ctx = logging.WithTransactionID(ctx, req.TransactionID)
	if errs := req.Validate(); len(errs) > 0 {
		metrics.StreamMessagesTotal.WithLabelValues("invalid").Inc()
		logging.L(ctx).Warn("invalid stream message", "reason", errs.Error())
		return
	}

	verdict := p.engine.Evaluate(ctx, &req, risk.SourceStream)
	if err := p.publisher.Publish(ctx, verdict); err != nil {
		metrics.StreamMessagesTotal.WithLabelValues("publish_failed").Inc()
		logging.L(ctx).Error("verdict publish failed", "error", err)
		return
	}
	metrics.StreamMessagesTotal.WithLabelValues("processed").Inc()
	logging.L(ctx).Debug("stream message processed", "duration_ms", time.Since(start).Milliseconds())
}

func (p *Processor) commit() {
	if p.uncommitted == 0 {
		return
	}
	if _, err := p.consumer.Commit(); err != nil {
		// Nothing stored yet is reported as an error by librdkafka.
		if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrNoOffset {
			p.uncommitted = 0
			return
		}
		p.logger.Warn("offset commit failed", "error", err)
		return
	}
	p.uncommitted = 0
}
