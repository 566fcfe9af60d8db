package kafka

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

var ErrProducerClosed = errors.New(errors.ErrCodeServiceUnavailable, "producer closed")

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is what the worker and the dead-letter path publish through.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Producer publishes messages through a kafka.Writer.
type Producer struct {
	writer          WriterInterface
	maxMessageBytes int
	logger          logging.Logger
	metrics         *prometheus.AppMetrics
	closed          atomic.Bool
}

// NewProducer builds the writer from cfg. The topic is taken from each
// message, so one producer serves every topic.
func NewProducer(cfg config.KafkaConfig, logger logging.Logger, metrics *prometheus.AppMetrics) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		Compression:  compression,
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second},
	}
	return NewProducerWithWriter(writer, cfg.MaxMessageBytes, logger, metrics), nil
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w WriterInterface, maxMessageBytes int, logger logging.Logger, metrics *prometheus.AppMetrics) *Producer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = 1 << 20
	}
	return &Producer{writer: w, maxMessageBytes: maxMessageBytes, logger: logger.Named("kafka.producer"), metrics: metrics}
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return kafka.Compression(0), nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, errors.New(errors.ErrCodeValidation, "unknown compression codec").WithDetail(name)
}

// requiredAcks maps the configured acks; only 1 relaxes the default of all
// in-sync replicas.
func requiredAcks(n int) kafka.RequiredAcks {
	if n == 1 {
		return kafka.RequireOne
	}
	return kafka.RequireAll
}

// Publish writes one message synchronously.
func (p *Producer) Publish(ctx context.Context, msg *common.ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if msg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "topic required")
	}
	if len(msg.Value) == 0 {
		return errors.New(errors.ErrCodeValidation, "value required")
	}
	if len(msg.Value) > p.maxMessageBytes {
		return errors.New(errors.ErrCodeValidation, "message too large").WithDetail(msg.Topic)
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, toKafkaMessage(msg))
	prometheus.RecordMessage(p.metrics, msg.Topic, time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagePublishFailed, "publish failed").WithDetail(msg.Topic)
	}
	p.logger.Debug("Message published",
		logging.String("topic", msg.Topic),
		logging.Duration("latency", time.Since(start)))
	return nil
}

// PublishBatch writes msgs in one call and reports per-message failures.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*common.ProducerMessage) (*common.BatchPublishResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "messages empty")
	}

	kMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		kMsgs[i] = toKafkaMessage(msg)
	}

	result := &common.BatchPublishResult{}
	err := p.writer.WriteMessages(ctx, kMsgs...)
	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
		result.Succeeded = len(msgs)
	case stderrors.As(err, &writeErrs):
		for i, we := range writeErrs {
			if we != nil {
				result.Failed++
				result.Errors = append(result.Errors, common.BatchItemError{Index: i, Topic: msgs[i].Topic, Error: we})
			} else {
				result.Succeeded++
			}
		}
	default:
		result.Failed = len(msgs)
		result.Errors = append(result.Errors, common.BatchItemError{Index: -1, Error: err})
	}

	p.logger.Info("Batch published",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

// Close is idempotent.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("Kafka producer closed")
	return err
}

func toKafkaMessage(msg *common.ProducerMessage) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    ts,
	}
}
