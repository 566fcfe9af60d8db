package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrNoHandler      = errors.New(errors.ErrCodeMessageConsumeFailed, "no handler for topic")
)

// RetryConfig defines the retry and dead-letter policy of a consumer.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consumer did since it started.
type ConsumerStats struct {
	Consumed     int64
	Processed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
}

// Consumer fetches messages of a consumer group and dispatches them to the
// handler registered for their topic. Offsets are committed after the
// handler succeeds or the message has been dead-lettered.
type Consumer struct {
	reader     ReaderInterface
	retry      RetryConfig
	deadLetter Publisher
	logger     logging.Logger
	metrics    *prometheus.AppMetrics

	handlers map[string]common.MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	consumed, processed, failed, retried, deadLettered atomic.Int64
}

// NewConsumer reads topics as member of cfg.GroupID. deadLetter may be nil,
// in which case exhausted messages are logged and skipped.
func NewConsumer(cfg config.KafkaConfig, topics []string, deadLetter Publisher, logger logging.Logger, metrics *prometheus.AppMetrics) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "group id required")
	}
	if len(topics) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "at least one topic required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       topics,
		MinBytes:          1,
		MaxBytes:          cfg.MaxMessageBytes * 4,
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		StartOffset:       kafka.FirstOffset,
		Dialer:            &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	})
	retry := RetryConfig{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}
	if deadLetter != nil {
		retry.DeadLetterTopic = cfg.DLQTopic
	}
	return NewConsumerWithReader(reader, retry, deadLetter, logger, metrics), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, retry RetryConfig, deadLetter Publisher, logger logging.Logger, metrics *prometheus.AppMetrics) *Consumer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if retry.RetryBackoff <= 0 {
		retry.RetryBackoff = time.Second
	}
	if retry.MaxRetryBackoff <= 0 {
		retry.MaxRetryBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:     r,
		retry:      retry,
		deadLetter: deadLetter,
		logger:     logger.Named("kafka.consumer"),
		metrics:    metrics,
		handlers:   make(map[string]common.MessageHandler),
	}
}

// Subscribe registers handler for topic, replacing any previous one.
func (c *Consumer) Subscribe(topic string, handler common.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
}

// Start launches the consume loop. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("Kafka consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("FetchMessage error", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.consumed.Add(1)
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	msg := fromKafkaMessage(m)

	c.mu.RLock()
	handler, ok := c.handlers[m.Topic]
	c.mu.RUnlock()

	start := time.Now()
	var err error
	if ok {
		err = c.processMessage(ctx, msg, handler)
	} else {
		err = c.deadLetterOrDrop(ctx, msg, ErrNoHandler.WithDetail(m.Topic), 0)
	}
	prometheus.RecordMessage(c.metrics, m.Topic, time.Since(start), err)

	if err != nil {
		// Canceled mid-retry: leave the offset uncommitted so the message is
		// redelivered to the next member.
		if ctx.Err() != nil {
			return
		}
		c.failed.Add(1)
	} else {
		c.processed.Add(1)
	}
	if cerr := c.reader.CommitMessages(ctx, m); cerr != nil && ctx.Err() == nil {
		c.logger.Error("CommitMessages failed", logging.Err(cerr), logging.Int64("offset", m.Offset))
	}
}

// processMessage runs handler with exponential backoff. Errors that no
// retry can fix (malformed messages and other client errors) go to the
// dead-letter topic at once. It returns an error only when the message was
// not processed; a dead-lettered message counts as handled.
func (c *Consumer) processMessage(ctx context.Context, msg *common.Message, handler common.MessageHandler) error {
	err := handler(ctx, msg)
	if err == nil {
		return nil
	}

	attempts := 1
	backoff := c.retry.RetryBackoff
	for i := 0; i < c.retry.MaxRetries && !Permanent(err); i++ {
		c.retried.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		attempts++
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		backoff *= 2
		if backoff > c.retry.MaxRetryBackoff {
			backoff = c.retry.MaxRetryBackoff
		}
	}

	c.logger.Error("Message processing failed",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("attempts", attempts),
		logging.Err(err))
	return c.deadLetterOrDrop(ctx, msg, err, attempts)
}

func (c *Consumer) deadLetterOrDrop(ctx context.Context, msg *common.Message, cause error, attempts int) error {
	if c.deadLetter == nil || c.retry.DeadLetterTopic == "" {
		return cause
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderError] = cause.Error()
	headers[HeaderAttempts] = strconv.Itoa(attempts)

	dl := &common.ProducerMessage{
		Topic:   c.retry.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := c.deadLetter.Publish(ctx, dl); err != nil {
		c.logger.Error("Failed to send to dead letter queue", logging.Err(err))
		return cause
	}
	c.deadLettered.Add(1)
	return nil
}

// Permanent reports whether err is a client-side failure that retrying
// cannot fix.
func Permanent(err error) bool {
	return errors.IsValidation(err)
}

func fromKafkaMessage(m kafka.Message) *common.Message {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:     c.consumed.Load(),
		Processed:    c.processed.Load(),
		Failed:       c.failed.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}

// Close stops the loop, waits for the in-flight message and closes the
// reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return c.reader.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	err := c.reader.Close()
	c.logger.Info("Kafka consumer closed", logging.Int64("consumed", c.consumed.Load()))
	return err
}
