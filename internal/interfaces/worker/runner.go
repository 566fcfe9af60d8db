package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Consumer is the part of kafka.Consumer the runner drives.
type Consumer interface {
	Subscribe(topic string, handler common.MessageHandler)
	Start(ctx context.Context) error
	Stats() kafka.ConsumerStats
	Close() error
}

// Runner runs a group of consumers sharing one handler. Each consumer joins
// the same consumer group, so partitions are spread across them.
type Runner struct {
	consumers []Consumer
	topic     string
	handler   *EvaluationHandler
	logger    logging.Logger
}

func NewRunner(consumers []Consumer, topic string, handler *EvaluationHandler, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{consumers: consumers, topic: topic, handler: handler, logger: logger.Named("runner")}
}

// Run starts every consumer and blocks until ctx is done, then closes them
// within shutdownTimeout.
func (r *Runner) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	for _, c := range r.consumers {
		c.Subscribe(r.topic, r.handler.Handle)
		if err := c.Start(ctx); err != nil {
			r.closeAll(shutdownTimeout)
			return err
		}
	}
	r.logger.Info("Worker started", logging.String("topic", r.topic), logging.Int("consumers", len(r.consumers)))

	<-ctx.Done()
	return r.closeAll(shutdownTimeout)
}

func (r *Runner) closeAll(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for _, c := range r.consumers {
			c := c
			g.Go(c.Close)
		}
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		s := r.Stats()
		r.logger.Info("Worker stopped",
			logging.Int64("processed", s.Processed),
			logging.Int64("failed", s.Failed),
			logging.Int64("dead_lettered", s.DeadLettered))
		return err
	case <-time.After(timeout):
		r.logger.Warn("Shutdown timeout exceeded", logging.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}

// Stats sums the counters of every consumer.
func (r *Runner) Stats() kafka.ConsumerStats {
	var total kafka.ConsumerStats
	for _, c := range r.consumers {
		s := c.Stats()
		total.Consumed += s.Consumed
		total.Processed += s.Processed
		total.Failed += s.Failed
		total.Retried += s.Retried
		total.DeadLettered += s.DeadLettered
	}
	return total
}
