// Package worker consumes evaluation jobs from Kafka and publishes their
// outcomes.
package worker

import (
	"context"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// SourceName identifies the worker in outgoing envelopes.
const SourceName = "mbpip-worker"

// EvaluationJob is the payload of an evaluation.requested event.
type EvaluationJob struct {
	JobID    string                `json:"job_id"`
	Requests []*evaluation.Request `json:"requests"`
}

// EvaluationOutcome is the payload of evaluation.completed and
// evaluation.failed events. Exactly one of Results and Error is set.
type EvaluationOutcome struct {
	JobID       string               `json:"job_id"`
	Results     []*evaluation.Result `json:"results,omitempty"`
	Error       *OutcomeError        `json:"error,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// EvaluationHandler turns request messages into outcome messages.
type EvaluationHandler struct {
	evaluator   evaluation.Service
	publisher   kafka.Publisher
	resultTopic string
	logger      logging.Logger
	now         func() time.Time
}

func NewEvaluationHandler(evaluator evaluation.Service, publisher kafka.Publisher, resultTopic string, logger logging.Logger) *EvaluationHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EvaluationHandler{
		evaluator:   evaluator,
		publisher:   publisher,
		resultTopic: resultTopic,
		logger:      logger.Named("worker"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one message. Jobs rejected by the evaluator are answered
// with a failed outcome and are not retried. Malformed messages and
// infrastructure failures are returned to the consumer, which retries or
// dead-letters them.
func (h *EvaluationHandler) Handle(ctx context.Context, msg *common.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventEvaluationRequested {
		return errors.New(errors.ErrCodeMessageInvalid, "unexpected event type").WithDetail(env.EventType)
	}
	var job EvaluationJob
	if err := env.DecodePayload(&job); err != nil {
		return err
	}
	if job.JobID == "" {
		job.JobID = env.EventID
	}
	log := h.logger.With(logging.String("job_id", job.JobID))

	out := &EvaluationOutcome{JobID: job.JobID}
	eventType := kafka.EventEvaluationCompleted
	results, err := h.evaluator.EvaluateBatch(ctx, job.Requests)
	switch {
	case err == nil:
		out.Results = results
	case kafka.Permanent(err):
		eventType = kafka.EventEvaluationFailed
		out.Error = toOutcomeError(err)
		log.Warn("Evaluation job rejected", logging.Err(err))
	default:
		return err
	}
	out.CompletedAt = h.now()

	reply, err := kafka.NewEventEnvelope(eventType, SourceName, out)
	if err != nil {
		return err
	}
	reply.TraceID = env.TraceID
	pm, err := reply.ToMessage(h.resultTopic, []byte(job.JobID))
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, pm); err != nil {
		return err
	}
	log.Debug("Evaluation job finished", logging.String("event_type", eventType), logging.Int("requests", len(job.Requests)))
	return nil
}

func toOutcomeError(err error) *OutcomeError {
	var app *errors.AppError
	if errors.As(err, &app) {
		return &OutcomeError{Code: string(app.Code), Message: app.Message, Detail: app.Detail}
	}
	return &OutcomeError{Code: string(errors.ErrCodeInternal), Message: err.Error()}
}
