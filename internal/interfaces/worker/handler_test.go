package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

type mockEvaluator struct{ mock.Mock }

func (m *mockEvaluator) Evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Result, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*evaluation.Result)
	return r, args.Error(1)
}

func (m *mockEvaluator) EvaluateBatch(ctx context.Context, reqs []*evaluation.Request) ([]*evaluation.Result, error) {
	args := m.Called(ctx, reqs)
	r, _ := args.Get(0).([]*evaluation.Result)
	return r, args.Error(1)
}

func (m *mockEvaluator) GradCheck(ctx context.Context, req *evaluation.GradCheckRequest) (*evaluation.GradCheckReport, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*evaluation.GradCheckReport)
	return r, args.Error(1)
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func jobMessage(t *testing.T, eventType string, job EvaluationJob) *common.Message {
	t.Helper()
	env, err := kafka.NewEventEnvelope(eventType, "test", job)
	require.NoError(t, err)
	env.TraceID = "trace-1"
	pm, err := env.ToMessage("requests", nil)
	require.NoError(t, err)
	return &common.Message{Topic: pm.Topic, Value: pm.Value, Headers: pm.Headers}
}

func decodeOutcome(t *testing.T, pm *common.ProducerMessage) (*kafka.EventEnvelope, EvaluationOutcome) {
	t.Helper()
	env, err := kafka.MessageToEventEnvelope(&common.Message{Value: pm.Value})
	require.NoError(t, err)
	var out EvaluationOutcome
	require.NoError(t, env.DecodePayload(&out))
	return env, out
}

func TestHandle_Completed(t *testing.T) {
	ev := new(mockEvaluator)
	pub := &capturePublisher{}
	h := NewEvaluationHandler(ev, pub, "results", nil)

	reqs := []*evaluation.Request{{Variables: []float64{1}}, {Variables: []float64{2}}}
	ev.On("EvaluateBatch", mock.Anything, mock.MatchedBy(func(r []*evaluation.Request) bool { return len(r) == 2 })).
		Return([]*evaluation.Result{{Energy: 1.5}, {Energy: -2}}, nil)

	require.NoError(t, h.Handle(context.Background(), jobMessage(t, kafka.EventEvaluationRequested, EvaluationJob{JobID: "job-1", Requests: reqs})))

	require.Len(t, pub.msgs, 1)
	pm := pub.msgs[0]
	assert.Equal(t, "results", pm.Topic)
	assert.Equal(t, []byte("job-1"), pm.Key)
	env, out := decodeOutcome(t, pm)
	assert.Equal(t, kafka.EventEvaluationCompleted, env.EventType)
	assert.Equal(t, SourceName, env.Source)
	assert.Equal(t, "trace-1", env.TraceID)
	assert.Equal(t, "job-1", out.JobID)
	require.Len(t, out.Results, 2)
	assert.Equal(t, -2.0, out.Results[1].Energy)
	assert.Nil(t, out.Error)
	ev.AssertExpectations(t)
}

func TestHandle_RejectedJobPublishesFailure(t *testing.T) {
	ev := new(mockEvaluator)
	pub := &capturePublisher{}
	h := NewEvaluationHandler(ev, pub, "results", nil)

	ev.On("EvaluateBatch", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeVariableCountMismatch, "wrong number of variables").WithDetail("request 0"))

	msg := jobMessage(t, kafka.EventEvaluationRequested, EvaluationJob{Requests: []*evaluation.Request{{}}})
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, pub.msgs, 1)
	env, out := decodeOutcome(t, pub.msgs[0])
	assert.Equal(t, kafka.EventEvaluationFailed, env.EventType)
	assert.NotEmpty(t, out.JobID, "job id falls back to the event id")
	require.NotNil(t, out.Error)
	assert.Equal(t, string(errors.ErrCodeVariableCountMismatch), out.Error.Code)
	assert.Equal(t, "request 0", out.Error.Detail)
}

func TestHandle_TransientErrorIsReturned(t *testing.T) {
	ev := new(mockEvaluator)
	pub := &capturePublisher{}
	h := NewEvaluationHandler(ev, pub, "results", nil)

	ev.On("EvaluateBatch", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeServiceUnavailable, "redis down"))

	err := h.Handle(context.Background(), jobMessage(t, kafka.EventEvaluationRequested, EvaluationJob{JobID: "j"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
	assert.False(t, kafka.Permanent(err))
	assert.Empty(t, pub.msgs)
}

func TestHandle_InvalidMessages(t *testing.T) {
	h := NewEvaluationHandler(new(mockEvaluator), &capturePublisher{}, "results", nil)

	err := h.Handle(context.Background(), &common.Message{Value: []byte("not json")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageInvalid))
	assert.True(t, kafka.Permanent(err))

	err = h.Handle(context.Background(), jobMessage(t, kafka.EventEvaluationCompleted, EvaluationJob{JobID: "j"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageInvalid))
}

func TestHandle_PublishFailure(t *testing.T) {
	ev := new(mockEvaluator)
	pub := &capturePublisher{err: errors.New(errors.ErrCodeMessagePublishFailed, "broker down")}
	h := NewEvaluationHandler(ev, pub, "results", nil)
	ev.On("EvaluateBatch", mock.Anything, mock.Anything).Return([]*evaluation.Result{{}}, nil)

	err := h.Handle(context.Background(), jobMessage(t, kafka.EventEvaluationRequested, EvaluationJob{JobID: "j"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessagePublishFailed))
}

func TestToOutcomeError_PlainError(t *testing.T) {
	out := toOutcomeError(context.Canceled)
	assert.Equal(t, string(errors.ErrCodeInternal), out.Code)
	assert.Equal(t, "context canceled", out.Message)
}

// ─────────────────────────────────────────────────────────────────────────────
// Runner
// ─────────────────────────────────────────────────────────────────────────────

type fakeConsumer struct {
	mu       sync.Mutex
	topic    string
	handler  common.MessageHandler
	started  bool
	closed   bool
	startErr error
	stats    kafka.ConsumerStats
}

func (f *fakeConsumer) Subscribe(topic string, h common.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic, f.handler = topic, h
}

func (f *fakeConsumer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeConsumer) Stats() kafka.ConsumerStats { return f.stats }

func (f *fakeConsumer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRunner_RunAndShutdown(t *testing.T) {
	a := &fakeConsumer{stats: kafka.ConsumerStats{Processed: 2}}
	b := &fakeConsumer{stats: kafka.ConsumerStats{Processed: 3, DeadLettered: 1}}
	h := NewEvaluationHandler(new(mockEvaluator), &capturePublisher{}, "results", nil)
	r := NewRunner([]Consumer{a, b}, "requests", h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Second) }()

	assert.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.started
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, "requests", b.topic)
	assert.NotNil(t, b.handler)

	s := r.Stats()
	assert.Equal(t, int64(5), s.Processed)
	assert.Equal(t, int64(1), s.DeadLettered)
}

func TestRunner_StartFailureClosesConsumers(t *testing.T) {
	a := &fakeConsumer{}
	b := &fakeConsumer{startErr: kafka.ErrAlreadyRunning}
	h := NewEvaluationHandler(new(mockEvaluator), &capturePublisher{}, "results", nil)
	r := NewRunner([]Consumer{a, b}, "requests", h, nil)

	err := r.Run(context.Background(), time.Second)
	assert.ErrorIs(t, err, kafka.ErrAlreadyRunning)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestEvaluationJob_JSONShape(t *testing.T) {
	data, err := json.Marshal(EvaluationJob{JobID: "j", Requests: []*evaluation.Request{{Fragment: "x", Gradient: true}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"j","requests":[{"fragment":"x","gradient":true}]}`, string(data))
}
