package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/config"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/analytics"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/delivery"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/enhancer"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/stt"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

// Pipeline holds every dependency the four stage handlers need and doubles
// as the dispatcher between queued (broker) and inline execution, per
// spec.md §4.4's "inline mode ... must preserve the same artifact outputs."
type Pipeline struct {
	Meetings      *store.MeetingStore
	Idempotency   *store.IdempotencyStore
	Blobs         blob.Store
	Broker        *broker.Broker
	Transcriber   stt.Transcriber
	Enhancer      enhancer.Enhancer
	Analyzer      analytics.Analyzer
	ReportSender  delivery.ReportSender
	AlertNotifier delivery.AlertNotifier
	QueueMode     config.QueueMode
	MaxAttempts   int
}

// Dispatch routes a stage invocation either onto its broker queue (default)
// or straight through the corresponding handler (QUEUE_MODE=inline),
// skipping C1 entirely. Inline failures surface to the caller verbatim,
// with no retry, per spec.md §4.4.
func (p *Pipeline) Dispatch(ctx context.Context, step jobs.Step, meetingID string, epoch int64, payload any, traceID, parentSpanID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pipeline: marshal %s payload: %w", step, err)
	}
	if traceID == "" {
		traceID = jobs.NewTraceID()
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	env := jobs.Envelope{
		JobID:        uuid.New().String(),
		Queue:        step.Queue(),
		MeetingID:    meetingID,
		Step:         step,
		Attempt:      1,
		MaxAttempts:  maxAttempts,
		Payload:      data,
		Epoch:        epoch,
		TraceID:      traceID,
		SpanID:       jobs.NewSpanID(),
		ParentSpanID: parentSpanID,
	}

	if p.QueueMode == config.QueueModeInline {
		result := p.handle(ctx, step, env)
		if result.Outcome != worker.OutcomeSuccess {
			return fmt.Errorf("pipeline: inline %s failed: %s", step, result.Reason)
		}
		return nil
	}

	return p.Broker.Enqueue(ctx, env)
}

// handle dispatches one envelope to its stage's Handle method for inline
// dispatch; the worker pools call those methods directly through the
// Handler adapters below.
func (p *Pipeline) handle(ctx context.Context, step jobs.Step, env jobs.Envelope) worker.Result {
	switch step {
	case jobs.StepSTT:
		return p.HandleSTT(ctx, env)
	case jobs.StepEnhancer:
		return p.HandleEnhancer(ctx, env)
	case jobs.StepAnalytics:
		return p.HandleAnalytics(ctx, env)
	case jobs.StepDelivery:
		return p.HandleDelivery(ctx, env)
	default:
		return worker.Result{Outcome: worker.OutcomeDLQ, Reason: fmt.Sprintf("unknown step %q", step)}
	}
}

// STTHandler, EnhancerHandler, AnalyticsHandler, DeliveryHandler adapt
// Pipeline's methods to worker.Handler, one per queue (spec.md §4.3:
// "a worker is parametrized by (queue, handler, concurrency, ...)").
func (p *Pipeline) STTHandler() worker.Handler {
	return worker.HandlerFunc(p.HandleSTT)
}

func (p *Pipeline) EnhancerHandler() worker.Handler {
	return worker.HandlerFunc(p.HandleEnhancer)
}

func (p *Pipeline) AnalyticsHandler() worker.Handler {
	return worker.HandlerFunc(p.HandleAnalytics)
}

func (p *Pipeline) DeliveryHandler() worker.Handler {
	return worker.HandlerFunc(p.HandleDelivery)
}

// claim checks the idempotency store before a handler produces its side
// effect. claimed=false with a nil error means the key was already processed and
// the handler should report success without repeating work (spec.md §4.2).
func (p *Pipeline) claim(ctx context.Context, env jobs.Envelope) (key string, claimed bool, err error) {
	key = env.Key()
	err = p.Idempotency.Claim(ctx, key, env.MeetingID, string(env.Step), env.Epoch)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return key, false, nil
	}
	if err != nil {
		return key, false, fmt.Errorf("pipeline: claim %s: %w", key, err)
	}
	return key, true, nil
}
