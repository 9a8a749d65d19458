package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey_DeterministicAndSensitiveToEpoch(t *testing.T) {
	k1 := IdempotencyKey("m-1", StepSTT, 0, []byte(`{"chunk_seq":1}`))
	k2 := IdempotencyKey("m-1", StepSTT, 0, []byte(`{"chunk_seq":1}`))
	assert.Equal(t, k1, k2)

	k3 := IdempotencyKey("m-1", StepSTT, 1, []byte(`{"chunk_seq":1}`))
	assert.NotEqual(t, k1, k3, "bumping epoch must invalidate the prior key")

	k4 := IdempotencyKey("m-1", StepEnhancer, 0, []byte(`{"chunk_seq":1}`))
	assert.NotEqual(t, k1, k4, "different step must produce a different key")
}

func TestEnvelope_Replay_PreservesDomainFieldsResetsAttempt(t *testing.T) {
	original := Envelope{
		JobID: "job-1", Queue: "q:stt", MeetingID: "m-1", Step: StepSTT,
		Attempt: 3, MaxAttempts: 5, Payload: []byte(`{}`), Epoch: 2,
		TraceID: "trace-1", SpanID: "span-1",
	}

	replayed := original.Replay("job-2", "span-2")

	assert.Equal(t, "job-2", replayed.JobID)
	assert.Equal(t, 1, replayed.Attempt)
	assert.Equal(t, "span-2", replayed.SpanID)
	assert.Equal(t, "span-1", replayed.ParentSpanID)
	assert.Equal(t, "trace-1", replayed.TraceID)
	assert.Equal(t, original.MeetingID, replayed.MeetingID)
	assert.Equal(t, original.Step, replayed.Step)
	assert.Equal(t, original.Epoch, replayed.Epoch)
	assert.Equal(t, original.Payload, replayed.Payload)
}

func TestStep_Queue(t *testing.T) {
	assert.Equal(t, "q:stt", StepSTT.Queue())
	assert.Equal(t, "q:delivery", StepDelivery.Queue())
}
