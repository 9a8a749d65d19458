// Package broker implements the queue fabric (C1): named FIFO queues over
// Redis, each with a DLQ and a pending set for in-flight jobs, providing
// at-least-once delivery via visibility timeouts.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
)

// ErrEmpty is returned by Reserve when no job is currently available.
var ErrEmpty = errors.New("broker: queue empty")

// Broker is the Redis-backed queue fabric. One Broker instance serves every
// named queue; queue names are namespaced as ordinary Redis keys.
type Broker struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

func queueKey(queue string) string   { return "bq:" + queue }
func pendingKey(queue string) string { return "bq:" + queue + ":pending" }
func delayedKey(queue string) string { return "bq:" + queue + ":delayed" }
func dlqKey(queue string) string     { return "bq:" + queue + ":dlq" }
func jobKey(jobID string) string     { return "bj:" + jobID }
func dlqReasonKey(jobID string) string { return "bjr:" + jobID }

// Enqueue pushes a job onto its queue's tail (FIFO) and stores the envelope.
func (b *Broker) Enqueue(ctx context.Context, env jobs.Envelope) error {
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(env.JobID), data, 0)
	pipe.RPush(ctx, queueKey(env.Queue), env.JobID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("broker: enqueue %s: %w", env.JobID, err)
	}
	return nil
}

// Reserve reclaims any expired pending/delayed jobs for this queue, then
// pops and reserves the next available job for visibilityTimeout.
// Returns ErrEmpty if nothing is available.
func (b *Broker) Reserve(ctx context.Context, queue string, visibilityTimeout time.Duration) (*jobs.Envelope, error) {
	if err := b.reclaim(ctx, queue); err != nil {
		return nil, err
	}

	jobID, err := b.rdb.LPop(ctx, queueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("broker: reserve from %s: %w", queue, err)
	}

	env, err := b.loadEnvelope(ctx, jobID)
	if err != nil {
		return nil, err
	}

	expiresAt := float64(time.Now().Add(visibilityTimeout).Unix())
	if err := b.rdb.ZAdd(ctx, pendingKey(queue), redis.Z{Score: expiresAt, Member: jobID}).Err(); err != nil {
		return nil, fmt.Errorf("broker: mark pending %s: %w", jobID, err)
	}

	return env, nil
}

// Ack commits a successfully processed job: removed from pending, envelope deleted.
func (b *Broker) Ack(ctx context.Context, queue, jobID string) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, pendingKey(queue), jobID)
	pipe.Del(ctx, jobKey(jobID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("broker: ack %s: %w", jobID, err)
	}
	return nil
}

// Nack requeues a job for retry with the given backoff delay, or routes it
// to the DLQ with reason if attempt has reached max_attempts.
func (b *Broker) Nack(ctx context.Context, queue, jobID, reason string, delay time.Duration) error {
	env, err := b.loadEnvelope(ctx, jobID)
	if err != nil {
		return err
	}

	if err := b.rdb.ZRem(ctx, pendingKey(queue), jobID).Err(); err != nil {
		return fmt.Errorf("broker: nack %s: remove pending: %w", jobID, err)
	}

	next := env.NextAttempt()
	if next.Attempt > next.MaxAttempts {
		return b.dlqPush(ctx, queue, jobID, reason)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("broker: marshal retry envelope: %w", err)
	}
	if err := b.rdb.Set(ctx, jobKey(jobID), data, 0).Err(); err != nil {
		return fmt.Errorf("broker: store retry envelope: %w", err)
	}

	if delay <= 0 {
		return b.rdb.RPush(ctx, queueKey(queue), jobID).Err()
	}
	readyAt := float64(time.Now().Add(delay).Unix())
	return b.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{Score: readyAt, Member: jobID}).Err()
}

// DLQPush routes a job directly to the DLQ, e.g. on a non-retryable failure
// that should never be attempted again.
func (b *Broker) DLQPush(ctx context.Context, queue, jobID, reason string) error {
	if err := b.rdb.ZRem(ctx, pendingKey(queue), jobID).Err(); err != nil {
		return fmt.Errorf("broker: dlq_push %s: remove pending: %w", jobID, err)
	}
	return b.dlqPush(ctx, queue, jobID, reason)
}

func (b *Broker) dlqPush(ctx context.Context, queue, jobID, reason string) error {
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, dlqReasonKey(jobID), reason, 0)
	pipe.RPush(ctx, dlqKey(queue), jobID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("broker: dlq_push %s: %w", jobID, err)
	}
	return nil
}

// Depth returns the number of jobs awaiting reservation.
func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	return b.rdb.LLen(ctx, queueKey(queue)).Result()
}

// PendingDepth returns the number of reserved-but-unacked jobs.
func (b *Broker) PendingDepth(ctx context.Context, queue string) (int64, error) {
	return b.rdb.ZCard(ctx, pendingKey(queue)).Result()
}

// DLQDepth returns the number of jobs parked in this queue's DLQ.
func (b *Broker) DLQDepth(ctx context.Context, queue string) (int64, error) {
	return b.rdb.LLen(ctx, dlqKey(queue)).Result()
}

// DLQReason returns the reason string an admin replay will want to display.
func (b *Broker) DLQReason(ctx context.Context, jobID string) (string, error) {
	v, err := b.rdb.Get(ctx, dlqReasonKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// DLQPop removes and returns the oldest DLQ entry for replay by the admin surface.
func (b *Broker) DLQPop(ctx context.Context, queue string) (*jobs.Envelope, error) {
	jobID, err := b.rdb.LPop(ctx, dlqKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("broker: dlq_pop %s: %w", queue, err)
	}
	return b.loadEnvelope(ctx, jobID)
}

func (b *Broker) loadEnvelope(ctx context.Context, jobID string) (*jobs.Envelope, error) {
	data, err := b.rdb.Get(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: load envelope %s: %w", jobID, err)
	}
	var env jobs.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("broker: unmarshal envelope %s: %w", jobID, err)
	}
	return &env, nil
}

// reclaim moves expired pending jobs (visibility timeout elapsed without an
// ack — the at-least-once redelivery path) and due delayed jobs (nack
// backoff elapsed) back onto the queue's main list.
func (b *Broker) reclaim(ctx context.Context, queue string) error {
	now := float64(time.Now().Unix())

	expired, err := b.rdb.ZRangeByScore(ctx, pendingKey(queue), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("broker: scan expired pending: %w", err)
	}
	for _, jobID := range expired {
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, pendingKey(queue), jobID)
		pipe.RPush(ctx, queueKey(queue), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("broker: reclaim expired %s: %w", jobID, err)
		}
	}

	due, err := b.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("broker: scan due delayed: %w", err)
	}
	for _, jobID := range due {
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), jobID)
		pipe.RPush(ctx, queueKey(queue), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("broker: reclaim delayed %s: %w", jobID, err)
		}
	}

	return nil
}

// Ping probes broker connectivity for GET /v1/admin/queues/health.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
