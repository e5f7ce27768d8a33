package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"autoblog/internal/jobs"
)

// Task points a worker at one persisted job. The job record holds the
// request; the task only carries routing data.
type Task struct {
	JobID      string    `json:"job_id"`
	Kind       jobs.Kind `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts,omitempty"`
}

// StreamQueue distributes tasks over a Redis stream consumer group. A task
// stays pending in the group until Ack.
type StreamQueue struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

type Message struct {
	ID   string
	Task Task
	// Reclaimed is set when the message was taken over from the pending
	// list rather than delivered fresh.
	Reclaimed bool
}

func NewStreamQueue(rdb *redis.Client, stream, group, consumer string, block time.Duration) *StreamQueue {
	return &StreamQueue{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

// EnsureGroup creates the consumer group at the start of the stream so tasks
// submitted before the first worker came up are still delivered.
func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	if q == nil {
		return errors.New("task queue is nil")
	}
	err := q.redis.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, task Task) (string, error) {
	if strings.TrimSpace(task.JobID) == "" {
		return "", errors.New("task has no job id")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode %s task %s: %w", task.Kind, task.JobID, err)
	}

	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("add task %s: %w", task.JobID, err)
	}
	return id, nil
}

// Read blocks up to the configured duration for new tasks.
func (q *StreamQueue) Read(ctx context.Context, count int64) ([]Message, error) {
	res, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks: %w", err)
	}

	out := make([]Message, 0)
	for _, s := range res {
		for _, m := range s.Messages {
			if msg, ok := decode(m); ok {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// Reclaim takes over tasks left pending by any consumer for at least minIdle,
// such as those a stopped worker never acknowledged.
func (q *StreamQueue) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := q.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reclaim tasks: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg, ok := decode(m)
		if !ok {
			// Undecodable entries would be reclaimed forever.
			_ = q.Ack(ctx, m.ID)
			continue
		}
		msg.Reclaimed = true
		out = append(out, msg)
	}
	return out, nil
}

func decode(m redis.XMessage) (Message, bool) {
	var b []byte
	switch v := m.Values["payload"].(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return Message{}, false
	}
	var task Task
	if err := json.Unmarshal(b, &task); err != nil {
		return Message{}, false
	}
	return Message{ID: m.ID, Task: task}, true
}

// Ack acknowledges and removes a finished task from the stream.
func (q *StreamQueue) Ack(ctx context.Context, messageID string) error {
	if err := q.redis.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", messageID, err)
	}
	if err := q.redis.XDel(ctx, q.stream, messageID).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", messageID, err)
	}
	return nil
}

func (q *StreamQueue) Consumer() string {
	return q.consumer
}
