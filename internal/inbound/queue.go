package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	retryQueueKey = "helpdesk:inbound:retry"
	deadLetterKey = "helpdesk:inbound:dead"
)

// RetryEntry is a raw message whose ingestion failed after it left the mailbox.
type RetryEntry struct {
	UID       uint32    `json:"uid"`
	Raw       []byte    `json:"raw"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	LastError string    `json:"last_error"`
}

// RetryQueue keeps failed messages in Redis lists until they are ingested or
// moved to the dead-letter list.
type RetryQueue struct {
	client *redis.Client
}

// NewRetryQueue builds a queue on client.
func NewRetryQueue(client *redis.Client) *RetryQueue {
	return &RetryQueue{client: client}
}

// Push appends entry to the retry list.
func (q *RetryQueue) Push(ctx context.Context, entry RetryEntry) error {
	return q.push(ctx, retryQueueKey, entry)
}

// DeadLetter parks entry for manual inspection.
func (q *RetryQueue) DeadLetter(ctx context.Context, entry RetryEntry) error {
	return q.push(ctx, deadLetterKey, entry)
}

// Pop removes the oldest entry. It returns nil when the list is empty.
func (q *RetryQueue) Pop(ctx context.Context) (*RetryEntry, error) {
	payload, err := q.client.LPop(ctx, retryQueueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry RetryEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("decode retry entry: %w", err)
	}
	return &entry, nil
}

// Len returns the number of entries waiting for a retry.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, retryQueueKey).Result()
}

// DeadLetters returns the number of parked entries.
func (q *RetryQueue) DeadLetters(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, deadLetterKey).Result()
}

func (q *RetryQueue) push(ctx context.Context, key string, entry RetryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, key, payload).Err()
}
