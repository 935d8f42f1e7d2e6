// Package queue is a small work queue on a Redis stream with a consumer
// group. Messages carry a book id and an attempt counter; a failed message
// is re-added with the counter bumped until MaxAttempts is reached.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketbook/internal/util"
)

// Job is one message handed to a Handler.
type Job struct {
	MessageID string
	BookID    string
	// Attempts counts deliveries including the current one.
	Attempts int
}

// Handler processes a job. A non-nil error schedules a retry.
type Handler func(context.Context, Job) error

// Config tunes the queue; zero values take the defaults noted per field.
type Config struct {
	Stream   string
	Group    string // default "workers"
	Consumer string // default a random id
	// MaxAttempts bounds deliveries per job (default 3).
	MaxAttempts int
	Block       time.Duration // default 5s
	ClaimIdle   time.Duration // default 30s
	RetryDelay  time.Duration // default 2s
	MaxLen      int64         // default 10000
	ReadCount   int64         // default 10
}

// RedisQueue implements a retrying job queue on a Redis stream.
type RedisQueue struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	maxAttempts int
	block       time.Duration
	claimIdle   time.Duration
	retryDelay  time.Duration
	maxLen      int64
	readCount   int64

	groupOnce sync.Once
	groupErr  error
}

// New builds a queue on client.
func New(client *redis.Client, cfg Config) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue: stream is required")
	}
	q := &RedisQueue{
		client:      client,
		stream:      stream,
		group:       strings.TrimSpace(cfg.Group),
		consumer:    strings.TrimSpace(cfg.Consumer),
		maxAttempts: cfg.MaxAttempts,
		block:       cfg.Block,
		claimIdle:   cfg.ClaimIdle,
		retryDelay:  cfg.RetryDelay,
		maxLen:      cfg.MaxLen,
		readCount:   cfg.ReadCount,
	}
	if q.group == "" {
		q.group = "workers"
	}
	if q.consumer == "" {
		q.consumer = util.NewID()
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 30 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	return q, nil
}

// Enqueue adds a job for bookID.
func (q *RedisQueue) Enqueue(ctx context.Context, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return errors.New("queue: book id is required")
	}
	if err := q.client.XAdd(ctx, q.addArgs(bookID, 0)).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Run consumes jobs with the given number of workers until ctx is done.
// It returns early only if the consumer group cannot be created.
func (q *RedisQueue) Run(ctx context.Context, workers int, handle Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(ctx, consumer, handle)
		}()
	}
	wg.Wait()
	return nil
}

// ensureGroup creates the group at the start of the stream so jobs added
// before the first Run are still delivered.
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("queue: create group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisQueue) consume(ctx context.Context, consumer string, handle Handler) {
	logger := util.LoggerFromContext(ctx).With("stream", q.stream, "consumer", consumer)
	for ctx.Err() == nil {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    q.readCount,
		}).Result()
		switch {
		case err == nil:
			for _, msg := range claimed {
				q.process(ctx, msg, handle)
			}
		case ctx.Err() == nil && !errors.Is(err, redis.Nil):
			logger.Warn("queue claim failed", "err", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue read failed", "err", err)
			q.sleep(ctx)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.process(ctx, msg, handle)
			}
		}
	}
}

// process runs handle for msg. Acks and requeues use a context detached
// from ctx so a job finished during shutdown is still settled.
func (q *RedisQueue) process(ctx context.Context, msg redis.XMessage, handle Handler) {
	settle := context.WithoutCancel(ctx)
	bookID, _ := msg.Values["book_id"].(string)
	if bookID == "" {
		q.ackAndDel(settle, msg.ID)
		return
	}
	prev := 0
	if raw, ok := msg.Values["attempts"].(string); ok {
		prev, _ = strconv.Atoi(raw)
	}
	job := Job{MessageID: msg.ID, BookID: bookID, Attempts: prev + 1}

	err := handle(ctx, job)
	if err == nil {
		q.ackAndDel(settle, msg.ID)
		return
	}
	logger := util.LoggerFromContext(ctx)
	if job.Attempts >= q.maxAttempts {
		logger.Warn("queue job dropped", "stream", q.stream, "book_id", bookID, "attempts", job.Attempts, "err", err)
		q.ackAndDel(settle, msg.ID)
		return
	}
	logger.Info("queue job retry", "stream", q.stream, "book_id", bookID, "attempts", job.Attempts, "err", err)
	q.sleep(ctx)
	if err := q.requeue(settle, msg.ID, bookID, job.Attempts); err != nil {
		// Left pending; XAutoClaim picks it up after claimIdle.
		logger.Warn("queue requeue failed", "stream", q.stream, "book_id", bookID, "err", err)
	}
}

func (q *RedisQueue) addArgs(bookID string, attempts int) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"book_id":  bookID,
			"attempts": strconv.Itoa(attempts),
		},
	}
}

func (q *RedisQueue) ackAndDel(ctx context.Context, msgID string) {
	_ = q.client.XAck(ctx, q.stream, q.group, msgID).Err()
	_ = q.client.XDel(ctx, q.stream, msgID).Err()
}

// requeue re-adds the job and settles the old message atomically.
func (q *RedisQueue) requeue(ctx context.Context, msgID, bookID string, attempts int) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(bookID, attempts))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) sleep(ctx context.Context) {
	t := time.NewTimer(q.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
