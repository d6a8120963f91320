// Package redisqueue implements backend.Queue on top of Redis, using
// github.com/redis/go-redis/v9. Grounded on the teacher's
// registry/result_stream.go: Options-driven construction around a
// *redis.Client, fmt.Errorf wrapping at the call site, errors.Is(err,
// redis.Nil) for "not found".
//
// Visibility is modeled with two sorted sets rather than a Redis List, so a
// crashed receiver's leases can be reaped by score instead of needing a
// separate dead-letter mechanism: ready holds jobIDs scored by when they
// become visible, inflight holds jobIDs scored by when their lease expires.
// Receive is a single Lua script so the ready->inflight move is atomic
// across concurrent dispatchers.
package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/ident"
)

// DefaultKeyPrefix namespaces this queue's keys within a shared Redis
// instance.
const DefaultKeyPrefix = "jobctl:queue"

// Options configures the queue.
type Options struct {
	Client    *redis.Client
	KeyPrefix string // defaults to DefaultKeyPrefix
}

// Queue implements backend.Queue.
type Queue struct {
	rdb         *redis.Client
	readyKey    string
	inflightKey string
	receiveLua  *redis.Script
}

// receiveScript atomically returns inflight members whose lease expired
// (score < ARGV[1]) to the ready set, then moves up to ARGV[3] ready members
// (score <= ARGV[1]) into the inflight set with score ARGV[2], and returns
// their IDs.
var receiveScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local now = ARGV[1]
local deadline = ARGV[2]
local max = tonumber(ARGV[3])
local expired = redis.call('ZRANGEBYSCORE', inflight, '-inf', '(' .. now)
for i = 1, #expired do
  redis.call('ZREM', inflight, expired[i])
  redis.call('ZADD', ready, now, expired[i])
end
local ids = redis.call('ZRANGEBYSCORE', ready, '-inf', now, 'LIMIT', 0, max)
for i = 1, #ids do
  redis.call('ZREM', ready, ids[i])
  redis.call('ZADD', inflight, deadline, ids[i])
end
return ids
`)

// New builds a Queue backed by client.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.KindValidation, "redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Queue{
		rdb:         opts.Client,
		readyKey:    prefix + ":ready",
		inflightKey: prefix + ":inflight",
		receiveLua:  receiveScript,
	}, nil
}

// Enqueue implements backend.Queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	jobID, err := ident.Validate(jobID, ident.KindRun)
	if err != nil {
		return errs.Wrap(errs.KindSecurity, err)
	}
	score := float64(time.Now().Unix())
	if err := q.rdb.ZAdd(ctx, q.readyKey, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("enqueue %s: %w", jobID, err))
	}
	return nil
}

// Receive implements backend.Queue. Long-polling is approximated with a
// short client-side sleep-and-retry loop rather than BRPOPLPUSH, since the
// ready set is scored by visibility time, not FIFO order. The loop gives up
// after longPollWait and returns no messages.
func (q *Queue) Receive(ctx context.Context, max int, visibilityTimeout time.Duration) ([]backend.Message, error) {
	const pollInterval = 250 * time.Millisecond
	const longPollWait = time.Second
	waitUntil := time.Now().Add(longPollWait)
	for {
		now := time.Now()
		deadline := now.Add(visibilityTimeout)
		res, err := q.receiveLua.Run(ctx, q.rdb, []string{q.readyKey, q.inflightKey},
			strconv.FormatInt(now.Unix(), 10), strconv.FormatInt(deadline.Unix(), 10), max).StringSlice()
		if err != nil && err != redis.Nil {
			return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("receive: %w", err))
		}
		if len(res) > 0 {
			msgs := make([]backend.Message, len(res))
			for i, jobID := range res {
				msgs[i] = backend.Message{JobID: jobID, ReceiptHandle: receiptHandle(jobID, deadline)}
			}
			return msgs, nil
		}
		if time.Now().After(waitUntil) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(pollInterval):
		}
	}
}

// Delete implements backend.Queue, only removing the member if its inflight
// score still matches the lease embedded in m's receipt handle — a stale
// handle from a lease that already expired and was redelivered is a no-op,
// not a deletion of the new lease.
func (q *Queue) Delete(ctx context.Context, m backend.Message) error {
	jobID, deadline, err := parseReceiptHandle(m.ReceiptHandle)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	if err := removeIfScoreMatches.Run(ctx, q.rdb, []string{q.inflightKey}, jobID, deadline).Err(); err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("delete %s: %w", jobID, err))
	}
	return nil
}

// ExtendVisibility implements backend.Queue, extending the lease only if the
// current inflight score still matches the handle's deadline.
func (q *Queue) ExtendVisibility(ctx context.Context, m backend.Message, extension time.Duration) error {
	jobID, deadline, err := parseReceiptHandle(m.ReceiptHandle)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	newDeadline := time.Unix(deadline, 0).Add(extension).Unix()
	if err := extendIfScoreMatches.Run(ctx, q.rdb, []string{q.inflightKey}, jobID, deadline, newDeadline).Err(); err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("extend visibility %s: %w", jobID, err))
	}
	return nil
}

var removeIfScoreMatches = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1])
end
return 1
`)

var extendIfScoreMatches = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
end
return 1
`)

func receiptHandle(jobID string, deadline time.Time) string {
	return fmt.Sprintf("%s|%d", jobID, deadline.Unix())
}

func parseReceiptHandle(handle string) (jobID string, deadline int64, err error) {
	parts := strings.SplitN(handle, "|", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed receipt handle %q", handle)
	}
	deadline, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed receipt handle %q: %w", handle, err)
	}
	return parts[0], deadline, nil
}
