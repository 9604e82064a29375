package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/task"
)

// dequeueScript implements the canonical atomic dequeue (§4.3 "Redis"): pop
// the pending set's highest-scoring member, read its task body, mutate
// status+updatedAt in place, write it back, and re-index it into the
// processing set — all inside one script invocation so concurrent pollers
// across processes can never observe the same task twice.
const dequeueScript = `
local popped = redis.call('ZPOPMAX', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
local score = popped[2]
local taskKey = ARGV[1] .. ':task:' .. id
local raw = redis.call('GET', taskKey)
if not raw then
  return false
end
local t = cjson.decode(raw)
t['status'] = 1 -- task.StatusProcessing
t['updated_at'] = ARGV[2]
t['worker_id'] = ''
local encoded = cjson.encode(t)
redis.call('SET', taskKey, encoded)
redis.call('ZADD', KEYS[2], score, id)
return encoded
`

// Redis backs the engine with go-redis/v9: one key per task holding JSON,
// one sorted set per status scored by priority*10^6 − createdAtMillis
// (§6 Persistent formats). Descending score yields (priority desc, createdAt
// asc) only while two tasks' creation times differ by less than 10^6 ms
// (about 16.7 minutes) per step of priority difference; beyond that the
// older task scores higher. Dequeue atomicity across processes comes from dequeueScript;
// an external lock key is never required.
type Redis struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "queue-manager"
	}
	return &Redis{client: client, prefix: prefix, script: redis.NewScript(dequeueScript)}
}

func (r *Redis) taskKey(id string) string {
	return fmt.Sprintf("%s:task:%s", r.prefix, id)
}

func (r *Redis) queueKey(s task.Status) string {
	return fmt.Sprintf("%s:queue:%s", r.prefix, s.String())
}

func (r *Redis) Enqueue(ctx context.Context, t *task.Task) error {
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("storage: marshaling task: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.taskKey(t.ID), data, 0)
	pipe.ZAdd(ctx, r.queueKey(t.Status), redis.Z{Score: queueScore(t), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: enqueue task %s: %w", t.ID, err)
	}

	logger.Debug().Str("task_id", t.ID).Str("handler", t.Handler).Msg("task enqueued")
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (*task.Task, error) {
	now := time.Now().UTC()
	res, err := r.script.Run(ctx, r.client,
		[]string{r.queueKey(task.StatusPending), r.queueKey(task.StatusProcessing)},
		r.prefix, now.Format(time.RFC3339Nano),
	).Result()

	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: dequeue: %w", err)
	}

	encoded, ok := res.(string)
	if !ok {
		// Script returned false: either the pending set was empty or its
		// task body had already been removed out from under it.
		return nil, nil
	}

	t, jsonErr := task.FromJSON([]byte(encoded))
	if jsonErr != nil {
		return nil, fmt.Errorf("storage: decoding dequeued task: %w", jsonErr)
	}
	return t, nil
}

func (r *Redis) LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	var ids []string

	if status != nil {
		members, err := r.client.ZRevRange(ctx, r.queueKey(*status), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("storage: listing %s tasks: %w", status, err)
		}
		ids = members
	} else {
		seen := make(map[string]struct{})
		for _, s := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusDone, task.StatusFailed, task.StatusDeleted} {
			members, err := r.client.ZRevRange(ctx, r.queueKey(s), 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("storage: listing %s tasks: %w", s, err)
			}
			for _, id := range members {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}

	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if errors.Is(err, task.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Redis) GetTask(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get task %s: %w", id, err)
	}
	return task.FromJSON(data)
}

func (r *Redis) UpdateTask(ctx context.Context, t *task.Task) error {
	old, err := r.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}

	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("storage: marshaling task: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.taskKey(t.ID), data, 0)
	if old.Status != t.Status {
		pipe.ZRem(ctx, r.queueKey(old.Status), t.ID)
	}
	pipe.ZAdd(ctx, r.queueKey(t.Status), redis.Z{Score: queueScore(t), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: update task %s: %w", t.ID, err)
	}
	return nil
}

func (r *Redis) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	existing, err := r.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if hard {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, r.taskKey(id))
		for _, s := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusDone, task.StatusFailed, task.StatusDeleted} {
			pipe.ZRem(ctx, r.queueKey(s), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("storage: hard delete task %s: %w", id, err)
		}
		return existing, nil
	}

	sm := task.NewStateMachine(existing)
	if err := sm.SoftDelete(); err != nil {
		return nil, err
	}
	if err := r.UpdateTask(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Adapter = (*Redis)(nil)
