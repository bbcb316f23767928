package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"unix-task-manager/internal/models"
	"unix-task-manager/internal/registry"
)

// Redis is a registry.Store keeping one hash per task plus an
// insertion-order list.
type Redis struct {
	client     *redis.Client
	taskPrefix string
	orderKey   string
}

var _ registry.Store = (*Redis)(nil)

// NewRedis wraps an existing client. The caller keeps ownership of client
// and closes it after the store is done.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:     client,
		taskPrefix: "task:",
		orderKey:   "tasks:order",
	}
}

func (s *Redis) taskKey(id int) string {
	return s.taskPrefix + strconv.Itoa(id)
}

// Close is a no-op; the client is shared with other components such as the
// rate limiter and is closed by its owner.
func (s *Redis) Close() {}

// Ping checks connectivity for /healthz.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Insert(ctx context.Context, t models.Task) error {
	res, err := insertScript.Run(ctx, s.client, []string{s.taskKey(t.ID), s.orderKey},
		t.ID, t.Name, t.Priority, t.Owner, t.Command, string(t.Status),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt)).Int()
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if res == 0 {
		return registry.ErrDuplicateID
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, id int) (models.Task, error) {
	fields, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	if len(fields) == 0 {
		return models.Task{}, registry.ErrNotFound
	}
	return decodeTask(fields)
}

// ListAll returns tasks in insertion order.
func (s *Redis) ListAll(ctx context.Context) ([]models.Task, error) {
	ids, err := s.client.LRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read task order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, s.taskPrefix+id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(cmds))
	for _, c := range cmds {
		fields := c.Val()
		if len(fields) == 0 {
			continue
		}
		task, err := decodeTask(fields)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// UpdateStatus rewrites status and updated_at in one script call, only when
// the stored status still equals from.
func (s *Redis) UpdateStatus(ctx context.Context, id int, from, to models.Status, now time.Time) (models.Task, error) {
	res, err := updateStatusScript.Run(ctx, s.client, []string{s.taskKey(id)}, string(from), string(to), formatTime(now)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, registry.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("update task status: %w", err)
	}
	if len(res) == 1 && res[0] == staleReply {
		return models.Task{}, registry.ErrStaleStatus
	}
	if len(res)%2 != 0 {
		return models.Task{}, fmt.Errorf("update task status: odd field list length %d", len(res))
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeTask(fields)
}

func (s *Redis) IDs(ctx context.Context) (map[int]struct{}, error) {
	raw, err := s.client.LRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read task ids: %w", err)
	}
	ids := make(map[int]struct{}, len(raw))
	for _, v := range raw {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse task id %q: %w", v, err)
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTask(f map[string]string) (models.Task, error) {
	var (
		t   models.Task
		err error
	)
	if t.ID, err = strconv.Atoi(f["id"]); err != nil {
		return models.Task{}, fmt.Errorf("decode task id: %w", err)
	}
	if t.Priority, err = strconv.Atoi(f["priority"]); err != nil {
		return models.Task{}, fmt.Errorf("decode task %d priority: %w", t.ID, err)
	}
	if t.Status, err = models.ParseStatus(f["status"]); err != nil {
		return models.Task{}, fmt.Errorf("decode task %d: %w", t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, f["created_at"]); err != nil {
		return models.Task{}, fmt.Errorf("decode task %d created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, f["updated_at"]); err != nil {
		return models.Task{}, fmt.Errorf("decode task %d updated_at: %w", t.ID, err)
	}
	t.Name = f["name"]
	t.Owner = f["owner"]
	t.Command = f["command"]
	return t, nil
}

var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'name', ARGV[2], 'priority', ARGV[3], 'owner', ARGV[4],
  'command', ARGV[5], 'status', ARGV[6], 'created_at', ARGV[7], 'updated_at', ARGV[8])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

const staleReply = "stale"

var updateStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return {'` + staleReply + `'}
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)
