package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/chainflow/types"
)

// maxCASRetries WATCH 冲突后的重试上限
// 冲突窗口只有一次 GET + EXEC，正常负载下一两次就能成功
const maxCASRetries = 64

// RedisStore 把熔断状态放进 Redis，多个 worker 进程共享
// 键带 TTL：资源长时间没有流量时状态自动回到闭合
// Update 用 WATCH/MULTI/EXEC 做乐观 CAS，并发写入不会丢计数
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, prefix: "chainflow:breaker:", ttl: ttl}
}

func (s *RedisStore) key(resource string) string { return s.prefix + resource }

func (s *RedisStore) Load(ctx context.Context, resource string) (Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key(resource)).Result()
	if err == redis.Nil {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, types.NewError(types.ErrStore, "breaker state load failed: "+err.Error()).WithCause(err)
	}

	return decodeSnapshot(raw), nil
}

// Update 乐观 CAS：WATCH 键、读取、执行 fn、在事务里写回
// 其它 worker 在中间写入时 EXEC 失败，重读重算
func (s *RedisStore) Update(ctx context.Context, resource string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, error) {
	key := s.key(resource)
	var out Snapshot

	attempt := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		var snap Snapshot
		switch {
		case err == redis.Nil:
			// 无状态即闭合
		case err != nil:
			return types.NewError(types.ErrStore, "breaker state load failed: "+err.Error()).WithCause(err)
		default:
			snap = decodeSnapshot(raw)
		}

		next, write := fn(snap)
		if !write {
			out = snap
			return nil
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return types.NewError(types.ErrInternalError, "breaker state marshal failed: "+err.Error()).WithCause(err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		}); err != nil {
			return err
		}
		out = next
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, attempt, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Snapshot{}, err
	}
	return Snapshot{}, types.NewError(types.ErrStore, "breaker state update failed: watch contention on "+resource).WithResource(resource)
}

func decodeSnapshot(raw string) Snapshot {
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		// 损坏的状态当作闭合处理，宁可放行也不永久熔断
		return Snapshot{}
	}
	return snap
}
