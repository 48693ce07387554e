package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisState stores one operator's state under notify:<operator>:*.
// The unread list is a JSON array, the checkpoint an RFC 3339 timestamp and
// the acknowledged ids a hash of id -> creation time.
type RedisState struct {
	client     *redis.Client
	operatorID string
}

func NewRedisState(client *redis.Client, operatorID string) *RedisState {
	return &RedisState{client: client, operatorID: operatorID}
}

func (r *RedisState) key(name string) string {
	return fmt.Sprintf("notify:%s:%s", r.operatorID, name)
}

func (r *RedisState) Load(ctx context.Context) (PersistedState, error) {
	state := PersistedState{Acked: make(map[string]time.Time)}

	unread, err := r.client.Get(ctx, r.key("unread")).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return PersistedState{}, fmt.Errorf("redis get unread failed: %w", err)
	default:
		if err := json.Unmarshal(unread, &state.Unread); err != nil {
			return PersistedState{}, fmt.Errorf("unmarshal unread failed: %w", err)
		}
	}

	checkpoint, err := r.client.Get(ctx, r.key("checkpoint")).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return PersistedState{}, fmt.Errorf("redis get checkpoint failed: %w", err)
	default:
		t, err := time.Parse(time.RFC3339Nano, checkpoint)
		if err != nil {
			return PersistedState{}, fmt.Errorf("parse checkpoint failed: %w", err)
		}
		state.Checkpoint = t
	}

	acked, err := r.client.HGetAll(ctx, r.key("acked")).Result()
	if err != nil {
		return PersistedState{}, fmt.Errorf("redis get acked failed: %w", err)
	}
	for id, raw := range acked {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		state.Acked[id] = t
	}
	return state, nil
}

func (r *RedisState) Save(ctx context.Context, state PersistedState) error {
	unread, err := json.Marshal(state.Unread)
	if err != nil {
		return fmt.Errorf("marshal unread failed: %w", err)
	}
	if state.Unread == nil {
		unread = []byte("[]")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("unread"), unread, 0)
		if !state.Checkpoint.IsZero() {
			pipe.Set(ctx, r.key("checkpoint"), state.Checkpoint.UTC().Format(time.RFC3339Nano), 0)
		}
		pipe.Del(ctx, r.key("acked"))
		if len(state.Acked) > 0 {
			fields := make(map[string]interface{}, len(state.Acked))
			for id, t := range state.Acked {
				fields[id] = t.UTC().Format(time.RFC3339Nano)
			}
			pipe.HSet(ctx, r.key("acked"), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save notify state failed: %w", err)
	}
	return nil
}
