package mailbox

import (
	"context"
	"fmt"

	"emcipher/internal/codec"
	"emcipher/internal/model"
	redisSvc "emcipher/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisStore backs the mailbox with redis, for relays that want
	// pending envelopes to survive a process restart. Per conversation it
	// keeps an order list of msg_ids and a hash msg_id -> wire envelope;
	// exactly-once acknowledge rides on HDEL's removed-count.
	RedisStore struct {
		redisService *redisSvc.RedisService
	}
)

func NewRedisStore(redisService *redisSvc.RedisService) *RedisStore {
	return &RedisStore{
		redisService: redisService,
	}
}

func orderKey(convID string) string {
	return fmt.Sprintf("emcipher:mbox:%s:order", convID)
}

func dataKey(convID string) string {
	return fmt.Sprintf("emcipher:mbox:%s:data", convID)
}

func (s *RedisStore) Append(ctx context.Context, convID string, env *model.Envelope) error {
	data, err := codec.Encode(env)
	if err != nil {
		return err
	}

	// data first: an id in the order list with no hash entry is skipped
	// by List, the reverse would lose the envelope
	if err := s.redisService.HSet(ctx, dataKey(convID), env.MsgID, data); err != nil {
		return err
	}
	return s.redisService.RPush(ctx, orderKey(convID), env.MsgID)
}

func (s *RedisStore) List(ctx context.Context, convID string) ([]*model.Envelope, error) {
	ids, err := s.redisService.LRange(ctx, orderKey(convID))
	if err != nil {
		return nil, err
	}

	envs := make([]*model.Envelope, 0, len(ids))
	for _, id := range ids {
		v, err := s.redisService.HGet(ctx, dataKey(convID), id)
		if err == redis.Nil {
			// acknowledged between LRANGE and HGET
			continue
		}
		if err != nil {
			return nil, err
		}

		env, err := codec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *RedisStore) Acknowledge(ctx context.Context, convID, msgID string) error {
	removed, err := s.redisService.HDel(ctx, dataKey(convID), msgID)
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}

	// No delete-when-empty pass: a DEL racing a concurrent append would
	// wipe the appended envelope. Emptied keys disappear on their own
	// (redis drops empty lists and hashes), so there is nothing to clean.
	return s.redisService.LRem(ctx, orderKey(convID), 1, msgID)
}
