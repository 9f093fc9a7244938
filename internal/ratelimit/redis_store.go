package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pixelmint-ledger/internal/models"
)

// recordScript applies the same first/reset/increment rules as GormStore in
// one atomic step. Times are unix milliseconds.
var recordScript = redis.NewScript(`
local first = tonumber(redis.call("HGET", KEYS[1], "first"))
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if first == nil or now - first >= window then
	redis.call("HSET", KEYS[1], "count", 1, "first", now, "last", now)
else
	redis.call("HINCRBY", KEYS[1], "count", 1)
	redis.call("HSET", KEYS[1], "last", now)
end
redis.call("PEXPIRE", KEYS[1], window * 2)
return 1
`)

// RedisStore shares records between instances through hashes keyed by IP.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "reg_ip:"}
}

func (s *RedisStore) Get(ctx context.Context, ip string) (*models.IPRegistration, error) {
	fields, err := s.rdb.HGetAll(ctx, s.prefix+ip).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("bad count for %s: %w", ip, err)
	}
	first, err := strconv.ParseInt(fields["first"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad first for %s: %w", ip, err)
	}
	last, err := strconv.ParseInt(fields["last"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad last for %s: %w", ip, err)
	}
	return &models.IPRegistration{
		IPAddress:           ip,
		RegistrationCount:   count,
		FirstRegistrationAt: time.UnixMilli(first).UTC(),
		LastRegistrationAt:  time.UnixMilli(last).UTC(),
	}, nil
}

func (s *RedisStore) Record(ctx context.Context, ip string, now time.Time, window time.Duration) error {
	return recordScript.Run(ctx, s.rdb, []string{s.prefix + ip}, now.UnixMilli(), window.Milliseconds()).Err()
}
