package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ariebrainware/tcm-diagnosis/model"
)

const (
	statusKeyPrefix  = "consultation_status:"
	DefaultStatusTTL = 10 * time.Minute
)

// CachedStatus is what the poll surface needs without touching the database.
type CachedStatus struct {
	Number        string       `json:"number"`
	Status        model.Status `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// StatusCache fronts status polls with Redis. Completed statuses never
// change, so they are also kept in a process-local tier. A nil Redis client
// or any Redis error makes the cache a miss and callers read the database.
type StatusCache struct {
	rdb   redis.Cmdable
	local *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewStatusCache(rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{
		rdb:   rdb,
		local: cache.New(time.Hour, 10*time.Minute),
		ttl:   ttl,
		log:   logger,
	}
}

func statusKey(id uint) string {
	return statusKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

func (c *StatusCache) Get(ctx context.Context, id uint) (CachedStatus, bool) {
	if c == nil {
		return CachedStatus{}, false
	}
	key := statusKey(id)
	if v, ok := c.local.Get(key); ok {
		if cs, ok := v.(CachedStatus); ok {
			return cs, true
		}
	}
	if isNilCmdable(c.rdb) {
		return CachedStatus{}, false
	}

	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("status cache read failed")
		}
		return CachedStatus{}, false
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(raw), &cs); err != nil || !cs.Status.Valid() {
		return CachedStatus{}, false
	}
	if cs.Status == model.StatusCompleted {
		c.local.SetDefault(key, cs)
	}
	return cs, true
}

func (c *StatusCache) Set(ctx context.Context, id uint, cs CachedStatus) {
	if c == nil {
		return
	}
	key := statusKey(id)
	if cs.Status == model.StatusCompleted {
		c.local.SetDefault(key, cs)
	} else {
		c.local.Delete(key)
	}
	if isNilCmdable(c.rdb) {
		return
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("status cache write failed")
	}
}

func isNilCmdable(rdb redis.Cmdable) bool {
	if rdb == nil {
		return true
	}
	if client, ok := rdb.(*redis.Client); ok && client == nil {
		return true
	}
	return false
}
