package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"attendly/internal/model"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// ReportCache caches attendance reports per class. Every class has a
// generation counter that is part of each key; invalidating a class bumps the
// counter so stale entries are never read again and simply expire.
type ReportCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewReportCache creates a cache whose entries live for ttl.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReportCache{client: client, prefix: "attendly:report", ttl: ttl}
}

func (c *ReportCache) genKey(classID string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, classID)
}

// Generation returns the current cache generation of classID. It must be read
// before the report data is loaded and passed to Get and Set.
func (c *ReportCache) Generation(ctx context.Context, classID string) (int64, error) {
	v, err := c.client.Get(ctx, c.genKey(classID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *ReportCache) key(classID string, gen int64, start, end string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", c.prefix, classID, gen, start, end)
}

// Get returns the report cached under generation gen. ok is false on a miss.
func (c *ReportCache) Get(ctx context.Context, classID string, gen int64, start, end string) (model.Report, bool, error) {
	raw, err := c.client.Get(ctx, c.key(classID, gen, start, end)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Report{}, false, nil
	}
	if err != nil {
		return model.Report{}, false, err
	}
	var rep model.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return model.Report{}, false, err
	}
	return rep, true, nil
}

// Set stores a report under generation gen. A gen that has since been
// invalidated yields an entry no reader will ever look up.
func (c *ReportCache) Set(ctx context.Context, gen int64, rep model.Report) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(rep.ClassID, gen, rep.StartDate, rep.EndDate), raw, c.ttl).Err()
}

// Invalidate makes every cached report of classID unreachable.
func (c *ReportCache) Invalidate(ctx context.Context, classID string) error {
	return c.client.Incr(ctx, c.genKey(classID)).Err()
}
