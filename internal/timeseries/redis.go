package timeseries

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const modelSetKey = "metrics:models"

// RedisStore keeps each (model, series) stream in a sorted set keyed
// "metrics:{modelID}:{series}", scored by timestamp in milliseconds.
// Members encode "unixNano:value" so identical timestamps collapse to the
// last write.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given "host:port" address and
// verifies connectivity.
func NewRedisStore(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("timeseries: failed to connect to Redis at %s: %w", addr, err)
	}

	log.Printf("timeseries: connected to Redis at %s", addr)
	return &RedisStore{client: client}, nil
}

// Close shuts down the Redis client connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		log.Println("timeseries: closing Redis connection")
		return s.client.Close()
	}
	return nil
}

func seriesKey(modelID string, series Series) string {
	return fmt.Sprintf("metrics:%s:%s", modelID, series)
}

// Append writes the points in a single pipeline and trims anything older
// than the retention window.
func (s *RedisStore) Append(ctx context.Context, modelID string, series Series, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	key := seriesKey(modelID, series)
	members := make([]redis.Z, 0, len(points))
	for _, p := range points {
		members = append(members, redis.Z{
			Score:  float64(p.Timestamp.UnixMilli()),
			Member: fmt.Sprintf("%d:%s", p.Timestamp.UnixNano(), strconv.FormatFloat(p.Value, 'g', -1, 64)),
		})
	}

	cutoff := time.Now().Add(-Retention).UnixMilli()
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, Retention+time.Hour)
	pipe.SAdd(ctx, modelSetKey, modelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("timeseries: append %q: %w", key, err)
	}
	return nil
}

// Range reads the points with timestamps in [from, to], ordered by score.
func (s *RedisStore) Range(ctx context.Context, modelID string, series Series, from, to time.Time) ([]Point, error) {
	key := seriesKey(modelID, series)
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("timeseries: range %q: %w", key, err)
	}

	points := make([]Point, 0, len(members))
	for _, m := range members {
		p, ok := decodeMember(m)
		if !ok {
			log.Printf("timeseries: skipping malformed member %q in %s", m, key)
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// ModelIDs returns every model with any recorded series.
func (s *RedisStore) ModelIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, modelSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("timeseries: list models: %w", err)
	}
	return ids, nil
}

func decodeMember(m string) (Point, bool) {
	sep := strings.IndexByte(m, ':')
	if sep <= 0 {
		return Point{}, false
	}
	nanos, err := strconv.ParseInt(m[:sep], 10, 64)
	if err != nil {
		return Point{}, false
	}
	value, err := strconv.ParseFloat(m[sep+1:], 64)
	if err != nil {
		return Point{}, false
	}
	return Point{Timestamp: time.Unix(0, nanos), Value: value}, true
}

// rateLimitLua atomically increments the counter and sets TTL only on the
// first request in the window. This prevents the TTL from being extended by
// subsequent requests, which would cause callers to be blocked longer than
// the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RedisRateLimiter performs fixed-window rate limit checks against Redis.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter wraps an existing Redis client.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Allow returns true if the request is allowed (under limit), false if
// rate-limited. The window TTL is set once on the first request.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)
	windowSeconds := int(window / time.Second)

	result, err := rateLimitLua.Run(ctx, l.client, []string{rateLimitKey}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("timeseries: rate limit check: %w", err)
	}
	return result <= maxRequests, nil
}

// Client returns the underlying Redis client for advanced operations.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
