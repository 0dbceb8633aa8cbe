package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

// SlidingWindowConfig configures the attempt log.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository keeps one sorted set per rule and subject, keyed as
// <prefix>:<rule>:user:<id> or <prefix>:<rule>:ip:<addr>. Members are
// "<unix nanos>-<uuid>" so concurrent attempts never collapse.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs the store.
func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Window trims expired attempts and reads the count and oldest attempt in one transaction.
func (r *RateLimitRepository) Window(ctx context.Context, rule string, subject domain.RateLimitSubject, window time.Duration, now time.Time) (domain.RateLimitWindow, error) {
	if window <= 0 {
		return domain.RateLimitWindow{}, errors.New("window must be positive")
	}
	key, err := r.key(rule, subject)
	if err != nil {
		return domain.RateLimitWindow{}, err
	}

	from := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	to := strconv.FormatInt(now.UnixNano(), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.StringSliceCmd
	)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+from)
		count = pipe.ZCount(ctx, key, from, to)
		oldest = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: from, Max: to, Count: 1})
		return nil
	})
	if err != nil {
		return domain.RateLimitWindow{}, fmt.Errorf("read rate limit window: %w", err)
	}

	result := domain.RateLimitWindow{Count: int(count.Val())}
	if members := oldest.Val(); len(members) > 0 {
		at, err := attemptTime(members[0])
		if err != nil {
			return domain.RateLimitWindow{}, err
		}
		result.Oldest = at
	}
	return result, nil
}

// Record appends an attempt and refreshes the key TTL.
func (r *RateLimitRepository) Record(ctx context.Context, rule string, subject domain.RateLimitSubject, at time.Time) error {
	key, err := r.key(rule, subject)
	if err != nil {
		return err
	}

	nanos := at.UnixNano()
	member := redis.Z{Score: float64(nanos), Member: strconv.FormatInt(nanos, 10) + "-" + uuid.NewString()}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, member)
		if r.cfg.TTL > 0 {
			pipe.Expire(ctx, key, r.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record rate limit attempt: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) key(rule string, subject domain.RateLimitSubject) (string, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" || !subject.Valid() {
		return "", fmt.Errorf("%w: rate limit rule and subject are required", domain.ErrValidation)
	}
	key := rule + ":" + subject.String()
	if r.cfg.KeyPrefix == "" {
		return key, nil
	}
	return r.cfg.KeyPrefix + ":" + key, nil
}

func attemptTime(member string) (time.Time, error) {
	raw, _, _ := strings.Cut(member, "-")
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse rate limit attempt %q: %w", member, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
