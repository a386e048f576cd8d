package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/communityos/auth-service/internal/core/port"
)

const defaultAbusePrefix = "abuse"

// AbuseRepository tracks failed-login pressure per hashed identifier using
// plain Redis keys:
//
//	abuse:user:{hash}         failure counter
//	abuse:captcha:{hash}      captcha-required flag
//	abuse:last_attempt:{hash} unix timestamp of the last failure
type AbuseRepository struct {
	client *red.Client
	prefix string
}

var _ port.AbuseStore = (*AbuseRepository)(nil)

// NewAbuseRepository constructs an abuse store with the provided Redis client and key prefix.
func NewAbuseRepository(client *red.Client, keyPrefix string) *AbuseRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultAbusePrefix
	}

	return &AbuseRepository{client: client, prefix: prefix}
}

// IncrementFailures bumps the failure counter and refreshes its TTL. INCR and
// EXPIRE run in one pipeline so the counter never outlives its window.
func (r *AbuseRepository) IncrementFailures(ctx context.Context, identifierHash string, window time.Duration) (int64, error) {
	key := r.key("user", identifierHash)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis increment failures: %w", err)
	}

	return incr.Val(), nil
}

// FailureCount returns the current failure counter, zero when absent.
func (r *AbuseRepository) FailureCount(ctx context.Context, identifierHash string) (int64, error) {
	value, err := r.client.Get(ctx, r.key("user", identifierHash)).Result()
	if err == red.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failure count: %w", err)
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse failure count: %w", err)
	}

	return count, nil
}

// SetCaptchaRequired flags the identifier for captcha on subsequent attempts.
func (r *AbuseRepository) SetCaptchaRequired(ctx context.Context, identifierHash string, window time.Duration) error {
	if err := r.client.Set(ctx, r.key("captcha", identifierHash), "1", window).Err(); err != nil {
		return fmt.Errorf("redis set captcha flag: %w", err)
	}
	return nil
}

// CaptchaRequired reports whether the captcha flag is set for the identifier.
func (r *AbuseRepository) CaptchaRequired(ctx context.Context, identifierHash string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.key("captcha", identifierHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check captcha flag: %w", err)
	}
	return exists > 0, nil
}

// TouchLastAttempt records the time of the latest failed attempt.
func (r *AbuseRepository) TouchLastAttempt(ctx context.Context, identifierHash string, at time.Time, window time.Duration) error {
	value := strconv.FormatInt(at.UTC().Unix(), 10)
	if err := r.client.Set(ctx, r.key("last_attempt", identifierHash), value, window).Err(); err != nil {
		return fmt.Errorf("redis touch last attempt: %w", err)
	}
	return nil
}

// LastAttempt returns the time of the latest failed attempt, if any.
func (r *AbuseRepository) LastAttempt(ctx context.Context, identifierHash string) (time.Time, bool, error) {
	value, err := r.client.Get(ctx, r.key("last_attempt", identifierHash)).Result()
	if err == red.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get last attempt: %w", err)
	}

	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last attempt: %w", err)
	}

	return time.Unix(ts, 0).UTC(), true, nil
}

// Reset clears all abuse state for the identifier.
func (r *AbuseRepository) Reset(ctx context.Context, identifierHash string) error {
	keys := []string{
		r.key("user", identifierHash),
		r.key("captcha", identifierHash),
		r.key("last_attempt", identifierHash),
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis reset abuse state: %w", err)
	}

	return nil
}

func (r *AbuseRepository) key(kind, identifierHash string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, identifierHash)
}
