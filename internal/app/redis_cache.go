/**
 * @description
 * Redis-backed helpers around the core: the advisory cache of each user's
 * active institution and the fixed-window rate limiter on QR token scans.
 * Both are optional; a service booted without Redis behaves identically
 * except that active-institution lookups always fall back to the default
 * association and scans are not rate limited.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrScanRateLimited is returned when a user exceeds the QR scan budget.
var ErrScanRateLimited = errors.New("too many scan attempts; retry later")

// ActiveInstitutionCache stores the active institution id per user. The cache
// is advisory only; the association set in Postgres stays the source of truth
// and the cache is rebuilt from the default association on a miss.
type ActiveInstitutionCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewActiveInstitutionCache(client redis.UniversalClient, prefix string, ttl time.Duration) *ActiveInstitutionCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "sfd:active_institution"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &ActiveInstitutionCache{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (c *ActiveInstitutionCache) key(userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", c.prefix, userID)
}

// Active returns the cached active institution for the user; the second
// return is false on a miss.
func (c *ActiveInstitutionCache) Active(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	if c == nil || c.client == nil {
		return uuid.Nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt cached institution id %q: %w", raw, err)
	}
	return id, true, nil
}

// SetActive writes the user's active institution.
func (c *ActiveInstitutionCache) SetActive(ctx context.Context, userID, institutionID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.key(userID), institutionID.String(), c.ttl).Err()
}

var scanRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisScanRateLimiter implements a distributed fixed-window limit on QR
// token scans per user.
type RedisScanRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisScanRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisScanRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "sfd:scan_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RedisScanRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

// Consume counts one scan attempt against the user's window and reports
// whether the attempt is allowed.
func (r *RedisScanRateLimiter) Consume(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r == nil || r.client == nil {
		return true, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", r.prefix, userID)
	rawResult, err := scanRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, err
	}
	count, ok := rawResult.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis limiter response type: %T", rawResult)
	}
	return count <= int64(r.limit), nil
}

// consumeScanBudget applies the scan rate limit when a limiter is wired. A
// limiter transport failure lets the scan through.
func (s *Service) consumeScanBudget(ctx context.Context, userID uuid.UUID) error {
	if s.scanLimiter == nil {
		return nil
	}
	allowed, err := s.scanLimiter.Consume(ctx, userID)
	if err != nil {
		log.Printf("level=warn component=qr_channel msg=\"scan rate limiter unavailable\" user_id=%s err=%v", userID, err)
		return nil
	}
	if !allowed {
		return ErrScanRateLimited
	}
	return nil
}
