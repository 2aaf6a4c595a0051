package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var webhookWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// webhookWindowGrace keeps a window's counter alive briefly past its minute
// so a callback landing right on the boundary still counts against it.
const webhookWindowGrace = 5 * time.Second

// WebhookRateLimiter throttles PSP status callbacks per source using Redis.
// Windows are aligned to calendar minutes: the counter key embeds the UTC
// minute bucket, so every service instance agrees on where a window starts
// and when the budget resets.
type WebhookRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewWebhookRateLimiter(client redis.UniversalClient, prefix string) *WebhookRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "coffeetrace:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &WebhookRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// Consume counts one callback from the given source against the current
// minute's budget. It returns the count within the window and, when the
// budget is spent, the seconds until the next window opens. A nil limiter
// or non-positive limit disables the check entirely.
func (l *WebhookRateLimiter) Consume(ctx context.Context, source string, limitPerMinute int) (count int, retryAfterSeconds int, err error) {
	if l == nil || l.client == nil || limitPerMinute <= 0 {
		return 0, 0, nil
	}

	normalizedSource := strings.TrimSpace(source)
	if normalizedSource == "" {
		return 0, 0, nil
	}

	now := time.Now().UTC()
	bucket := now.Truncate(time.Minute)
	key := fmt.Sprintf("%s:psp_webhook:%s:%d", l.prefix, normalizedSource, bucket.Unix())
	expiryMs := bucket.Add(time.Minute + webhookWindowGrace).Sub(now).Milliseconds()

	current, err := webhookWindowScript.Run(ctx, l.client, []string{key}, expiryMs).Int64()
	if err != nil {
		return 0, 0, err
	}

	retryAfter := int(math.Ceil(bucket.Add(time.Minute).Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(current), retryAfter, nil
}
