package emission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const dealLockPrefix = "facturador:emission:deal:"

// DefaultLockTTL bounds how long a crashed holder can block a deal.
const DefaultLockTTL = 30 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DealLock is a Redis SET NX lock keyed by deal id.
type DealLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewDealLock constructs the lock helper.
func NewDealLock(client *redis.Client, ttl time.Duration, logger *slog.Logger) *DealLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DealLock{client: client, ttl: ttl, logger: logger}
}

// Acquire takes the lock for the deal or fails with ErrDealBusy.
func (l *DealLock) Acquire(ctx context.Context, dealID string) (func(), error) {
	key := dealLockPrefix + dealID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("emission: acquire deal lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDealBusy, dealID)
	}
	return func() {
		// a fresh context so cancellation of the request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("release deal lock", slog.String("deal_id", dealID), slog.Any("error", err))
		}
	}, nil
}
