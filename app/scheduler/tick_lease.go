package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CampaignLease keeps two ticks from working the same campaign at once
type CampaignLease interface {
	// Acquire returns ok=false when another holder owns the campaign. release is nil unless ok.
	Acquire(ctx context.Context, campaignID uint, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease shares leases across dialer processes
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	return &RedisLease{client: client, prefix: prefix}
}

func (l *RedisLease) key(campaignID uint) string {
	return l.prefix + "campaign_tick:" + strconv.FormatUint(uint64(campaignID), 10)
}

func (l *RedisLease) Acquire(ctx context.Context, campaignID uint, ttl time.Duration) (func(), bool, error) {
	key := l.key(campaignID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalLease is the single-process fallback used when Redis is disabled
type LocalLease struct {
	mu   sync.Mutex
	held map[uint]time.Time
	now  func() time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{held: make(map[uint]time.Time), now: time.Now}
}

func (l *LocalLease) Acquire(_ context.Context, campaignID uint, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[campaignID]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[campaignID] = exp

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[campaignID].Equal(exp) {
			delete(l.held, campaignID)
		}
	}
	return release, true, nil
}
