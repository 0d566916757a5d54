package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock shared by every process talking to the same Redis. While
// the lock is held a watchdog keeps extending the key, so TTL only bounds how
// long a crashed holder keeps it.
type Redis struct {
	Client       redis.UniversalClient
	TTL          time.Duration
	PollInterval time.Duration
	Prefix       string
	Logger       zerolog.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{
		Client:       client,
		TTL:          ttl,
		PollInterval: 250 * time.Millisecond,
		Prefix:       "prospect:lock:",
		Logger:       zerolog.Nop(),
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	k := r.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.Client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.keepAlive(k, token, ttl, done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
			// release even if the caller's ctx was cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.Client, []string{k}, token).Err()
		})
	}, nil
}

// keepAlive extends the key every third of its TTL until done is closed or
// the key no longer carries token.
func (r *Redis) keepAlive(key, token string, ttl time.Duration, done <-chan struct{}) {
	interval := max(ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := refreshScript.Run(ctx, r.Client, []string{key}, token, ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			// transient; the next tick retries while the key is still alive
			r.Logger.Warn().Err(err).Str("key", key).Msg("lock refresh failed")
			continue
		}
		if n == 0 {
			r.Logger.Error().Str("key", key).Msg("lock lost before release")
			return
		}
	}
}
