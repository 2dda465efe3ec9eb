// Package lock provides distributed per-resource locks on Redis. Workers
// take locks on file paths before writing so two agents never edit the same
// file concurrently.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

// Lock is a held lease on one resource. The Owner token proves ownership on
// release and extend.
type Lock struct {
	Resource   string
	Owner      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Release and extend must compare ownership and mutate in one server-side
// step; a read-then-delete from the client would race another acquirer.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// Service implements resource locking over Redis.
type Service struct {
	client         *redis.Client
	logger         *logging.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithInitialBackoff overrides the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.initialBackoff = d
	}
}

// WithMaxBackoff caps the retry delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.maxBackoff = d
	}
}

// NewService creates a lock service.
func NewService(client *redis.Client, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Service{
		client:         client,
		logger:         logger,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(resource string) string {
	return "lock:" + resource
}

// Acquire takes the lock on resource, retrying with exponential backoff
// until a deadline of now+ttl. The returned Lock carries the owner token.
func (s *Service) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	owner := uuid.NewString()
	key := lockKey(resource)
	deadline := time.Now().Add(ttl)
	backoff := s.initialBackoff

	for time.Now().Before(deadline) {
		ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			return nil, core.ErrNetwork(core.CodeInfraUnavailable,
				"lock backend unavailable").WithCause(err)
		}
		if ok {
			return &Lock{
				Resource:   resource,
				Owner:      owner,
				AcquiredAt: time.Now().UTC(),
				TTL:        ttl,
			}, nil
		}

		sleep := backoff
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}

	return nil, core.ErrTimeout(core.CodeLockTimeout,
		fmt.Sprintf("could not acquire lock on %s within %s", resource, ttl))
}

// Release frees the lock if lock.Owner still holds it. Returns false when
// the stored owner differs (expired and re-acquired, or never ours).
func (s *Service) Release(ctx context.Context, lock *Lock) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKey(lock.Resource)}, lock.Owner).Int()
	if err != nil {
		return false, core.ErrNetwork(core.CodeInfraUnavailable,
			"lock backend unavailable").WithCause(err)
	}

	if n != 1 {
		s.logger.Warn("lock ownership violation on release",
			"code", core.CodeLockOwnershipViolation,
			"resource", lock.Resource,
			"owner", lock.Owner)
		return false, nil
	}
	return true, nil
}

// Extend resets the lock TTL to additional if lock.Owner still holds it.
func (s *Service) Extend(ctx context.Context, lock *Lock, additional time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.client,
		[]string{lockKey(lock.Resource)}, lock.Owner, additional.Milliseconds()).Int()
	if err != nil {
		return false, core.ErrNetwork(core.CodeInfraUnavailable,
			"lock backend unavailable").WithCause(err)
	}

	if n != 1 {
		s.logger.Warn("lock ownership violation on extend",
			"code", core.CodeLockOwnershipViolation,
			"resource", lock.Resource,
			"owner", lock.Owner)
		return false, nil
	}
	return true, nil
}

// IsLocked reports whether any owner currently holds resource. Observation
// only; never used to decide an acquire.
func (s *Service) IsLocked(ctx context.Context, resource string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(resource)).Result()
	if err != nil {
		return false, core.ErrNetwork(core.CodeInfraUnavailable,
			"lock backend unavailable").WithCause(err)
	}
	return n == 1, nil
}

// AcquireMultiple takes all resources in the given order, or none. On any
// failure the locks taken so far are released and the failure is returned.
// Callers sort resources to keep the acquisition order global.
func (s *Service) AcquireMultiple(ctx context.Context, resources []string, ttl time.Duration) ([]*Lock, error) {
	locks := make([]*Lock, 0, len(resources))
	for _, resource := range resources {
		lock, err := s.Acquire(ctx, resource, ttl)
		if err != nil {
			s.ReleaseMultiple(ctx, locks)
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

// ReleaseMultiple frees the given locks and returns how many were actually
// released by their owner.
func (s *Service) ReleaseMultiple(ctx context.Context, locks []*Lock) int {
	released := 0
	for _, lock := range locks {
		ok, err := s.Release(ctx, lock)
		if err == nil && ok {
			released++
		}
	}
	return released
}
