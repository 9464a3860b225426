package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/tumor-detect/internal/detection"
	"github.com/example/tumor-detect/internal/logging"
)

// StateRepository holds the controller state of each browser session. A session with no
// stored state starts from the zero State.
type StateRepository interface {
	Load(ctx context.Context, sessionID string) (detection.State, error)
	Save(ctx context.Context, sessionID string, state detection.State) error
}

// RedisStateRepository stores session state as JSON with a TTL, so it lives only as long as
// the session cookie does.
type RedisStateRepository struct {
	cache          StateCache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStateRepository creates a new repository instance.
func NewRedisStateRepository(cache StateCache, ttl time.Duration, logger *zap.Logger) *RedisStateRepository {
	return &RedisStateRepository{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("state_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Load fetches the session state. A corrupt entry is logged and replaced by a fresh state.
func (r *RedisStateRepository) Load(ctx context.Context, sessionID string) (detection.State, error) {
	var raw []byte
	err := r.executeWithRetry(ctx, "repository.load_state", sessionID, func() error {
		value, err := r.cache.GetState(ctx, sessionID)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return detection.State{}, nil
	}
	if err != nil {
		return detection.State{}, err
	}

	var state detection.State
	if err := json.Unmarshal(raw, &state); err != nil {
		logging.WithOperation(r.logger, "repository.load_state", sessionID).Warn("discarding undecodable session state", zap.Error(err))
		return detection.State{}, nil
	}
	return state, nil
}

// Save writes the session state and refreshes its TTL.
func (r *RedisStateRepository) Save(ctx context.Context, sessionID string, state detection.State) error {
	serialized, err := json.Marshal(state)
	if err != nil {
		return logging.NewOperationError("repository.save_state", sessionID, err)
	}
	return r.executeWithRetry(ctx, "repository.save_state", sessionID, func() error {
		return r.cache.PutState(ctx, sessionID, serialized, r.ttl)
	})
}

func (r *RedisStateRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, sessionID, err)
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

type memoryEntry struct {
	state     detection.State
	expiresAt time.Time
}

// MemoryStateRepository keeps session state in process memory. Used when no Redis is configured.
type MemoryStateRepository struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStateRepository creates an in-memory store; ttl <= 0 disables expiry.
func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (r *MemoryStateRepository) Load(ctx context.Context, sessionID string) (detection.State, error) {
	r.mu.RLock()
	entry, ok := r.entries[sessionID]
	r.mu.RUnlock()

	if !ok {
		return detection.State{}, nil
	}
	if r.expired(entry) {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A Save may have landed between the two locks.
		current, ok := r.entries[sessionID]
		if ok && !r.expired(current) {
			return current.state, nil
		}
		delete(r.entries, sessionID)
		return detection.State{}, nil
	}
	return entry.state, nil
}

func (r *MemoryStateRepository) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt)
}

func (r *MemoryStateRepository) Save(ctx context.Context, sessionID string, state detection.State) error {
	entry := memoryEntry{state: state}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}

	r.mu.Lock()
	r.entries[sessionID] = entry
	r.mu.Unlock()
	return nil
}

var (
	_ StateRepository = (*RedisStateRepository)(nil)
	_ StateRepository = (*MemoryStateRepository)(nil)
)
