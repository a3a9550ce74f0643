package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// RateLimitConfig configures rate limiting
type RateLimitConfig struct {
	RequestsPerSecond float64       // Rate of token replenishment
	BurstSize         int           // Maximum burst size (bucket capacity)
	CleanupInterval   time.Duration // How often to clean up expired buckets
	ClientExpiration  time.Duration // How long to keep inactive client buckets
	MaxClients        int           // Maximum number of tracked clients
}

// DefaultRateLimitConfig suits client connections: a browser opens one
// socket per member, and reconnects after a drop
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		BurstSize:         30,
		CleanupInterval:   5 * time.Minute,
		ClientExpiration:  10 * time.Minute,
		MaxClients:        100000,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	config  RateLimitConfig
	logger  logging.Logger
	mu      sync.RWMutex
	clients map[string]*tokenBucket
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop
func NewRateLimiter(config RateLimitConfig, logger logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		clients: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Allow takes a token for clientID. It reports false when the bucket is
// empty or too many clients are tracked already.
func (rl *RateLimiter) Allow(clientID string) bool {
	bucket := rl.bucket(clientID)
	if bucket == nil {
		return false
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * rl.config.RequestsPerSecond
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) bucket(clientID string) *tokenBucket {
	rl.mu.RLock()
	bucket, ok := rl.clients[clientID]
	rl.mu.RUnlock()
	if ok {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, ok = rl.clients[clientID]; ok {
		return bucket
	}
	if rl.config.MaxClients > 0 && len(rl.clients) >= rl.config.MaxClients {
		rl.logger.Warn("rate limiter full, rejecting new client",
			logging.Int("max_clients", rl.config.MaxClients), logging.String("client", clientID))
		return nil
	}

	bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: time.Now()}
	rl.clients[clientID] = bucket
	return bucket
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops buckets idle for longer than ClientExpiration
func (rl *RateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, bucket := range rl.clients {
		bucket.mu.Lock()
		expired := now.Sub(bucket.lastRefill) > rl.config.ClientExpiration
		bucket.mu.Unlock()
		if expired {
			delete(rl.clients, id)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", logging.Count(removed))
	}
	return removed
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// Stop stops the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// ClientIDFunc extracts a client identifier from a request
type ClientIDFunc func(*http.Request) string

// RateLimit answers 429 once a client runs out of tokens. A nil limiter
// disables limiting.
func RateLimit(limiter *RateLimiter, clientID ClientIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			id := clientID(r)
			if !limiter.Allow(id) {
				limiter.logger.Info("rate limit exceeded", logging.String("client", id), logging.Path(r.URL.Path))
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(limiter.config.RequestsPerSecond, 'f', -1, 64))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
