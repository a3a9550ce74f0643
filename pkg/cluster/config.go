package cluster

import (
	"math/rand/v2"
	"time"
)

// Timing defines the election clock of every node in a cluster
type Timing struct {
	HeartbeatInterval time.Duration // Interval between leader heartbeats (default: 150ms)
	ElectionFactor    int           // Minimum election timeout as a multiple of the heartbeat (default: 4)
	RPCTimeout        time.Duration // Deadline for a single peer call (default: 2s)
}

// DefaultTiming returns the timing used by the hosted service
func DefaultTiming() Timing {
	return Timing{
		HeartbeatInterval: 150 * time.Millisecond,
		ElectionFactor:    4,
		RPCTimeout:        2 * time.Second,
	}
}

// Validate checks if timing is valid
func (t Timing) Validate() error {
	if t.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeat
	}
	// With a factor below 2 a jittered timeout could undercut a late heartbeat
	if t.ElectionFactor < 2 {
		return ErrElectionTimeoutTooSmall
	}
	if t.RPCTimeout <= 0 {
		return ErrInvalidRPCTimeout
	}
	return nil
}

// MinElectionTimeout is the lower bound of every randomized election timeout
func (t Timing) MinElectionTimeout() time.Duration {
	return t.HeartbeatInterval * time.Duration(t.ElectionFactor)
}

// MaxElectionTimeout is the exclusive upper bound of every randomized election timeout
func (t Timing) MaxElectionTimeout() time.Duration {
	return 2 * t.MinElectionTimeout()
}

// RandomElectionTimeout returns lower + rand[0, lower)
func (t Timing) RandomElectionTimeout() time.Duration {
	lower := t.MinElectionTimeout()
	return lower + time.Duration(rand.Int64N(int64(lower)))
}
