package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidClusterSize      = errors.New("cluster size must be between 3 and 11")
	ErrUnknownNodeID           = errors.New("unknown node ID")
	ErrDuplicateNodeID         = errors.New("duplicate node ID")
	ErrInvalidHeartbeat        = errors.New("heartbeat interval must be positive")
	ErrElectionTimeoutTooSmall = errors.New("election factor must be at least 2")
	ErrInvalidRPCTimeout       = errors.New("RPC timeout must be positive")
	ErrInvalidClusterID        = errors.New("invalid cluster ID")
)

// Election errors
var (
	ErrStaleTerm    = errors.New("term is older than current term")
	ErrUnavailable  = errors.New("node is offline")
	ErrBadRequest   = errors.New("action is not valid here")
	ErrNotPermitted = errors.New("status change not permitted for clients")
	ErrMisrouted    = errors.New("message addressed to another node")
	ErrActorStopped = errors.New("node actor stopped")
)
