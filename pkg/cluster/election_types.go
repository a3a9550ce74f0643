package cluster

import "fmt"

// NodeID identifies one node of a cluster by its region code
type NodeID string

// Known region codes. A cluster's members are a subset of these.
const (
	US1 NodeID = "us1" // San Jose
	US2 NodeID = "us2" // Ashburn
	EU1 NodeID = "eu1" // London
	EU2 NodeID = "eu2" // Frankfurt
	EU3 NodeID = "eu3" // Madrid
	AP1 NodeID = "ap1" // Singapore
	AP2 NodeID = "ap2" // Tokyo
	AP3 NodeID = "ap3" // New Delhi
	AF1 NodeID = "af1" // Cape Town
	SA1 NodeID = "sa1" // Sao Paulo
	OC1 NodeID = "oc1" // Sydney
)

// KnownNodeIDs lists every region code a node may use
var KnownNodeIDs = []NodeID{US1, US2, EU1, EU2, EU3, AP1, AP2, AP3, AF1, SA1, OC1}

// DefaultMembers is the member set used when none is configured
var DefaultMembers = []NodeID{US1, EU1, AP1}

// Cluster size bounds
const (
	MinClusterSize = 3
	MaxClusterSize = 11
)

// IsKnown reports whether id is one of the known region codes
func (id NodeID) IsKnown() bool {
	for _, k := range KnownNodeIDs {
		if k == id {
			return true
		}
	}
	return false
}

// Status represents the current state of a node in the election process
type Status string

const (
	// StatusFollower is a node following the current leader
	StatusFollower Status = "follower"
	// StatusCandidate is a node requesting votes
	StatusCandidate Status = "candidate"
	// StatusLeader is the elected leader
	StatusLeader Status = "leader"
	// StatusOffline is a node a client has taken out of the election
	StatusOffline Status = "offline"
)

// String returns the string representation of a Status
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the four node statuses
func (s Status) Valid() bool {
	switch s {
	case StatusFollower, StatusCandidate, StatusLeader, StatusOffline:
		return true
	default:
		return false
	}
}

// ClientSettable reports whether a client may request s. Clients can only
// take a node out of the election or put it back; they never pick a winner.
func (s Status) ClientSettable() bool {
	return s == StatusOffline || s == StatusFollower
}

// Members is the static member set of a cluster
type Members []NodeID

// Size returns the number of nodes in the cluster
func (m Members) Size() int {
	return len(m)
}

// Quorum returns the minimum number of votes needed to win an election
func (m Members) Quorum() int {
	return Quorum(len(m))
}

// Contains reports whether id is a member
func (m Members) Contains(id NodeID) bool {
	for _, n := range m {
		if n == id {
			return true
		}
	}
	return false
}

// Peers returns every member except self
func (m Members) Peers(self NodeID) []NodeID {
	peers := make([]NodeID, 0, len(m))
	for _, n := range m {
		if n != self {
			peers = append(peers, n)
		}
	}
	return peers
}

// Validate checks the member set against the known region codes
func (m Members) Validate() error {
	if len(m) < MinClusterSize || len(m) > MaxClusterSize {
		return fmt.Errorf("%w: %d members", ErrInvalidClusterSize, len(m))
	}
	seen := make(map[NodeID]bool, len(m))
	for _, n := range m {
		if !n.IsKnown() {
			return fmt.Errorf("%w: %q", ErrUnknownNodeID, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: %q", ErrDuplicateNodeID, n)
		}
		seen[n] = true
	}
	return nil
}

// Quorum returns floor(size/2)+1
func Quorum(size int) int {
	return size/2 + 1
}
