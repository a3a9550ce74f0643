package node

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
)

// Snapshot is a point-in-time view of an actor
type Snapshot struct {
	ClusterID string         `json:"clusterId"`
	NodeID    cluster.NodeID `json:"nodeId"`
	Status    cluster.Status `json:"status"`
	Term      uint64         `json:"term"`
	VotedFor  cluster.NodeID `json:"votedFor,omitempty"`
	Clients   int            `json:"clients"`
	Timer     string         `json:"timer"`
	TimerDue  *time.Time     `json:"timerDue,omitempty"`
	Electing  bool           `json:"electing"`
}

// State returns a snapshot taken on the actor's loop
func (a *Actor) State(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	if err := a.call(ctx, func() { s = a.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (a *Actor) snapshot() Snapshot {
	s := Snapshot{
		ClusterID: a.cfg.ClusterID,
		NodeID:    a.cfg.NodeID,
		Status:    a.status,
		Term:      a.term,
		VotedFor:  a.votedFor,
		Clients:   a.clients.Len(),
		Timer:     a.timer.purpose.String(),
		Electing:  a.election != nil,
	}
	if a.timer.purpose != timerNone {
		due := a.timer.due
		s.TimerDue = &due
	}
	return s
}
