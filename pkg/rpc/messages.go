package rpc

import "github.com/dd0wney/cluso-raft/pkg/cluster"

// Action names the kind of a message on the wire
type Action string

// Peer actions
const (
	ActionAppendEntries Action = "AppendEntries"
	ActionAppended      Action = "Appended"
	ActionRequestVote   Action = "RequestVote"
	ActionVote          Action = "Vote"
)

// Client actions
const (
	ActionWelcome   Action = "Welcome"
	ActionSetStatus Action = "SetStatus"
)

// PeerMessage is exchanged between the nodes of one cluster.
// Which fields are meaningful depends on Action:
//
//	AppendEntries{term, leader}      -> Appended{term}
//	RequestVote{term, candidateId}   -> Vote{term, granted}
type PeerMessage struct {
	Action      Action         `codec:"action"`
	Term        uint64         `codec:"term"`
	Leader      cluster.NodeID `codec:"leader,omitempty"`
	CandidateID cluster.NodeID `codec:"candidateId,omitempty"`
	Granted     bool           `codec:"granted,omitempty"`
}

// AppendEntries builds a leader heartbeat
func AppendEntries(term uint64, leader cluster.NodeID) PeerMessage {
	return PeerMessage{Action: ActionAppendEntries, Term: term, Leader: leader}
}

// Appended acknowledges a heartbeat
func Appended(term uint64) PeerMessage {
	return PeerMessage{Action: ActionAppended, Term: term}
}

// RequestVote asks a peer for its vote in term
func RequestVote(term uint64, candidate cluster.NodeID) PeerMessage {
	return PeerMessage{Action: ActionRequestVote, Term: term, CandidateID: candidate}
}

// Vote answers a RequestVote
func Vote(term uint64, granted bool) PeerMessage {
	return PeerMessage{Action: ActionVote, Term: term, Granted: granted}
}

// ClientMessage is exchanged between a node and its observers
type ClientMessage struct {
	Action    Action         `codec:"action"`
	ClusterID string         `codec:"clusterId"`
	NodeID    cluster.NodeID `codec:"nodeId"`
	Status    cluster.Status `codec:"status"`
}

// Welcome greets a newly connected client with the node's current status
func Welcome(clusterID string, nodeID cluster.NodeID, status cluster.Status) ClientMessage {
	return ClientMessage{Action: ActionWelcome, ClusterID: clusterID, NodeID: nodeID, Status: status}
}

// SetStatus announces (server to client) or requests (client to server) a status
func SetStatus(clusterID string, nodeID cluster.NodeID, status cluster.Status) ClientMessage {
	return ClientMessage{Action: ActionSetStatus, ClusterID: clusterID, NodeID: nodeID, Status: status}
}

// Envelope carries a peer message over transports without HTTP framing
type Envelope struct {
	ClusterID     string         `codec:"clusterId"`
	NodeID        cluster.NodeID `codec:"nodeId"`
	Authorization string         `codec:"authorization"`
	Payload       []byte         `codec:"payload"`
}

// EnvelopeReply is the answer to an Envelope. Code follows HTTP status semantics.
type EnvelopeReply struct {
	Code    int    `codec:"code"`
	Payload []byte `codec:"payload,omitempty"`
}
