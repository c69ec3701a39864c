package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

// Node is one addressable worker offering benchmarked inference capabilities.
//
// JSON names follow the peer wire contract so that snapshots on disk and
// /api/nodex replies are interchangeable with other nodes on the mesh.
type Node struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is generated by the node itself at startup.
	// It is the only key used to deduplicate nodes.
	ID string `json:"pid"`

	// Address is host[:port]. It may change across restarts and is NOT
	// a stable identity.
	Address string `json:"ip_address"`

	// Version is informational only.
	Version string `json:"version"`

	// Port is used when Address carries no explicit port.
	Port int `json:"port"`

	// ─────────────────────────────
	// Work & liveness
	// ─────────────────────────────

	Jobs []Job `json:"jobs"`

	// LastSeen is the last confirmed liveness, in epoch seconds.
	LastSeen int64 `json:"last_ping"`

	// Online is a soft-delete flag; nodes are never removed.
	Online bool `json:"is_online"`

	// Stats is filled once, when the node is first constructed.
	Stats Stats `json:"stats"`
}

// Job marks one in-flight request dispatched to a node.
type Job struct {
	ID        string `json:"oid"`
	URL       string `json:"url"`
	StartedAt int64  `json:"started_at"`
}

// VersionReply is the liveness + identity probe reply.
type VersionReply struct {
	Version string `json:"version"`
	ID      string `json:"pid"`
}

// STTReply is the speech-to-text service reply.
type STTReply struct {
	Text         string  `json:"text"`
	Time         float64 `json:"time"`
	ResponseType *string `json:"response_type"`
}

// ErrMalformedReply marks a peer reply that arrived but could not be used.
var ErrMalformedReply = errors.New("malformed reply")

const jobIDLength = 15

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewNode returns an online node with empty jobs and absent stats.
func NewNode(id, version, address string, port int, now time.Time) *Node {
	return &Node{
		ID:       id,
		Address:  address,
		Version:  version,
		Port:     port,
		Jobs:     []Job{},
		LastSeen: now.Unix(),
		Online:   true,
	}
}

// NewJob creates a job with a random alphanumeric id.
func NewJob(url string, now time.Time) Job {
	return Job{
		ID:        randomID(jobIDLength),
		URL:       url,
		StartedAt: now.Unix(),
	}
}

// Touch records a successful liveness probe.
func (n *Node) Touch(now time.Time) {
	n.LastSeen = now.Unix()
	n.Online = true
}

// HostPort returns the address with the node's port appended when the
// address has none.
func (n *Node) HostPort() string {
	return utils.NormalizeHostPort(n.Address, n.Port)
}

// Clone returns a deep copy safe to use outside the registry lock.
func (n *Node) Clone() *Node {
	c := *n
	c.Jobs = slices.Clone(n.Jobs)
	if c.Jobs == nil {
		c.Jobs = []Job{}
	}
	c.Stats = n.Stats.Clone()
	return &c
}

func randomID(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = alphanumeric[v.Int64()]
	}
	return string(b)
}
