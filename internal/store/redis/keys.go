package redis

const (
	// KeyPrefixNode is the prefix for node keys
	KeyPrefixNode = "thalamus:node:"
	// KeyAllNodes is the key for the set of all node IDs
	KeyAllNodes = "thalamus:nodes:all"
)

// NodeKey returns the Redis key for a node by ID
func NodeKey(id string) string {
	return KeyPrefixNode + id
}
