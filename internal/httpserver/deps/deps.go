package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// NodeRegistry is the read side of the registry served over HTTP.
type NodeRegistry interface {
	Snapshot() []*domain.Node
	Count() int
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	NodeID       string                   // identity reported by /api/thalamus/version
	Registry     NodeRegistry             // known nodes, served to gossiping peers
	Ready        func() bool              // nil means always ready
	Triggers     map[string]chan struct{} // strategy name -> manual run trigger
	RedisClient  *redis.Client            // nil when the mirror is disabled
	AllowedCIDRS []string                 // IPs allowed to reach admin endpoints
	TrustProxy   bool                     // true if running behind a trusted reverse proxy
}
