package deps

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/namebroker/internal/broker"
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	redisstore "github.com/MrSnakeDoc/namebroker/internal/store/redis"
)

// RegistrationStore persists local registrations made through the API.
type RegistrationStore interface {
	SaveRegistration(ctx context.Context, reg redisstore.Registration) error
	DeleteRegistration(ctx context.Context, m domain.ServiceMapping) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger          logger.Logger
	StartTime       time.Time
	Version         string
	Commit          string
	BuildDate       string
	GoVersion       string
	AllowedHosts    []string          // Host headers allowed to access admin endpoints
	AllowedCIDRS    []string          // IPs allowed to access admin endpoints
	TrustProxy      bool              // true if running behind a trusted reverse proxy
	Broker          *broker.Broker    // the local registry
	Store           RegistrationStore // nil when redis persistence is disabled
	EtcdClient      *clientv3.Client  // nil when peer sync is disabled
	MappingsFile    string            // path of the static mappings file, empty if disabled
	ReloadTrigger   chan struct{}     // Channel to trigger manual mappings reload (nil if no mappings file)
	RegisterTimeout time.Duration     // how long a registration request waits for its outcome
	RateLimitRPS    float64           // per client IP, on registration endpoints
	RateLimitBurst  int
	Ready           func() bool     // reports whether startup has completed
	Streams         context.Context // canceled when the server shuts down; ends watch streams
}
