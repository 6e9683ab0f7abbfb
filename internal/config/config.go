package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Registration & monitoring
	RegisterTimeout    time.Duration // how long POST /v1/registrations waits for an outcome
	ProbeInterval      time.Duration // time between liveness probes
	ProbeTimeout       time.Duration // per-probe timeout
	ProbeInitialDelay  time.Duration // delay before the first probe of a learned mapping
	ProbeMaxFailures   int           // consecutive failures before a mapping is down
	HistoryRetain      int           // history entries kept by compaction
	HistoryCompactions time.Duration // interval between compactions

	// Static mappings
	MappingsFile   string        // optional YAML file of mappings registered by this node
	ReloadInterval time.Duration // interval to reload the mappings file

	// Redis (optional, empty address = persistence disabled)
	RedisAddr             string
	RedisUser             string
	RedisPassword         string
	RedisPasswordRequired bool
	RedisDB               int
	RedisDT               time.Duration // dial timeout
	RedisRT               time.Duration // read timeout
	RedisWT               time.Duration // write timeout
	RedisPoolSize         int
	RedisConnectTimeout   time.Duration // total time to retry connecting
	RedisRetryInterval    time.Duration // initial wait between retries, grows exponentially
	RedisMaxWait          time.Duration // max wait between retries
	RedisPingTimeout      time.Duration // timeout for each ping attempt

	// etcd peer sync (optional, no endpoints = standalone node)
	EtcdEndpoints   []string
	EtcdPrefix      string
	EtcdDialTimeout time.Duration
	EtcdLeaseTTL    int64 // seconds

	// HTTP access
	AllowedHosts   []string // optional, Host headers accepted on admin endpoints
	AllowedCIDRS   []string // optional, restrict admin endpoints to specific IPs/CIDRs
	TrustProxy     bool     // true => trust X-Forwarded-For headers
	RateLimitRPS   float64  // registration requests per second per client IP
	RateLimitBurst int
}

func Load() *Config {
	cfg := &Config{
		ListenPort:      getenv("NAMEBROKER_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("NAMEBROKER_SHUTDOWN_TIMEOUT", 5*time.Second),

		LogLevel:  getenv("NAMEBROKER_LOG_LEVEL", "info"),
		PrettyLog: mustBool("NAMEBROKER_PRETTY_LOG", false),

		RegisterTimeout:    mustDuration("NAMEBROKER_REGISTER_TIMEOUT", 10*time.Second),
		ProbeInterval:      mustDuration("NAMEBROKER_PROBE_INTERVAL", 5*time.Second),
		ProbeTimeout:       mustDuration("NAMEBROKER_PROBE_TIMEOUT", 2*time.Second),
		ProbeInitialDelay:  mustDuration("NAMEBROKER_PROBE_INITIAL_DELAY", time.Second),
		ProbeMaxFailures:   getenvInt("NAMEBROKER_PROBE_MAX_FAILURES", 3),
		HistoryRetain:      getenvInt("NAMEBROKER_HISTORY_RETAIN", 10000),
		HistoryCompactions: mustDuration("NAMEBROKER_HISTORY_COMPACT_INTERVAL", 10*time.Minute),

		MappingsFile:   getenv("NAMEBROKER_MAPPINGS_FILE", ""),
		ReloadInterval: mustDuration("NAMEBROKER_RELOAD_INTERVAL", 5*time.Minute),

		RedisAddr:             getenv("NAMEBROKER_REDIS_ADDR", ""),
		RedisUser:             getenv("NAMEBROKER_REDIS_USERNAME", ""),
		RedisPassword:         getenv("NAMEBROKER_REDIS_PASSWORD", ""),
		RedisPasswordRequired: mustBool("NAMEBROKER_REDIS_PASSWORD_REQUIRED", false),
		RedisDB:               getenvInt("NAMEBROKER_REDIS_DB", 0),
		RedisDT:               mustDuration("NAMEBROKER_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("NAMEBROKER_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("NAMEBROKER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:         getenvInt("NAMEBROKER_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("NAMEBROKER_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("NAMEBROKER_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:          mustDuration("NAMEBROKER_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("NAMEBROKER_REDIS_PING_TIMEOUT", 5*time.Second),

		EtcdEndpoints:   splitAndTrim(getenv("NAMEBROKER_ETCD_ENDPOINTS", "")),
		EtcdPrefix:      getenv("NAMEBROKER_ETCD_PREFIX", "/namebroker/mappings/"),
		EtcdDialTimeout: mustDuration("NAMEBROKER_ETCD_DIAL_TIMEOUT", 5*time.Second),
		EtcdLeaseTTL:    int64(getenvInt("NAMEBROKER_ETCD_LEASE_TTL", 10)),

		AllowedHosts:   splitAndTrim(getenv("NAMEBROKER_ALLOWED_HOSTS", "")),
		AllowedCIDRS:   parseAllowedIPs(getenv("NAMEBROKER_ALLOWED_CIDRS", "")),
		TrustProxy:     mustBool("NAMEBROKER_TRUST_PROXY", false),
		RateLimitRPS:   getenvFloat("NAMEBROKER_RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("NAMEBROKER_RATE_LIMIT_BURST", 40),
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// Validate rejects combinations the broker cannot run with.
func (c *Config) Validate() error {
	if c.RedisAddr != "" && c.RedisPasswordRequired && c.RedisPassword == "" {
		return fmt.Errorf("NAMEBROKER_REDIS_PASSWORD is required when NAMEBROKER_REDIS_PASSWORD_REQUIRED=true")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("NAMEBROKER_PROBE_INTERVAL must be > 0, got %v", c.ProbeInterval)
	}
	if c.ProbeMaxFailures < 1 {
		return fmt.Errorf("NAMEBROKER_PROBE_MAX_FAILURES must be >= 1, got %d", c.ProbeMaxFailures)
	}
	if c.HistoryCompactions <= 0 {
		return fmt.Errorf("NAMEBROKER_HISTORY_COMPACT_INTERVAL must be > 0, got %v", c.HistoryCompactions)
	}
	if c.MappingsFile != "" && c.ReloadInterval <= 0 {
		return fmt.Errorf("NAMEBROKER_RELOAD_INTERVAL must be > 0, got %v", c.ReloadInterval)
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
