package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "THALAMUS_"

type Config struct {
	ListenAddr      string        // ex: ":8050"
	ServicePort     int           // port every node serves the peer contract on
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	StatePath string // registry snapshot file
	AudioPath string // reference audio for the speech benchmarks
	ImagePath string // reference image for the upscaling benchmark

	ProbeTimeout     time.Duration // liveness probe connect/read timeout
	BenchmarkCeiling time.Duration // upper bound for each language model tier

	ScanInterval      time.Duration
	MulticastInterval time.Duration
	GossipInterval    time.Duration
	ScanConcurrency   int           // parallel probes during a subnet scan
	BrowseWindow      time.Duration // how long a multicast browse collects answers
	ServiceName       string        // mDNS service name

	// Redis mirror, disabled when RedisAddr is empty
	RedisAddr             string
	RedisUser             string
	RedisPassword         string
	RedisPasswordRequired bool
	RedisDB               int
	RedisDT               time.Duration // dial timeout
	RedisRT               time.Duration // read timeout
	RedisWT               time.Duration // write timeout
	RedisMaxWait          time.Duration // max wait between retries
	RedisPingTimeout      time.Duration // timeout for each ping attempt
	RedisPoolSize         int
	RedisConnectTimeout   time.Duration // total time to retry connecting
	RedisRetryInterval    time.Duration // initial wait between retries, grows exponentially
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedCIDRS []string // restrict the discovery trigger endpoint (e.g. "10.0.0.0/8, 127.0.0.1")
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

// Load builds the configuration from the environment. When
// THALAMUS_CONFIG_FILE names a YAML file, its values are used as defaults
// and environment variables override them.
func Load() *Config {
	src := source{}
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			panic(fmt.Sprintf("❌ FATAL: %v", err))
		}
		src.file = values
	}
	return src.load()
}

func (s source) load() *Config {
	cfg := &Config{
		// Server settings
		ListenAddr:      s.getenv("THALAMUS_LISTEN_ADDR", ":8050"),
		ServicePort:     s.getenvInt("THALAMUS_SERVICE_PORT", 8050),
		ShutdownTimeout: s.mustDuration("THALAMUS_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  s.getenv("THALAMUS_LOG_LEVEL", "info"),
		PrettyLog: s.mustBool("THALAMUS_PRETTY_LOG", true),

		// State and benchmark assets
		StatePath: s.getenv("THALAMUS_STATE_PATH", "/opt/thalamusc/clients.json"),
		AudioPath: s.getenv("THALAMUS_AUDIO_PATH", "/opt/thalamusc/test.wav"),
		ImagePath: s.getenv("THALAMUS_IMAGE_PATH", "/opt/thalamusc/test.jpg"),

		ProbeTimeout:     s.mustDuration("THALAMUS_PROBE_TIMEOUT", 2*time.Second),
		BenchmarkCeiling: s.mustDuration("THALAMUS_BENCHMARK_CEILING", 60*time.Second),

		// Discovery
		ScanInterval:      s.mustDuration("THALAMUS_SCAN_INTERVAL", 10*time.Minute),
		MulticastInterval: s.mustDuration("THALAMUS_MULTICAST_INTERVAL", 30*time.Second),
		GossipInterval:    s.mustDuration("THALAMUS_GOSSIP_INTERVAL", time.Minute),
		ScanConcurrency:   s.getenvInt("THALAMUS_SCAN_CONCURRENCY", 32),
		BrowseWindow:      s.mustDuration("THALAMUS_BROWSE_WINDOW", 2*time.Second),
		ServiceName:       s.getenv("THALAMUS_SERVICE_NAME", "_thalamus._tcp.local"),

		// Redis settings
		RedisAddr:             s.getenv("THALAMUS_REDIS_ADDR", ""),
		RedisUser:             s.getenv("THALAMUS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: s.mustBool("THALAMUS_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         s.getenv("THALAMUS_REDIS_PASSWORD", ""),
		RedisDB:               s.getenvInt("THALAMUS_REDIS_DB", 0),
		RedisDT:               s.mustDuration("THALAMUS_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               s.mustDuration("THALAMUS_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               s.mustDuration("THALAMUS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          s.mustDuration("THALAMUS_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      s.mustDuration("THALAMUS_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         s.getenvInt("THALAMUS_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   s.mustDuration("THALAMUS_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    s.mustDuration("THALAMUS_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    s.getenvInt("THALAMUS_REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(s.getenv("THALAMUS_ALLOWED_CIDRS", "")),
		TrustProxy:   s.mustBool("THALAMUS_TRUST_PROXY", false),
	}

	if err := cfg.validate(); err != nil {
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

// RedisEnabled reports whether the Redis mirror is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"THALAMUS_SCAN_INTERVAL":      c.ScanInterval,
		"THALAMUS_MULTICAST_INTERVAL": c.MulticastInterval,
		"THALAMUS_GOSSIP_INTERVAL":    c.GossipInterval,
		"THALAMUS_PROBE_TIMEOUT":      c.ProbeTimeout,
		"THALAMUS_BENCHMARK_CEILING":  c.BenchmarkCeiling,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, d)
		}
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("THALAMUS_SERVICE_PORT out of range: %d", c.ServicePort)
	}
	if c.RedisEnabled() && c.RedisPasswordRequired && c.RedisPassword == "" {
		return fmt.Errorf("THALAMUS_REDIS_PASSWORD is required when THALAMUS_REDIS_PASSWORD_REQUIRED=true")
	}
	return nil
}

// source resolves a key from the environment first, then from the
// optional config file.
type source struct {
	file map[string]string
}

// fileKey maps THALAMUS_SCAN_INTERVAL to scan_interval.
func fileKey(envKey string) string {
	return strings.ToLower(strings.TrimPrefix(envKey, envPrefix))
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[strings.ToLower(k)] = strings.Join(parts, ",")
		default:
			values[strings.ToLower(k)] = fmt.Sprint(vv)
		}
	}
	return values, nil
}

// helpers
func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[fileKey(key)]
}

func (s source) getenv(key, def string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return def
}

func (s source) getenvInt(key string, def int) int {
	if v := s.lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) mustBool(key string, def bool) bool {
	if v := s.lookup(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func (s source) mustDuration(key string, def time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
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
