package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// =============================================================================
// hdds participant runtime - configuration with environment overrides
// =============================================================================

type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	QoS         QoSConfig         `yaml:"qos"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Recording   RecordingConfig   `yaml:"recording"`
	Security    SecurityConfig    `yaml:"security"`
	Federation  FederationConfig  `yaml:"federation"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TransportConfig covers the UDP three-socket plane (§4.9), the SHM
// ring transport (§4.10), and the LBW constrained-link transport (§4.11).
type TransportConfig struct {
	DomainID         int    `yaml:"domain_id"`
	ParticipantIndex int    `yaml:"participant_index"`
	Interface        string `yaml:"interface"`
	MulticastGroup   string `yaml:"multicast_group"`
	MulticastTTL     int    `yaml:"multicast_ttl"`

	SHM SHMConfig `yaml:"shm"`
	LBW LBWConfig `yaml:"lbw"`
}

// SHMConfig sizes the shared-memory ring transport.
type SHMConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SegmentName  string `yaml:"segment_name"`
	RingCapacity int    `yaml:"ring_capacity"`
}

// LBWConfig configures the constrained-link transport (§4.11).
type LBWConfig struct {
	Enabled         bool   `yaml:"enabled"`
	NodeID          int    `yaml:"node_id"`
	MTU             int    `yaml:"mtu"`
	HelloIntervalMs int    `yaml:"hello_interval_ms"`
	HelloMaxRetries int    `yaml:"hello_max_retries"`
	SessionTimeoutS int    `yaml:"session_timeout_sec"`
	PresharedKey    string `yaml:"preshared_key"`
}

// DiscoveryConfig covers SPDP/SEDP timing (§4.6, §4.7) and the RTPS
// dialect a participant builds messages with (§4.5).
type DiscoveryConfig struct {
	SPDPPeriodMs     int    `yaml:"spdp_period_ms"`
	LeaseDurationSec int    `yaml:"lease_duration_sec"`
	Dialect          string `yaml:"dialect"`
}

// QoSConfig points at the hot-reloaded QoS profile document (§4.13).
type QoSConfig struct {
	ProfileDir  string `yaml:"profile_dir"`
	ProfileFile string `yaml:"profile_file"`
}

// PermissionsConfig points at the dynamic permissions document the
// permissions manager watches.
type PermissionsConfig struct {
	FilePath string `yaml:"file_path"`
}

// RecordingConfig configures where .hdds capture files are written
// (§6's recording file format; REDESIGN FLAG #8 keeps file lifecycle
// out of the codec itself).
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// SecurityConfig configures the optional participant identity token
// (§3) minted by internal/security.
type SecurityConfig struct {
	HMACSecret          string `yaml:"hmac_secret"`
	TokenTTLSec         int    `yaml:"token_ttl_sec"`
	RotationGraceHours  int    `yaml:"rotation_grace_hours"`
	SpiffeSocketPath    string `yaml:"spiffe_socket_path"`
	SpiffeTrustDomain   string `yaml:"spiffe_trust_domain"`
	RevalidationSweepMs int    `yaml:"revalidation_sweep_ms"`
	InactivityTimeoutS  int    `yaml:"inactivity_timeout_sec"`
	ViolationLimit      int    `yaml:"violation_limit"`
}

// FederationConfig names this participant within a multi-domain
// deployment, analogous to the reference codebase's inter-instance
// federation identity.
type FederationConfig struct {
	InstanceID  string `yaml:"instance_id"`
	TrustDomain string `yaml:"trust_domain"`
	Region      string `yaml:"region"`
}

// MonitoringConfig configures the diagnostics HTTP server (§ DOMAIN
// STACK: gorilla/mux admin surface, promauto metrics).
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading
// .env (if present) before resolving CONFIG_PATH.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("config: failed to load .env file", "error", err)
		}

		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Transport
	if v := getEnvInt("HDDS_DOMAIN_ID", -1); v >= 0 {
		c.Transport.DomainID = v
	}
	if v := getEnvInt("HDDS_PARTICIPANT_INDEX", -1); v >= 0 {
		c.Transport.ParticipantIndex = v
	}
	c.Transport.Interface = getEnv("HDDS_INTERFACE", c.Transport.Interface)
	c.Transport.MulticastGroup = getEnv("HDDS_MULTICAST_GROUP", c.Transport.MulticastGroup)
	if v := getEnvInt("HDDS_MULTICAST_TTL", 0); v > 0 {
		c.Transport.MulticastTTL = v
	}

	// SHM
	c.Transport.SHM.Enabled = getEnvBool("HDDS_SHM_ENABLED", c.Transport.SHM.Enabled)
	c.Transport.SHM.SegmentName = getEnv("HDDS_SHM_SEGMENT_NAME", c.Transport.SHM.SegmentName)
	if v := getEnvInt("HDDS_SHM_RING_CAPACITY", 0); v > 0 {
		c.Transport.SHM.RingCapacity = v
	}

	// LBW
	c.Transport.LBW.Enabled = getEnvBool("HDDS_LBW_ENABLED", c.Transport.LBW.Enabled)
	if v := getEnvInt("HDDS_LBW_NODE_ID", -1); v >= 0 {
		c.Transport.LBW.NodeID = v
	}
	if v := getEnvInt("HDDS_LBW_MTU", 0); v > 0 {
		c.Transport.LBW.MTU = v
	}
	if v := getEnvInt("HDDS_LBW_HELLO_INTERVAL_MS", 0); v > 0 {
		c.Transport.LBW.HelloIntervalMs = v
	}
	if v := getEnvInt("HDDS_LBW_HELLO_MAX_RETRIES", 0); v > 0 {
		c.Transport.LBW.HelloMaxRetries = v
	}
	if v := getEnvInt("HDDS_LBW_SESSION_TIMEOUT_SEC", 0); v > 0 {
		c.Transport.LBW.SessionTimeoutS = v
	}
	c.Transport.LBW.PresharedKey = getEnv("HDDS_LBW_PSK", c.Transport.LBW.PresharedKey)

	// Discovery
	if v := getEnvInt("HDDS_SPDP_PERIOD_MS", 0); v > 0 {
		c.Discovery.SPDPPeriodMs = v
	}
	if v := getEnvInt("HDDS_LEASE_DURATION_SEC", 0); v > 0 {
		c.Discovery.LeaseDurationSec = v
	}
	c.Discovery.Dialect = getEnv("HDDS_DIALECT", c.Discovery.Dialect)

	// QoS
	c.QoS.ProfileDir = getEnv("HDDS_QOS_PROFILE_DIR", c.QoS.ProfileDir)
	c.QoS.ProfileFile = getEnv("HDDS_QOS_PROFILE_FILE", c.QoS.ProfileFile)

	// Permissions
	c.Permissions.FilePath = getEnv("HDDS_PERMISSIONS_FILE", c.Permissions.FilePath)

	// Recording
	c.Recording.Enabled = getEnvBool("HDDS_RECORDING_ENABLED", c.Recording.Enabled)
	c.Recording.OutputDir = getEnv("HDDS_RECORDING_OUTPUT_DIR", c.Recording.OutputDir)

	// Security
	c.Security.HMACSecret = getEnv("HDDS_HMAC_SECRET", c.Security.HMACSecret)
	if v := getEnvInt("HDDS_TOKEN_TTL_SEC", 0); v > 0 {
		c.Security.TokenTTLSec = v
	}
	if v := getEnvInt("HDDS_ROTATION_GRACE_HOURS", 0); v > 0 {
		c.Security.RotationGraceHours = v
	}
	c.Security.SpiffeSocketPath = getEnv("HDDS_SPIFFE_SOCKET_PATH", c.Security.SpiffeSocketPath)
	c.Security.SpiffeTrustDomain = getEnv("HDDS_SPIFFE_TRUST_DOMAIN", c.Security.SpiffeTrustDomain)
	if v := getEnvInt("HDDS_REVALIDATION_SWEEP_MS", 0); v > 0 {
		c.Security.RevalidationSweepMs = v
	}
	if v := getEnvInt("HDDS_INACTIVITY_TIMEOUT_SEC", 0); v > 0 {
		c.Security.InactivityTimeoutS = v
	}
	if v := getEnvInt("HDDS_VIOLATION_LIMIT", 0); v > 0 {
		c.Security.ViolationLimit = v
	}

	// Federation
	c.Federation.InstanceID = getEnv("HDDS_INSTANCE_ID", c.Federation.InstanceID)
	c.Federation.TrustDomain = getEnv("HDDS_TRUST_DOMAIN", c.Federation.TrustDomain)
	c.Federation.Region = getEnv("HDDS_REGION", c.Federation.Region)

	// Monitoring
	c.Monitoring.Enabled = getEnvBool("HDDS_MONITORING_ENABLED", c.Monitoring.Enabled)
	c.Monitoring.Addr = getEnv("HDDS_MONITORING_ADDR", c.Monitoring.Addr)

	// Logging
	c.Logging.Level = getEnv("HDDS_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("HDDS_LOG_FORMAT", c.Logging.Format)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Transport.MulticastGroup == "" {
		c.Transport.MulticastGroup = "239.255.0.1"
	}
	if c.Transport.SHM.SegmentName == "" {
		c.Transport.SHM.SegmentName = "hdds-ring"
	}
	if c.Transport.SHM.RingCapacity == 0 {
		c.Transport.SHM.RingCapacity = 256
	}
	if c.Transport.LBW.MTU == 0 {
		c.Transport.LBW.MTU = 256
	}
	if c.Transport.LBW.HelloIntervalMs == 0 {
		c.Transport.LBW.HelloIntervalMs = 500
	}
	if c.Transport.LBW.HelloMaxRetries == 0 {
		c.Transport.LBW.HelloMaxRetries = 10
	}
	if c.Transport.LBW.SessionTimeoutS == 0 {
		c.Transport.LBW.SessionTimeoutS = 30
	}
	if c.Discovery.SPDPPeriodMs == 0 {
		c.Discovery.SPDPPeriodMs = 1000
	}
	if c.Discovery.LeaseDurationSec == 0 {
		c.Discovery.LeaseDurationSec = 20
	}
	if c.Discovery.Dialect == "" {
		c.Discovery.Dialect = "hybrid"
	}
	if c.QoS.ProfileFile == "" {
		c.QoS.ProfileFile = "qos.yaml"
	}
	if c.Permissions.FilePath == "" {
		c.Permissions.FilePath = "permissions.yaml"
	}
	if c.Recording.OutputDir == "" {
		c.Recording.OutputDir = "./recordings"
	}
	if c.Security.TokenTTLSec == 0 {
		c.Security.TokenTTLSec = 1800
	}
	if c.Security.RotationGraceHours == 0 {
		c.Security.RotationGraceHours = 24
	}
	if c.Security.RevalidationSweepMs == 0 {
		c.Security.RevalidationSweepMs = 10000
	}
	if c.Security.InactivityTimeoutS == 0 {
		c.Security.InactivityTimeoutS = 600
	}
	if c.Security.ViolationLimit == 0 {
		c.Security.ViolationLimit = 5
	}
	if c.Federation.InstanceID == "" {
		c.Federation.InstanceID = "hdds-local"
	}
	if c.Federation.TrustDomain == "" {
		c.Federation.TrustDomain = "hdds.local"
	}
	if c.Monitoring.Addr == "" {
		c.Monitoring.Addr = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// Convenience Methods
// =============================================================================

// QoSProfilePath joins the profile directory and file into one path,
// ready for qos.NewWatcher.
func (c *Config) QoSProfilePath() string {
	if c.QoS.ProfileDir == "" {
		return c.QoS.ProfileFile
	}
	return c.QoS.ProfileDir + "/" + c.QoS.ProfileFile
}
