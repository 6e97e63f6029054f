// Package config provides configuration management for exstreamtv using Viper.
// It supports configuration from files, environment variables, and defaults,
// and owns the persisted YAML document served through the config API.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8411
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxConnections      = 256
	defaultTunerCount          = 6
	defaultMaxOpenConnsBase    = 8
	defaultMaxIdleConns        = 4
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultBufferSize          = 1 << 20 // 1MiB
	defaultReadSize            = 64 << 10
	defaultSessionBacklog      = 64
	defaultIdleSessionTimeout  = 30 * time.Second
	defaultTargetBitrate       = 10_000_000
	defaultPoolSize            = 8
	defaultAcquireTimeout      = 90 * time.Second
	defaultSpawnAttempts       = 5
	defaultHealthInterval      = 5 * time.Second
	defaultRSSSoftLimit        = 768 << 20
	defaultRSSGrace            = 30 * time.Second
	defaultShutdownGrace       = 5 * time.Second
	defaultBuildDays           = 3
	defaultResumeThreshold     = 30 * time.Minute
	defaultOvershootTolerance  = 60 * time.Second
	defaultExtractTimeout      = 30 * time.Second
	defaultRefreshWorkers      = 2
	defaultMetadataCooldownSec = 900
	defaultPoolPressureThresh  = 0.9
	defaultStormThreshold      = 10
	defaultStormWindowSec      = 60
	defaultLogoRetentionDays   = 30
	defaultMaxLogoSizeBytes    = 5 * 1024 * 1024
	defaultLogRingSize         = 10000
	defaultBackupRetention     = 7

	// Streaming bounds enforced by Validate.
	minBufferSize = 64 << 10
	maxBufferSize = 16 << 20
	minReadSize   = 4 << 10
	maxReadSize   = 1 << 20
)

// Config holds all configuration for the application. It is both the
// process configuration loaded at boot and the document persisted by the
// Store, so a PUT through the config API round-trips every field here.
type Config struct {
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Plex           PlexConfig           `mapstructure:"plex" yaml:"plex"`
	Streaming      StreamingConfig      `mapstructure:"streaming" yaml:"streaming"`
	StreamThrottle StreamThrottleConfig `mapstructure:"stream_throttler" yaml:"stream_throttler"`
	FFmpeg         FFmpegConfig         `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	ProcessPool    ProcessPoolConfig    `mapstructure:"process_pool" yaml:"process_pool"`
	Playout        PlayoutConfig        `mapstructure:"playout" yaml:"playout"`
	Resolver       ResolverConfig       `mapstructure:"resolver" yaml:"resolver"`
	AIAgent        AIAgentConfig        `mapstructure:"ai_agent" yaml:"ai_agent"`
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Storage        StorageConfig        `mapstructure:"storage" yaml:"storage"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Backup         BackupConfig         `mapstructure:"backup" yaml:"backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	PublicURL       string        `mapstructure:"public_url" yaml:"public_url,omitempty"`
	APIKeyRequired  bool          `mapstructure:"api_key_required" yaml:"api_key_required"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	TunerCount      int           `mapstructure:"tuner_count" yaml:"tuner_count"`
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`
}

// PlexConfig holds Plex Media Server integration configuration.
type PlexConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url"`
	Token               string        `mapstructure:"token" yaml:"token"`
	UseForEPG           bool          `mapstructure:"use_for_epg" yaml:"use_for_epg"`
	ReloadGuideAfterEPG bool          `mapstructure:"reload_guide_after_epg" yaml:"reload_guide_after_epg"`
	GuideReloadDebounce time.Duration `mapstructure:"guide_reload_debounce" yaml:"guide_reload_debounce,omitempty"`
}

// StreamingConfig holds per-session delivery configuration.
type StreamingConfig struct {
	// BufferSize is the per-session ring buffer capacity. Bounded to
	// [64KiB, 16MiB]; writes outside that range are rejected.
	BufferSize ByteSize `mapstructure:"buffer_size" yaml:"buffer_size"`
	// ReadSize is the producer read chunk before PES alignment.
	// Bounded to [4KiB, 1MiB].
	ReadSize           ByteSize      `mapstructure:"read_size" yaml:"read_size"`
	SessionBacklog     int           `mapstructure:"session_backlog" yaml:"session_backlog"`
	MaxSessionsPerChan int           `mapstructure:"max_sessions_per_channel" yaml:"max_sessions_per_channel"`
	IdleSessionTimeout time.Duration `mapstructure:"idle_session_timeout" yaml:"idle_session_timeout"`
}

// StreamThrottleConfig holds output pacing configuration.
type StreamThrottleConfig struct {
	Mode             string `mapstructure:"mode" yaml:"mode"` // realtime, burst, adaptive, disabled
	TargetBitrateBPS int    `mapstructure:"target_bitrate_bps" yaml:"target_bitrate_bps"`
}

// FFmpegConfig holds FFmpeg binary and encoding configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path,omitempty"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path" yaml:"probe_path,omitempty"`   // empty = auto-detect
	// HWAccel selects the hardware acceleration backend.
	// One of: auto, none, videotoolbox, nvenc, qsv, vaapi, amf.
	HWAccel        string   `mapstructure:"hw_accel" yaml:"hw_accel"`
	TargetProfile  string   `mapstructure:"target_profile" yaml:"target_profile"`
	VideoBitrate   string   `mapstructure:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate   string   `mapstructure:"audio_bitrate" yaml:"audio_bitrate"`
	ExtraInputArgs []string `mapstructure:"extra_input_args" yaml:"extra_input_args,omitempty"`
}

// ProcessPoolConfig holds bounded FFmpeg process pool configuration.
type ProcessPoolConfig struct {
	Size           int           `mapstructure:"size" yaml:"size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	SpawnAttempts  int           `mapstructure:"spawn_attempts" yaml:"spawn_attempts"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	// RSSSoftLimit is the resident-set ceiling per process. Exceeding it
	// for longer than RSSGrace marks the process unhealthy.
	RSSSoftLimit  ByteSize      `mapstructure:"rss_soft_limit" yaml:"rss_soft_limit"`
	RSSGrace      time.Duration `mapstructure:"rss_grace" yaml:"rss_grace"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// PlayoutConfig holds playout engine configuration.
type PlayoutConfig struct {
	BuildDays       int           `mapstructure:"build_days" yaml:"build_days"`
	ResumeThreshold time.Duration `mapstructure:"resume_threshold" yaml:"resume_threshold"`
	// OvershootTolerance is how far the last item of a duration slot may run
	// past the slot target before it is excluded.
	OvershootTolerance time.Duration `mapstructure:"overshoot_tolerance" yaml:"overshoot_tolerance"`
	// PrewarmChannels are channel numbers whose loops start at boot without
	// waiting for a tuner.
	PrewarmChannels []string `mapstructure:"prewarm_channels" yaml:"prewarm_channels,omitempty"`
}

// ResolverConfig holds URL resolver configuration.
type ResolverConfig struct {
	// YouTubeExtractor is the external extractor binary (yt-dlp or
	// compatible). Looked up on PATH when not absolute.
	YouTubeExtractor string `mapstructure:"youtube_extractor" yaml:"youtube_extractor"`
	// YouTubeCookieJar is an optional Netscape-format cookie file passed
	// to the extractor for age-gated or member content.
	YouTubeCookieJar string        `mapstructure:"youtube_cookie_jar" yaml:"youtube_cookie_jar,omitempty"`
	ExtractTimeout   time.Duration `mapstructure:"extract_timeout" yaml:"extract_timeout"`
	// RefreshWorkers bounds concurrent background URL refreshes for
	// expired youtube/archive.org items.
	RefreshWorkers int `mapstructure:"refresh_workers" yaml:"refresh_workers"`
}

// AIAgentConfig holds self-healing agent configuration.
type AIAgentConfig struct {
	Enabled                           bool    `mapstructure:"enabled" yaml:"enabled"`
	BoundedAgentEnabled               bool    `mapstructure:"bounded_agent_enabled" yaml:"bounded_agent_enabled"`
	MetadataSelfResolutionEnabled     bool    `mapstructure:"metadata_self_resolution_enabled" yaml:"metadata_self_resolution_enabled"`
	MetadataSelfResolutionCooldownSec int     `mapstructure:"metadata_self_resolution_cooldown_sec" yaml:"metadata_self_resolution_cooldown_sec"`
	ForceMetadataResolution           bool    `mapstructure:"force_metadata_resolution" yaml:"force_metadata_resolution"`
	ContainmentPoolPressureThreshold  float64 `mapstructure:"containment_pool_pressure_threshold" yaml:"containment_pool_pressure_threshold"`
	ContainmentRestartStormThreshold  int     `mapstructure:"containment_restart_storm_threshold" yaml:"containment_restart_storm_threshold"`
	ContainmentRestartStormWindowSec  int     `mapstructure:"containment_restart_storm_window_sec" yaml:"containment_restart_storm_window_sec"`
}

// DatabaseConfig holds catalog database configuration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
	// MaxOpenConnsBase seeds the connection pool; the effective limit is
	// base + ceil(2.5 * active channel count), applied by the database
	// package once channel counts are known.
	MaxOpenConnsBase int           `mapstructure:"max_open_conns_base" yaml:"max_open_conns_base"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	LogoDir string `mapstructure:"logo_dir" yaml:"logo_dir"`
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
	// MediaRoots are the directories local and archive media may resolve
	// into. Paths outside every root are refused.
	MediaRoots    []string      `mapstructure:"media_roots" yaml:"media_roots,omitempty"`
	LogoRetention time.Duration `mapstructure:"logo_retention" yaml:"logo_retention"`
	MaxLogoSize   ByteSize      `mapstructure:"max_logo_size" yaml:"max_logo_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	// RingSize is the in-process log ring consumed by the self-healing
	// controller and the logs API. Minimum 10000.
	RingSize int `mapstructure:"ring_size" yaml:"ring_size"`
}

// BackupConfig holds catalog backup configuration.
type BackupConfig struct {
	Directory string               `mapstructure:"directory" yaml:"directory,omitempty"` // empty = {storage.base_dir}/backups
	Schedule  BackupScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
}

// BackupScheduleConfig holds scheduled backup configuration.
type BackupScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Cron      string `mapstructure:"cron" yaml:"cron"` // 6-field cron expression
	Retention int    `mapstructure:"retention" yaml:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with EXSTREAMTV_ and use underscores
// for nesting. Example: EXSTREAMTV_SERVER_PORT=8409.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/exstreamtv")
		v.AddConfigPath("$HOME/.exstreamtv")
	}

	v.SetEnvPrefix("EXSTREAMTV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook extends viper's defaults with encoding.TextUnmarshaler support
// so ByteSize fields accept values like "1MiB".
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Default returns a Config populated with every default value.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		// Defaults are static and always decode.
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return &cfg
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.api_key_required", false)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.tuner_count", defaultTunerCount)
	v.SetDefault("server.max_connections", defaultMaxConnections)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0)) // streaming responses must not be cut off
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Plex defaults
	v.SetDefault("plex.enabled", false)
	v.SetDefault("plex.base_url", "")
	v.SetDefault("plex.token", "")
	v.SetDefault("plex.use_for_epg", false)
	v.SetDefault("plex.reload_guide_after_epg", false)
	v.SetDefault("plex.guide_reload_debounce", time.Minute)

	// Streaming defaults
	v.SetDefault("streaming.buffer_size", defaultBufferSize)
	v.SetDefault("streaming.read_size", defaultReadSize)
	v.SetDefault("streaming.session_backlog", defaultSessionBacklog)
	v.SetDefault("streaming.max_sessions_per_channel", 16)
	v.SetDefault("streaming.idle_session_timeout", defaultIdleSessionTimeout)

	// Stream throttler defaults
	v.SetDefault("stream_throttler.mode", "realtime")
	v.SetDefault("stream_throttler.target_bitrate_bps", defaultTargetBitrate)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hw_accel", "auto")
	v.SetDefault("ffmpeg.target_profile", "ts_h264_aac")
	v.SetDefault("ffmpeg.video_bitrate", "6000k")
	v.SetDefault("ffmpeg.audio_bitrate", "192k")

	// Process pool defaults
	v.SetDefault("process_pool.size", defaultPoolSize)
	v.SetDefault("process_pool.acquire_timeout", defaultAcquireTimeout)
	v.SetDefault("process_pool.spawn_attempts", defaultSpawnAttempts)
	v.SetDefault("process_pool.health_interval", defaultHealthInterval)
	v.SetDefault("process_pool.rss_soft_limit", defaultRSSSoftLimit)
	v.SetDefault("process_pool.rss_grace", defaultRSSGrace)
	v.SetDefault("process_pool.shutdown_grace", defaultShutdownGrace)

	// Playout defaults
	v.SetDefault("playout.build_days", defaultBuildDays)
	v.SetDefault("playout.resume_threshold", defaultResumeThreshold)
	v.SetDefault("playout.overshoot_tolerance", defaultOvershootTolerance)
	v.SetDefault("playout.prewarm_channels", []string{})

	// Resolver defaults
	v.SetDefault("resolver.youtube_extractor", "yt-dlp")
	v.SetDefault("resolver.youtube_cookie_jar", "")
	v.SetDefault("resolver.extract_timeout", defaultExtractTimeout)
	v.SetDefault("resolver.refresh_workers", defaultRefreshWorkers)

	// AI agent defaults
	v.SetDefault("ai_agent.enabled", false)
	v.SetDefault("ai_agent.bounded_agent_enabled", false)
	v.SetDefault("ai_agent.metadata_self_resolution_enabled", false)
	v.SetDefault("ai_agent.metadata_self_resolution_cooldown_sec", defaultMetadataCooldownSec)
	v.SetDefault("ai_agent.force_metadata_resolution", false)
	v.SetDefault("ai_agent.containment_pool_pressure_threshold", defaultPoolPressureThresh)
	v.SetDefault("ai_agent.containment_restart_storm_threshold", defaultStormThreshold)
	v.SetDefault("ai_agent.containment_restart_storm_window_sec", defaultStormWindowSec)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "exstreamtv.db")
	v.SetDefault("database.max_open_conns_base", defaultMaxOpenConnsBase)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.logo_dir", "logos")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.media_roots", []string{})
	v.SetDefault("storage.logo_retention", defaultLogoRetentionDays*24*time.Hour)
	v.SetDefault("storage.max_logo_size", defaultMaxLogoSizeBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.ring_size", defaultLogRingSize)

	// Backup defaults
	v.SetDefault("backup.directory", "") // empty = {storage.base_dir}/backups
	v.SetDefault("backup.schedule.enabled", true)
	v.SetDefault("backup.schedule.cron", "0 0 3 * * *") // daily at 3 AM (6-field cron)
	v.SetDefault("backup.schedule.retention", defaultBackupRetention)
}

// ThrottleModes are the accepted stream_throttler.mode values.
var ThrottleModes = map[string]bool{
	"realtime": true,
	"burst":    true,
	"adaptive": true,
	"disabled": true,
}

// HWAccelModes are the accepted ffmpeg.hw_accel values.
var HWAccelModes = map[string]bool{
	"auto":         true,
	"none":         true,
	"videotoolbox": true,
	"nvenc":        true,
	"qsv":          true,
	"vaapi":        true,
	"amf":          true,
}

// Validate checks the configuration for errors. Every violation here maps
// to a 422 at the config API; the document on disk is never replaced by a
// config that fails validation.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.TunerCount < 1 || c.Server.TunerCount > 100 {
		return fmt.Errorf("server.tuner_count must be between 1 and 100")
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be at least 1")
	}
	if c.Server.APIKeyRequired && c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required when server.api_key_required is set")
	}

	// Plex validation
	if c.Plex.Enabled {
		if c.Plex.BaseURL == "" {
			return fmt.Errorf("plex.base_url is required when plex.enabled is set")
		}
		if c.Plex.Token == "" {
			return fmt.Errorf("plex.token is required when plex.enabled is set")
		}
	}

	// Streaming validation
	if c.Streaming.BufferSize < minBufferSize || c.Streaming.BufferSize > maxBufferSize {
		return fmt.Errorf("streaming.buffer_size must be between 64KiB and 16MiB")
	}
	if c.Streaming.ReadSize < minReadSize || c.Streaming.ReadSize > maxReadSize {
		return fmt.Errorf("streaming.read_size must be between 4KiB and 1MiB")
	}
	if c.Streaming.ReadSize > c.Streaming.BufferSize {
		return fmt.Errorf("streaming.read_size must not exceed streaming.buffer_size")
	}
	if c.Streaming.SessionBacklog < 1 {
		return fmt.Errorf("streaming.session_backlog must be at least 1")
	}
	if c.Streaming.MaxSessionsPerChan < 1 || c.Streaming.MaxSessionsPerChan > 1000 {
		return fmt.Errorf("streaming.max_sessions_per_channel must be between 1 and 1000")
	}

	// Throttler validation
	if !ThrottleModes[c.StreamThrottle.Mode] {
		return fmt.Errorf("stream_throttler.mode must be one of: realtime, burst, adaptive, disabled")
	}
	if c.StreamThrottle.TargetBitrateBPS < 0 {
		return fmt.Errorf("stream_throttler.target_bitrate_bps must not be negative")
	}

	// FFmpeg validation
	if !HWAccelModes[c.FFmpeg.HWAccel] {
		return fmt.Errorf("ffmpeg.hw_accel must be one of: auto, none, videotoolbox, nvenc, qsv, vaapi, amf")
	}

	// Process pool validation
	if c.ProcessPool.Size < 1 || c.ProcessPool.Size > 64 {
		return fmt.Errorf("process_pool.size must be between 1 and 64")
	}
	if c.ProcessPool.AcquireTimeout < time.Second {
		return fmt.Errorf("process_pool.acquire_timeout must be at least 1s")
	}
	if c.ProcessPool.SpawnAttempts < 1 || c.ProcessPool.SpawnAttempts > 10 {
		return fmt.Errorf("process_pool.spawn_attempts must be between 1 and 10")
	}
	if c.ProcessPool.HealthInterval < time.Second {
		return fmt.Errorf("process_pool.health_interval must be at least 1s")
	}

	// Playout validation
	if c.Playout.BuildDays < 1 || c.Playout.BuildDays > 14 {
		return fmt.Errorf("playout.build_days must be between 1 and 14")
	}
	if c.Playout.ResumeThreshold < 0 {
		return fmt.Errorf("playout.resume_threshold must not be negative")
	}
	if c.Playout.OvershootTolerance < 0 {
		return fmt.Errorf("playout.overshoot_tolerance must not be negative")
	}

	// Resolver validation
	if c.Resolver.YouTubeExtractor == "" {
		return fmt.Errorf("resolver.youtube_extractor is required")
	}
	if c.Resolver.ExtractTimeout < time.Second {
		return fmt.Errorf("resolver.extract_timeout must be at least 1s")
	}
	if c.Resolver.RefreshWorkers < 1 || c.Resolver.RefreshWorkers > 16 {
		return fmt.Errorf("resolver.refresh_workers must be between 1 and 16")
	}

	// AI agent validation
	if t := c.AIAgent.ContainmentPoolPressureThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("ai_agent.containment_pool_pressure_threshold must be in (0, 1]")
	}
	if c.AIAgent.ContainmentRestartStormThreshold < 1 {
		return fmt.Errorf("ai_agent.containment_restart_storm_threshold must be at least 1")
	}
	if c.AIAgent.ContainmentRestartStormWindowSec < 1 {
		return fmt.Errorf("ai_agent.containment_restart_storm_window_sec must be at least 1")
	}
	if c.AIAgent.MetadataSelfResolutionCooldownSec < 0 {
		return fmt.Errorf("ai_agent.metadata_self_resolution_cooldown_sec must not be negative")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	validDBLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if !validDBLevels[c.Database.LogLevel] {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}
	if c.Database.MaxOpenConnsBase < 1 {
		return fmt.Errorf("database.max_open_conns_base must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.RingSize < defaultLogRingSize {
		return fmt.Errorf("logging.ring_size must be at least %d", defaultLogRingSize)
	}

	// Backup validation
	if c.Backup.Schedule.Retention < 1 || c.Backup.Schedule.Retention > 365 {
		return fmt.Errorf("backup.schedule.retention must be between 1 and 365")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the externally reachable base URL. PublicURL wins when
// set; otherwise the bind address is used.
func (c *ServerConfig) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// LogoPath returns the full path to the logo directory.
func (c *StorageConfig) LogoPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.LogoDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}

// BackupPath returns the backup directory path.
// If Directory is set, returns it directly; otherwise returns {BaseDir}/backups.
func (c *BackupConfig) BackupPath(storageBaseDir string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return fmt.Sprintf("%s/backups", storageBaseDir)
}

// PoolPressureThreshold returns the containment pool pressure threshold,
// falling back to the default when unset.
func (c *AIAgentConfig) PoolPressureThreshold() float64 {
	if c.ContainmentPoolPressureThreshold <= 0 || c.ContainmentPoolPressureThreshold > 1 {
		return defaultPoolPressureThresh
	}
	return c.ContainmentPoolPressureThreshold
}

// StormWindow returns the restart-storm window as a duration.
func (c *AIAgentConfig) StormWindow() time.Duration {
	return time.Duration(c.ContainmentRestartStormWindowSec) * time.Second
}

// MetadataCooldown returns the metadata self-resolution cooldown as a
// duration.
func (c *AIAgentConfig) MetadataCooldown() time.Duration {
	return time.Duration(c.MetadataSelfResolutionCooldownSec) * time.Second
}
