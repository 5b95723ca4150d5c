package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rehearsal/pkg/validation"

	"gopkg.in/yaml.v2"
)

const envPrefix = "REHEARSAL_"

// minDatagramBytes fits one 20 ms frame of 48 kHz 16-bit PCM behind the
// 6-byte packet header.
const minDatagramBytes = 6 + 2*960

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// PublicURL prefixes download links sent to clients.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Audio struct {
		UDPAddress         string        `yaml:"udp_address"`
		SampleRate         int           `yaml:"sample_rate"`
		FrameDuration      time.Duration `yaml:"frame_duration"`
		BufferLength       int           `yaml:"buffer_length"`
		SimultaneousVoices int           `yaml:"simultaneous_voices"`
		IdleTimeout        time.Duration `yaml:"idle_timeout"`
		MaxConnections     int           `yaml:"max_connections"`
		IsolateCodecErrors bool          `yaml:"isolate_codec_errors"`
		SlowTickThreshold  time.Duration `yaml:"slow_tick_threshold"`
		MaxDatagramBytes   int           `yaml:"max_datagram_bytes"`
		SocketBufferBytes  int           `yaml:"socket_buffer_bytes"`

		AGC struct {
			Target  float64 `yaml:"target"`
			Mu      float64 `yaml:"mu"`
			MaxGain float64 `yaml:"max_gain"`
		} `yaml:"agc"`
	} `yaml:"audio"`

	Control struct {
		Address       string        `yaml:"address"`
		MaxFrameBytes int           `yaml:"max_frame_bytes"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
	} `yaml:"control"`

	Signal struct {
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		DebounceInterval time.Duration `yaml:"debounce_interval"`
	} `yaml:"signal"`

	Session struct {
		Dir string `yaml:"dir"`
	} `yaml:"session"`

	Backup struct {
		Enabled bool `yaml:"enabled"`
		// Dir defaults to <session.dir>/backups.
		Dir      string        `yaml:"dir"`
		Interval time.Duration `yaml:"interval"`
		Keep     int           `yaml:"keep"`
	} `yaml:"backup"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret         string        `yaml:"jwt_secret"`
		TokenTTL          time.Duration `yaml:"token_ttl"`
		ConductorPassword string        `yaml:"conductor_password"`
		AllowedOrigins    []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int   `yaml:"connections_per_minute"`
			MaxConcurrent        int   `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64 `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if err := validation.ValidateURL(c.Server.PublicURL); err != nil {
		return fmt.Errorf("server.public_url: %w", err)
	}

	// Audio
	if c.Audio.UDPAddress == "" {
		return fmt.Errorf("audio.udp_address must not be empty")
	}
	if c.Audio.SampleRate != 48000 {
		return fmt.Errorf("audio.sample_rate must be 48000")
	}
	if c.Audio.FrameDuration != 20*time.Millisecond {
		return fmt.Errorf("audio.frame_duration must be 20ms")
	}
	if c.Audio.BufferLength < 0 {
		return fmt.Errorf("audio.buffer_length must be >= 0")
	}
	if c.Audio.SimultaneousVoices <= 0 {
		return fmt.Errorf("audio.simultaneous_voices must be > 0")
	}
	if c.Audio.IdleTimeout < 0 {
		return fmt.Errorf("audio.idle_timeout must be >= 0")
	}
	if c.Audio.MaxConnections < 0 {
		return fmt.Errorf("audio.max_connections must be >= 0")
	}
	if c.Audio.MaxDatagramBytes < minDatagramBytes || c.Audio.MaxDatagramBytes > 65535 {
		return fmt.Errorf("audio.max_datagram_bytes must be between %d and 65535", minDatagramBytes)
	}
	if c.Audio.AGC.Target <= 0 || c.Audio.AGC.Target > 1 {
		return fmt.Errorf("audio.agc.target must be in (0, 1]")
	}
	if c.Audio.AGC.Mu <= 0 {
		return fmt.Errorf("audio.agc.mu must be > 0")
	}
	if c.Audio.AGC.MaxGain < 1 {
		return fmt.Errorf("audio.agc.max_gain must be >= 1")
	}

	// Control
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.MaxFrameBytes <= 0 || c.Control.MaxFrameBytes > 65535 {
		return fmt.Errorf("control.max_frame_bytes must be in 1..65535")
	}
	if c.Control.ReadTimeout < 0 {
		return fmt.Errorf("control.read_timeout must be >= 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}

	// Session
	if c.Session.Dir == "" {
		return fmt.Errorf("session.dir must not be empty")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
		if c.Backup.Keep < 1 {
			return fmt.Errorf("backup.keep must be >= 1 when backup.enabled=true")
		}
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	// An empty conductor password disables conductor login.
	if c.Auth.ConductorPassword != "" {
		if err := validation.ValidatePassword(c.Auth.ConductorPassword); err != nil {
			return fmt.Errorf("auth.conductor_password: %w", err)
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.PublicURL = "http://localhost:8080"

	cfg.Audio.UDPAddress = ":9000"
	cfg.Audio.SampleRate = 48000
	cfg.Audio.FrameDuration = 20 * time.Millisecond
	cfg.Audio.BufferLength = 3
	cfg.Audio.SimultaneousVoices = 2
	cfg.Audio.IdleTimeout = 10 * time.Second
	cfg.Audio.MaxConnections = 64
	cfg.Audio.IsolateCodecErrors = true
	cfg.Audio.SlowTickThreshold = 5 * time.Millisecond
	cfg.Audio.MaxDatagramBytes = 65535
	cfg.Audio.SocketBufferBytes = 1 << 20
	cfg.Audio.AGC.Target = 0.5
	cfg.Audio.AGC.Mu = 0.1
	cfg.Audio.AGC.MaxGain = 25

	cfg.Control.Address = ":9001"
	cfg.Control.MaxFrameBytes = 65535
	cfg.Control.ReadTimeout = 2 * time.Minute
	cfg.Control.WriteTimeout = 5 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.DebounceInterval = 250 * time.Millisecond

	cfg.Session.Dir = "session"

	cfg.Backup.Enabled = true
	cfg.Backup.Interval = 30 * time.Second
	cfg.Backup.Keep = 5

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 5 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 12 * time.Hour
	cfg.Auth.ConductorPassword = ""
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 4 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 0.1

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv(envPrefix + "SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv(envPrefix + "UDP_ADDRESS"); addr != "" {
		c.Audio.UDPAddress = addr
	}
	if addr := os.Getenv(envPrefix + "CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if dir := os.Getenv(envPrefix + "SESSION_DIR"); dir != "" {
		c.Session.Dir = dir
	}
	if level := os.Getenv(envPrefix + "LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv(envPrefix + "JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if password := os.Getenv(envPrefix + "CONDUCTOR_PASSWORD"); password != "" {
		c.Auth.ConductorPassword = password
	}
	if addr := os.Getenv(envPrefix + "REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if n, err := strconv.Atoi(os.Getenv(envPrefix + "BUFFER_LENGTH")); err == nil {
		c.Audio.BufferLength = n
	}
}
