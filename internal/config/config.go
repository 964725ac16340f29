package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App           AppConfig            `mapstructure:"app"`
	Sources       []SourceConfig       `mapstructure:"sources"`
	VerifyTarget  VerifyTargetConfig   `mapstructure:"verify_target"`
	Destinations  []DestinationConfig  `mapstructure:"destinations"`
	Pipeline      PipelineConfig       `mapstructure:"pipeline"`
	Notifications []NotificationConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	WorkDir  string `mapstructure:"work_dir"`
}

// SourceConfig describes one logical dataset to back up: a database
// instance or an object-storage bucket.
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	Engine   string `mapstructure:"engine"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`

	// Bucket sources (engine: s3)
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// VerifyTargetConfig names the isolated, disposable instance that
// test-restores are performed against. It must never point at a
// production instance; restore and drop operations mutate it freely.
type VerifyTargetConfig struct {
	Engine    string `mapstructure:"engine"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	SSLMode   string `mapstructure:"ssl_mode"`
	SurfaceID string `mapstructure:"surface_id"`
}

type DestinationConfig struct {
	Type    string `mapstructure:"type"` // host | surface | s3
	Enabled bool   `mapstructure:"enabled"`

	// host destinations
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`

	// surface destinations (a container reachable via the local docker daemon)
	SurfaceID string `mapstructure:"surface_id"`

	// s3 destinations
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type PipelineConfig struct {
	TolerancePct            float64 `mapstructure:"tolerance_pct"`
	RetryCount              int     `mapstructure:"retry_count"`
	RetryDelaySeconds       int     `mapstructure:"retry_delay_seconds"`
	RetentionDays           int     `mapstructure:"retention_days"`
	RequiredFreeSpaceMB     int64   `mapstructure:"required_free_space_mb"`
	TransferMethod          string  `mapstructure:"transfer_method"` // scp | rsync
	AllowEmptyArtifacts     bool    `mapstructure:"allow_empty_artifacts"`
	ReadinessAttempts       int     `mapstructure:"readiness_attempts"`
	ReadinessIntervalSecond int     `mapstructure:"readiness_interval_seconds"`
	Compress                bool    `mapstructure:"compress"`
}

func (p PipelineConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

func (p PipelineConfig) ReadinessInterval() time.Duration {
	return time.Duration(p.ReadinessIntervalSecond) * time.Second
}

type NotificationConfig struct {
	Type    string `mapstructure:"type"` // telegram | log
	Enabled bool   `mapstructure:"enabled"`

	// Telegram
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "veriback")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("pipeline.tolerance_pct", 1.0)
	v.SetDefault("pipeline.retry_count", 3)
	v.SetDefault("pipeline.retry_delay_seconds", 5)
	v.SetDefault("pipeline.retention_days", 30)
	v.SetDefault("pipeline.required_free_space_mb", 5120)
	v.SetDefault("pipeline.transfer_method", "scp")
	v.SetDefault("pipeline.readiness_attempts", 30)
	v.SetDefault("pipeline.readiness_interval_seconds", 1)
	v.SetDefault("pipeline.compress", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		switch src.Engine {
		case "postgresql", "mysql", "mongodb":
			if src.Host == "" {
				return fmt.Errorf("sources[%d]: host is required", i)
			}
			if src.Database == "" {
				return fmt.Errorf("sources[%d]: database is required", i)
			}
		case "s3":
			if src.Bucket == "" {
				return fmt.Errorf("sources[%d]: bucket is required", i)
			}
		case "":
			return fmt.Errorf("sources[%d]: engine is required", i)
		default:
			return fmt.Errorf("sources[%d]: unsupported engine %q", i, src.Engine)
		}
	}

	needsTarget := false
	for _, src := range c.Sources {
		if src.Engine != "s3" {
			needsTarget = true
		}
	}
	if needsTarget && (c.VerifyTarget.Engine == "" || c.VerifyTarget.Host == "") {
		return fmt.Errorf("verify_target is required for database sources")
	}

	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination is required")
	}
	for i, dst := range c.Destinations {
		switch dst.Type {
		case "host":
			if dst.Addr == "" || dst.Path == "" {
				return fmt.Errorf("destinations[%d]: addr and path are required", i)
			}
		case "surface":
			if dst.SurfaceID == "" || dst.Path == "" {
				return fmt.Errorf("destinations[%d]: surface_id and path are required", i)
			}
		case "s3":
			if dst.Bucket == "" {
				return fmt.Errorf("destinations[%d]: bucket is required", i)
			}
		default:
			return fmt.Errorf("destinations[%d]: unsupported type %q", i, dst.Type)
		}
	}

	if c.Pipeline.TolerancePct < 0 {
		return fmt.Errorf("pipeline.tolerance_pct must be >= 0")
	}
	if c.Pipeline.RetryCount < 0 {
		return fmt.Errorf("pipeline.retry_count must be >= 0")
	}
	switch c.Pipeline.TransferMethod {
	case "scp", "rsync":
	default:
		return fmt.Errorf("pipeline.transfer_method must be scp or rsync")
	}

	return nil
}

func (c *Config) GetEnabledSources() []SourceConfig {
	var enabled []SourceConfig
	for _, src := range c.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled
}

func (c *Config) GetEnabledDestinations() []DestinationConfig {
	var enabled []DestinationConfig
	for _, dst := range c.Destinations {
		if dst.Enabled {
			enabled = append(enabled, dst)
		}
	}
	return enabled
}

func (c *Config) GetEnabledNotifications() []NotificationConfig {
	var enabled []NotificationConfig
	for _, n := range c.Notifications {
		if n.Enabled {
			enabled = append(enabled, n)
		}
	}
	return enabled
}
