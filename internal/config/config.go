package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ReconcileConfig configures a reconciliation run.
type ReconcileConfig struct {
	// SharedFieldPool controls whether field records form one pool queried by
	// every project's pass (field crews are not project-aware) or are scoped
	// to the project being reconciled. The shared pool is the production
	// shape; scoping it changes the candidate-scan cost per project.
	SharedFieldPool bool `yaml:"shared_field_pool" mapstructure:"shared_field_pool"`

	// ProximityRadiusM is the maximum accepted proximity-match distance.
	ProximityRadiusM float64 `yaml:"proximity_radius_m" mapstructure:"proximity_radius_m"`

	// PropagateStatus enables writing the field_verified status back onto
	// planning assets linked with geographic evidence.
	PropagateStatus bool `yaml:"propagate_status" mapstructure:"propagate_status"`

	// BatchSize caps how many linkage rows are buffered before a bulk upsert.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	SampleSize int `yaml:"sample_size" mapstructure:"sample_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FIELDLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("reconcile.shared_field_pool", true)
	v.SetDefault("reconcile.proximity_radius_m", 30.0)
	v.SetDefault("reconcile.propagate_status", true)
	v.SetDefault("reconcile.batch_size", 500)
	v.SetDefault("report.sample_size", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
