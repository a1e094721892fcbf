// Package config provides configuration management for pdbc using Viper.
package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/percona/percona-dbclone-mongodb/errors"
)

// Config holds all pdbc configuration.
type Config struct {
	Source   string `mapstructure:"source"`
	Target   string `mapstructure:"target"`
	Database string `mapstructure:"database"`

	// ShardedCollections are fully-qualified namespaces whose placement is
	// managed by an external partitioning layer. They are provisioned but
	// never document-copied.
	ShardedCollections []string `mapstructure:"sharded-collections"`

	IncludeNamespaces []string `mapstructure:"include-namespaces"`
	ExcludeNamespaces []string `mapstructure:"exclude-namespaces"`

	Log LogConfig `mapstructure:",squash"`

	Clone CloneOptionsConfig `mapstructure:",squash"`

	MetricsPort int `mapstructure:"metrics-port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

// CloneOptionsConfig holds clone behavior configuration. The values are read
// once at startup and passed into the clone call explicitly.
type CloneOptionsConfig struct {
	// SkipCorruptDocuments skips structurally invalid source documents with
	// a warning instead of aborting the clone.
	SkipCorruptDocuments bool `mapstructure:"skip-corrupt-documents"`

	// TwoPhaseIndexBuilds enables the two-phase secondary index build
	// protocol (durable build-start record plus aggregate commit).
	TwoPhaseIndexBuilds bool `mapstructure:"two-phase-index-builds"`

	// InternalAuth authenticates against the source as the internal system
	// identity before listing or streaming.
	InternalAuth bool `mapstructure:"internal-auth"`
}

// Load initializes Viper and returns a Config bound to the command's flags.
func Load(cmd *cobra.Command) (*Config, error) {
	viper.SetEnvPrefix("PDBC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	return &cfg, nil
}

func bindEnvVars() {
	_ = viper.BindEnv("source", "PDBC_SOURCE_URI")
	_ = viper.BindEnv("target", "PDBC_TARGET_URI")
	_ = viper.BindEnv("database", "PDBC_DATABASE")

	_ = viper.BindEnv("sharded-collections", "PDBC_SHARDED_COLLECTIONS")
	_ = viper.BindEnv("include-namespaces", "PDBC_INCLUDE_NAMESPACES")
	_ = viper.BindEnv("exclude-namespaces", "PDBC_EXCLUDE_NAMESPACES")

	_ = viper.BindEnv("log-level", "PDBC_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "PDBC_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "PDBC_LOG_NO_COLOR", "PDBC_NO_COLOR")

	_ = viper.BindEnv("skip-corrupt-documents", "PDBC_SKIP_CORRUPT_DOCUMENTS")
	_ = viper.BindEnv("two-phase-index-builds", "PDBC_TWO_PHASE_INDEX_BUILDS")
	_ = viper.BindEnv("internal-auth", "PDBC_INTERNAL_AUTH")

	_ = viper.BindEnv("metrics-port", "PDBC_METRICS_PORT")
}
