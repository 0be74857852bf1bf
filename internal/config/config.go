package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the wgfriend CLI.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Store       StoreConfig    `mapstructure:"store"`
	SSH         SSHConfig      `mapstructure:"ssh"`
	DNS         DNSConfig      `mapstructure:"dns"`
	Deploy      DeployConfig   `mapstructure:"deploy"`
	Retry       RetryConfig    `mapstructure:"retry"`
}

// StoreConfig locates the structured store, §6's "persistent
// structured store" external interface.
type StoreConfig struct {
	Path string `mapstructure:"path"` // empty means store.DefaultPath()
}

// SSHConfig carries SSH defaults loaded from the config file. No command
// reads them: the --ssh-* flags have no config fallback, and
// SSHTransport uses its own fixed dial timeout.
type SSHConfig struct {
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

// DNSConfig is the default DNS pushed to a remote whose access level
// routes all traffic through an exit node, §4.6 rule 3.
type DNSConfig struct {
	ExitDefault []string `mapstructure:"exit_default"`
}

// DeployConfig carries §4.9's deployment-surface defaults: interface
// name, remote config path, and how long a timestamped backup is kept
// around before an operator is expected to clean it up by hand.
type DeployConfig struct {
	InterfaceName    string        `mapstructure:"interface_name"`
	RemoteConfigPath string        `mapstructure:"remote_config_path"`
	BackupRetention  time.Duration `mapstructure:"backup_retention"`
}

// RetryConfig holds SSH retry/backoff settings, modeled on the teacher's
// RateLimitConfig shape. They are loaded but no code reads them:
// SSHTransport makes a single attempt per Execute/Put call.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/wgfriend")

	v.SetEnvPrefix("WGFRIEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	// Store defaults — empty path means store.DefaultPath() picks
	// $HOME/.wgfriend/store.db; spec.md §6 also allows WG_FRIEND_DB.
	v.SetDefault("store.path", "")

	// SSH defaults
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.private_key_path", "~/.ssh/id_ed25519")
	v.SetDefault("ssh.dial_timeout", "30s")

	// DNS defaults
	v.SetDefault("dns.exit_default", []string{"1.1.1.1", "8.8.8.8"})

	// Deployment defaults
	v.SetDefault("deploy.interface_name", "wg0")
	v.SetDefault("deploy.remote_config_path", "")
	v.SetDefault("deploy.backup_retention", "168h")

	// Retry/backoff defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
}
