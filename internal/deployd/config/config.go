package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	viper "github.com/spf13/viper"
)

const configName = "deployd"

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployd_path", "$HOME/.deployd")
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("log_level", "info")

	v.SetDefault("supervisor.grace_period", 5*time.Second)

	v.SetDefault("local.driver", "exec")
	v.SetDefault("local.command", "")
	v.SetDefault("local.args", []string{})
	v.SetDefault("local.dir", "")
	v.SetDefault("local.port", 3000)
	v.SetDefault("local.image", "")
	v.SetDefault("local.ready_timeout", 30*time.Second)

	v.SetDefault("cloud.command", "")
	v.SetDefault("cloud.dir", "")
	v.SetDefault("cloud.default_environment", "dev")
	v.SetDefault("cloud.artifact_path", "")
	v.SetDefault("cloud.url_pattern", `https://[^\s"']+`)
	v.SetDefault("cloud.validate_delay", 15*time.Second)

	v.SetDefault("preflight.command", "")
	v.SetDefault("preflight.args", []string{})
	v.SetDefault("preflight.dir", "")
	v.SetDefault("preflight.timeout", 2*time.Minute)

	v.SetDefault("validator.timeout", 10*time.Second)
	v.SetDefault("validator.retries", 0)
	v.SetDefault("validator.probes_file", "")

	v.SetDefault("health.database_url", "")
	v.SetDefault("health.interval", 30*time.Second)

	v.SetDefault("broadcast.queue_size", 256)
}

func loadEnv(v *viper.Viper) error {
	err := v.BindEnv("deployd_path", "DEPLOYD_PATH")
	if err != nil {
		return err
	}
	v.SetEnvPrefix("deployd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

func loadConfig(v *viper.Viper, paths ...string) (*DeploydConfig, error) {
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(v.GetString("deployd_path"))
	v.AddConfigPath(".")

	v.SetConfigType("yml")
	v.SetConfigName(configName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info().Msg("no deployd.yml found, using defaults")
	} else {
		log.Debug().Msgf("Loaded deployd config from %s", v.ConfigFileUsed())
	}

	return &DeploydConfig{v: v}, nil
}

// NewDeploydConfig reads deployd.yml from $DEPLOYD_PATH, the extra paths and the working
// directory. Every key can be overridden by DEPLOYD_<KEY> with dots replaced by
// underscores, e.g. DEPLOYD_LOCAL_PORT.
func NewDeploydConfig(paths ...string) (*DeploydConfig, error) {
	v := viper.New()
	setDefaults(v)
	if err := loadEnv(v); err != nil {
		return nil, err
	}
	return loadConfig(v, paths...)
}

type DeploydConfig struct {
	v *viper.Viper
}

func (c *DeploydConfig) DeploydPath() string {
	return c.v.GetString("deployd_path")
}

func (c *DeploydConfig) ListenAddr() string {
	return c.v.GetString("listen_addr")
}

func (c *DeploydConfig) LogLevel() string {
	return c.v.GetString("log_level")
}

func (c *DeploydConfig) GracePeriod() time.Duration {
	return c.v.GetDuration("supervisor.grace_period")
}

type LocalConfig struct {
	Driver       string
	Command      string
	Args         []string
	Dir          string
	Port         int
	Image        string
	ReadyTimeout time.Duration
}

func (c *DeploydConfig) Local() LocalConfig {
	return LocalConfig{
		Driver:       c.v.GetString("local.driver"),
		Command:      c.v.GetString("local.command"),
		Args:         c.v.GetStringSlice("local.args"),
		Dir:          c.v.GetString("local.dir"),
		Port:         c.v.GetInt("local.port"),
		Image:        c.v.GetString("local.image"),
		ReadyTimeout: c.v.GetDuration("local.ready_timeout"),
	}
}

type CloudConfig struct {
	Command            string
	Dir                string
	DefaultEnvironment string
	ArtifactPath       string
	URLPattern         string
	ValidateDelay      time.Duration
}

func (c *DeploydConfig) Cloud() CloudConfig {
	return CloudConfig{
		Command:            c.v.GetString("cloud.command"),
		Dir:                c.v.GetString("cloud.dir"),
		DefaultEnvironment: c.v.GetString("cloud.default_environment"),
		ArtifactPath:       c.v.GetString("cloud.artifact_path"),
		URLPattern:         c.v.GetString("cloud.url_pattern"),
		ValidateDelay:      c.v.GetDuration("cloud.validate_delay"),
	}
}

type PreflightConfig struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c *DeploydConfig) Preflight() PreflightConfig {
	return PreflightConfig{
		Command: c.v.GetString("preflight.command"),
		Args:    c.v.GetStringSlice("preflight.args"),
		Dir:     c.v.GetString("preflight.dir"),
		Timeout: c.v.GetDuration("preflight.timeout"),
	}
}

func (c *DeploydConfig) ValidatorTimeout() time.Duration {
	return c.v.GetDuration("validator.timeout")
}

func (c *DeploydConfig) ValidatorRetries() int {
	return c.v.GetInt("validator.retries")
}

func (c *DeploydConfig) ProbesFile() string {
	return c.v.GetString("validator.probes_file")
}

func (c *DeploydConfig) DatabaseURL() string {
	return c.v.GetString("health.database_url")
}

func (c *DeploydConfig) HealthInterval() time.Duration {
	return c.v.GetDuration("health.interval")
}

func (c *DeploydConfig) QueueSize() int {
	return c.v.GetInt("broadcast.queue_size")
}
