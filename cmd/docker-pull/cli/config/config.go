package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the docker-pull CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Registry           string        `mapstructure:"registry" yaml:"registry"`
	AuthURL            string        `mapstructure:"auth-url" yaml:"auth-url"`
	Service            string        `mapstructure:"service" yaml:"service"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-tls-verify" yaml:"insecure-skip-tls-verify"`
	PlainHTTP          bool          `mapstructure:"plain-http" yaml:"plain-http"`
	DockerCredentials  bool          `mapstructure:"docker-credentials" yaml:"docker-credentials"`
	OutputDir          string        `mapstructure:"output-dir" yaml:"output-dir"`
	WorkDir            string        `mapstructure:"work-dir" yaml:"work-dir"`
	Concurrency        int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Progress           string        `mapstructure:"progress" yaml:"progress"`
}

// Default returns the built-in settings: anonymous pulls from Docker Hub,
// one layer at a time, into the current directory.
func Default() Config {
	return Config{
		Registry:    "registry-1.docker.io",
		AuthURL:     "https://auth.docker.io/token",
		Service:     "registry.docker.io",
		Concurrency: 1,
		Timeout:     5 * time.Minute,
		Progress:    "auto",
	}
}

// YAML renders c in the config file format.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
