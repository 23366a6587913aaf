package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingToken is reported by Validate when no Control D API token is set.
var ErrMissingToken = errors.New("controld.api_token is required (set CONTROLD_API_TOKEN)")

// Config is the root configuration of the bridge. Values come from defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	ControlD ControlDConfig `yaml:"controld"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// ControlDConfig holds the remote API settings.
type ControlDConfig struct {
	APIToken string `yaml:"api_token"`
	BaseURL  string `yaml:"base_url"`
	// RefreshInterval and Timeout are in seconds.
	RefreshInterval int `yaml:"refresh_interval"`
	Timeout         int `yaml:"timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig enables the Postgres entity cache when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// MQTTConfig enables the MQTT control surface when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// Load builds a Config. An empty path skips the file and uses defaults plus
// environment overrides. Validation is left to the caller so a missing token
// can be reported without aborting the process.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ControlD: ControlDConfig{
			BaseURL:         "https://api.controld.com",
			RefreshInterval: 60,
			Timeout:         15,
		},
		HTTP: HTTPConfig{Addr: ":8081"},
		Log:  LogConfig{Level: "info"},
		MQTT: MQTTConfig{
			ClientID:    "controld-bridge",
			TopicPrefix: "controld",
			QoS:         1,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CONTROLD_API_TOKEN"); v != "" {
		cfg.ControlD.APIToken = v
	}
	if v := os.Getenv("CONTROLD_BASE_URL"); v != "" {
		cfg.ControlD.BaseURL = v
	}
	if v := os.Getenv("CONTROLD_REFRESH_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing CONTROLD_REFRESH_INTERVAL: %w", err)
		}
		cfg.ControlD.RefreshInterval = n
	}
	if v := os.Getenv("CONTROLD_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing CONTROLD_TIMEOUT: %w", err)
		}
		cfg.ControlD.Timeout = n
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	// MQTT
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("MQTT_QOS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing MQTT_QOS: %w", err)
		}
		cfg.MQTT.QoS = n
	}
	return nil
}

// Validate checks the configuration. All problems are reported in a single
// error; a missing token can be detected with errors.Is(err, ErrMissingToken).
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ControlD.APIToken) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.ControlD.BaseURL == "" {
		errs = append(errs, errors.New("controld.base_url is required"))
	}
	if c.ControlD.RefreshInterval <= 0 {
		errs = append(errs, errors.New("controld.refresh_interval must be positive"))
	}
	if c.ControlD.Timeout <= 0 {
		errs = append(errs, errors.New("controld.timeout must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// RefreshInterval returns the status refresh period as a Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.ControlD.RefreshInterval) * time.Second
}

// Timeout returns the Control D request timeout as a Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ControlD.Timeout) * time.Second
}
