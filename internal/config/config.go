// Package config loads the agent configuration. Later sources win:
// defaults, the YAML file, .env and the process environment, then command
// line overrides. The result is validated against an embedded CUE schema.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	BusMQTT = "mqtt"
	BusMock = "mock"
)

// Config keys are shared by the YAML file and the CUE schema. Intervals are
// in seconds.
type Config struct {
	DroneIP           string  `yaml:"drone_ip" json:"drone_ip"`
	DroneServiceHost  string  `yaml:"drone_service_host" json:"drone_service_host"`
	DroneServicePort  int     `yaml:"drone_service_port" json:"drone_service_port"`
	ParcelAutomatIP   string  `yaml:"parcel_automat_ip" json:"parcel_automat_ip"`
	ReconnectInterval float64 `yaml:"reconnect_interval" json:"reconnect_interval"`
	HeartbeatInterval float64 `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	VideoFPS          int     `yaml:"video_fps" json:"video_fps"`
	DebounceWindow    float64 `yaml:"debounce_window" json:"debounce_window"`
	LogLevel          string  `yaml:"log_level" json:"log_level"`
	LogFormat         string  `yaml:"log_format" json:"log_format"`
	Bus               string  `yaml:"bus" json:"bus"`
	ScriptsDir        string  `yaml:"scripts_dir" json:"scripts_dir"`
	PythonBin         string  `yaml:"python_bin" json:"python_bin"`
	MQTTBroker        string  `yaml:"mqtt_broker" json:"mqtt_broker"`
	MQTTTopicPrefix   string  `yaml:"mqtt_topic_prefix" json:"mqtt_topic_prefix"`
	PrivateKey        string  `yaml:"private_key" json:"private_key"`
}

func Default() Config {
	return Config{
		DroneIP:           "192.168.10.3",
		DroneServiceHost:  "localhost",
		DroneServicePort:  8001,
		ReconnectInterval: 5,
		HeartbeatInterval: 30,
		VideoFPS:          5,
		DebounceWindow:    5,
		LogLevel:          "info",
		LogFormat:         "json",
		Bus:               BusMQTT,
		ScriptsDir:        "/root",
		PythonBin:         "python3",
		MQTTBroker:        "tcp://localhost:1883",
	}
}

// Override is applied after the environment, before validation.
type Override func(*Config)

// Load builds the configuration from path (optional), .env, the environment
// and overrides.
func Load(path string, overrides ...Override) (*Config, error) {
	// a missing .env is normal outside of development
	_ = godotenv.Load()
	return load(path, os.LookupEnv, overrides...)
}

func load(path string, lookup func(string) (string, bool), overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = n
		return nil
	}
	secs := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = f
		return nil
	}

	str("DRONE_IP", &cfg.DroneIP)
	str("DRONE_SERVICE_HOST", &cfg.DroneServiceHost)
	str("PARCEL_AUTOMAT_IP", &cfg.ParcelAutomatIP)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("SCRIPTS_DIR", &cfg.ScriptsDir)
	str("PYTHON_BIN", &cfg.PythonBin)
	str("MQTT_BROKER", &cfg.MQTTBroker)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTTTopicPrefix)
	str("AGENT_PRIVATE_KEY", &cfg.PrivateKey)

	if err := integer("DRONE_SERVICE_PORT", &cfg.DroneServicePort); err != nil {
		return err
	}
	if err := integer("VIDEO_FPS", &cfg.VideoFPS); err != nil {
		return err
	}
	if err := secs("RECONNECT_INTERVAL", &cfg.ReconnectInterval); err != nil {
		return err
	}
	if err := secs("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := secs("DEBOUNCE_WINDOW", &cfg.DebounceWindow); err != nil {
		return err
	}

	if v, ok := lookup("USE_MOCK_HARDWARE"); ok && v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "USE_MOCK_HARDWARE")
		}
		if mock {
			cfg.Bus = BusMock
		} else {
			cfg.Bus = BusMQTT
		}
	}
	return nil
}

func (c *Config) WebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws/drone", c.DroneServiceHost, c.DroneServicePort)
}

func toDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) ReconnectDuration() time.Duration { return toDuration(c.ReconnectInterval) }

func (c *Config) HeartbeatDuration() time.Duration { return toDuration(c.HeartbeatInterval) }

func (c *Config) DebounceDuration() time.Duration { return toDuration(c.DebounceWindow) }

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.Wrap(err, "encode config")
}
