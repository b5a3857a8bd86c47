// Package config loads and validates the YAML configuration for each of
// the four executables (broker/camera/dron/monitor), following the
// teacher's cmd/goqtt/main.go config.yml + yaml.v3 pattern, extended with
// struct-tag validation the way chenquan-lighthouse validates its own
// Configuration before the broker starts.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tallerdist/sentinela/internal/er"
)

// Logging is shared by every executable's config (spec §2 ambient stack).
type Logging struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=json text"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"omitempty,min=1"`
	MaxBackups int    `yaml:"max_backups" validate:"omitempty,min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"omitempty,min=0"`
}

// Retransmit mirrors brokerclient.Config / broker.RetransmitConfig's tunable
// fields (spec §5 retransmit defaults), expressed in seconds for YAML.
type Retransmit struct {
	InitialDelaySeconds int `yaml:"initial_delay_seconds" validate:"omitempty,min=1"`
	MaxBackoffSeconds   int `yaml:"max_backoff_seconds" validate:"omitempty,min=1"`
	MaxRetries          int `yaml:"max_retries" validate:"omitempty,min=0"`
	TickIntervalSeconds int `yaml:"tick_interval_seconds" validate:"omitempty,min=1"`
}

// User is one broker-side account seeded into internal/auth's store at
// startup (spec §4.2.1).
type User struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// BrokerConfig is cmd/broker's config file shape.
type BrokerConfig struct {
	Name           string     `yaml:"name" validate:"required"`
	Version        string     `yaml:"version"`
	MaxConnections int        `yaml:"max_connections" validate:"required,min=1"`
	WorkerPoolSize int        `yaml:"worker_pool_size" validate:"required,min=1"`
	StorePath      string     `yaml:"store_path" validate:"required"`
	BorderRadius   float64    `yaml:"border_radius" validate:"omitempty,gt=0"`
	Users          []User     `yaml:"users" validate:"dive"`
	Retransmit     Retransmit `yaml:"retransmit"`
	Logging        Logging    `yaml:"logging"`
}

// BrokerAddr names the broker this agent connects to, shared by every
// non-broker executable (spec §6 CLI surface: camera/dron/monitor all dial
// the broker over the same symmetric client).
type BrokerAddr struct {
	IP   string `yaml:"ip" validate:"required"`
	Port string `yaml:"port" validate:"required"`
}

// Credentials holds a CONNECT username/password pair. brokerclient.Connect
// does not send it, so agents connect without credentials.
type Credentials struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// CameraEntry seeds one camera into the camera subsystem's registry at
// startup (spec §4.4 camera table).
type CameraEntry struct {
	ID    uint8   `yaml:"id" validate:"required"`
	Lat   float64 `yaml:"lat"`
	Lon   float64 `yaml:"lon"`
	Range uint8   `yaml:"range" validate:"required,gt=0"`
}

// CameraConfig is cmd/camera's config file shape.
type CameraConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	Broker       BrokerAddr    `yaml:"broker" validate:"required"`
	Credentials  Credentials   `yaml:"credentials" validate:"required"`
	BorderRadius float64       `yaml:"border_radius" validate:"omitempty,gt=0"`
	Cameras      []CameraEntry `yaml:"cameras" validate:"required,min=1,dive"`
	Retransmit   Retransmit    `yaml:"retransmit"`
	Logging      Logging       `yaml:"logging"`
}

// DronConfig is cmd/dron's config file shape (spec §4.5 drone.Config plus
// connection/auth wrapping).
type DronConfig struct {
	Name           string      `yaml:"name" validate:"required"`
	Broker         BrokerAddr  `yaml:"broker" validate:"required"`
	Credentials    Credentials `yaml:"credentials" validate:"required"`
	ID             uint8       `yaml:"id" validate:"required"`
	RangeCenterLat float64     `yaml:"range_center_lat"`
	RangeCenterLon float64     `yaml:"range_center_lon"`
	MaintenanceLat float64     `yaml:"maintenance_lat"`
	MaintenanceLon float64     `yaml:"maintenance_lon"`
	MinBatteryLvl  uint8       `yaml:"min_battery_lvl" validate:"required,min=1,max=100"`
	SpeedKmh       uint16      `yaml:"speed_kmh" validate:"required,min=1"`
	Retransmit     Retransmit  `yaml:"retransmit"`
	Logging        Logging     `yaml:"logging"`
}

// MonitorConfig is cmd/monitor's config file shape.
type MonitorConfig struct {
	Name        string      `yaml:"name" validate:"required"`
	Broker      BrokerAddr  `yaml:"broker" validate:"required"`
	Credentials Credentials `yaml:"credentials" validate:"required"`
	Retransmit  Retransmit  `yaml:"retransmit"`
	Logging     Logging     `yaml:"logging"`
}

var validate = validator.New()

// Load reads path, unmarshals it into dst (a pointer to one of the
// *Config structs above), and validates it with the struct tags declared
// above. Matches the teacher's "invalid config is a bind-time fatal
// error" behavior (spec §6).
func Load(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &er.Err{Context: "Config, Load", Message: err}
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return &er.Err{Context: "Config, Unmarshal", Message: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &er.Err{Context: "Config, Validate", Message: err}
	}
	return nil
}
