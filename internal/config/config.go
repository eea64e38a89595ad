package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Journal JournalConfig `mapstructure:"journal"`
	Buses   []BusConfig   `mapstructure:"buses"`
	Devices DevicesConfig `mapstructure:"device_descriptors"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type JournalConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// BusConfig identifies one fieldbus and its cycle parameters. It is
// immutable once bound to a master; the interface name is the registry key.
type BusConfig struct {
	Interface      string        `mapstructure:"interface"`
	CycleTime      time.Duration `mapstructure:"cycle_time"`
	RTPrio         int           `mapstructure:"rt_prio"`
	DCEnabled      bool          `mapstructure:"dc_enabled"`
	Sync0Shift     time.Duration `mapstructure:"sync0_shift"`
	Sync0Addresses []uint32      `mapstructure:"sync0_addresses"`
}

// Equal reports structural equality. A mismatch between a new acquisition
// and the configuration already bound to a live master is surfaced as a
// warning, not a rejection.
func (b BusConfig) Equal(o BusConfig) bool {
	return b.Interface == o.Interface &&
		b.CycleTime == o.CycleTime &&
		b.RTPrio == o.RTPrio &&
		b.DCEnabled == o.DCEnabled &&
		b.Sync0Shift == o.Sync0Shift &&
		slices.Equal(b.Sync0Addresses, o.Sync0Addresses)
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.max_connections", 4)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ECAT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Buses {
		applyBusDefaults(&config.Buses[i])
	}

	return &config, nil
}

func applyBusDefaults(b *BusConfig) {
	if b.CycleTime == 0 {
		b.CycleTime = time.Millisecond
	}
	if b.RTPrio == 0 {
		// Deliberately below the platform ceiling of 99 so kernel
		// housekeeping threads are not starved.
		b.RTPrio = 48
	}
}

func (j *JournalConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		j.User, j.Password, j.Host, j.Port, j.Database)
}
