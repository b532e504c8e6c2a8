package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration. Structural constants (belt
// capacity, table sizes) live in the state package because they shape the
// shared memory layout and cannot differ between processes.
type Config struct {
	IPC        IPCConfig
	Worker     WorkerConfig
	Dispatcher DispatcherConfig
	Truck      TruckConfig
	Express    ExpressConfig
	Logging    LogConfig
	Metrics    MetricsConfig
}

// IPCConfig holds the SysV resource keys. All processes of one simulation
// must agree on these.
type IPCConfig struct {
	ShmKey int `envconfig:"WH_SHM_KEY" default:"1234"`
	SemKey int `envconfig:"WH_SEM_KEY" default:"5678"`
	MsgKey int `envconfig:"WH_MSG_KEY" default:"9012"`
}

// WorkerConfig holds producer settings.
type WorkerConfig struct {
	Cap          int           `envconfig:"WH_WORKER_CAP" default:"3"`
	ProduceDelay time.Duration `envconfig:"WH_WORKER_PRODUCE_DELAY" default:"250ms"`
	QuotaRetry   time.Duration `envconfig:"WH_WORKER_QUOTA_RETRY" default:"500ms"`
}

// DispatcherConfig holds consumer settings.
type DispatcherConfig struct {
	RetryDelay        time.Duration `envconfig:"WH_DISPATCH_RETRY_DELAY" default:"200ms"`
	IdleDelay         time.Duration `envconfig:"WH_DISPATCH_IDLE_DELAY" default:"100ms"`
	NearFullThreshold float64       `envconfig:"WH_DISPATCH_NEAR_FULL" default:"0.99"`
}

// TruckConfig holds vehicle settings. MaxLoad is fixed; weight and volume
// limits are randomized per dock visit within the given ranges.
type TruckConfig struct {
	MaxLoad    int           `envconfig:"WH_TRUCK_MAX_LOAD" default:"100"`
	MinWeight  float64       `envconfig:"WH_TRUCK_MIN_WEIGHT" default:"50"`
	MaxWeight  float64       `envconfig:"WH_TRUCK_MAX_WEIGHT" default:"150"`
	MinVolume  float64       `envconfig:"WH_TRUCK_MIN_VOLUME" default:"200"`
	MaxVolume  float64       `envconfig:"WH_TRUCK_MAX_VOLUME" default:"500"`
	DockRetry  time.Duration `envconfig:"WH_TRUCK_DOCK_RETRY" default:"1s"`
	TransitMin time.Duration `envconfig:"WH_TRUCK_TRANSIT_MIN" default:"2s"`
	TransitMax time.Duration `envconfig:"WH_TRUCK_TRANSIT_MAX" default:"5s"`
}

// ExpressConfig holds VIP handler settings.
type ExpressConfig struct {
	MinWeight float64 `envconfig:"WH_EXPRESS_MIN_WEIGHT" default:"1"`
	MaxWeight float64 `envconfig:"WH_EXPRESS_MAX_WEIGHT" default:"5"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"WH_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"WH_LOG_DEV" default:"false"`
}

// MetricsConfig holds the optional Prometheus exposition address, used by
// the master process only. Empty disables the listener.
type MetricsConfig struct {
	Addr string `envconfig:"WH_METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration, mirroring the env defaults.
func Default() *Config {
	return &Config{
		IPC: IPCConfig{
			ShmKey: 1234,
			SemKey: 5678,
			MsgKey: 9012,
		},
		Worker: WorkerConfig{
			Cap:          3,
			ProduceDelay: 250 * time.Millisecond,
			QuotaRetry:   500 * time.Millisecond,
		},
		Dispatcher: DispatcherConfig{
			RetryDelay:        200 * time.Millisecond,
			IdleDelay:         100 * time.Millisecond,
			NearFullThreshold: 0.99,
		},
		Truck: TruckConfig{
			MaxLoad:    100,
			MinWeight:  50,
			MaxWeight:  150,
			MinVolume:  200,
			MaxVolume:  500,
			DockRetry:  time.Second,
			TransitMin: 2 * time.Second,
			TransitMax: 5 * time.Second,
		},
		Express: ExpressConfig{
			MinWeight: 1,
			MaxWeight: 5,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
