package dhtrunner

import (
	"time"

	"github.com/anacrolix/log"
	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Probably not safe to modify this after it's given to a Runner, or to pass it to multiple
// Runners.
type Config struct {
	Logger log.Logger
	// All scheduling is done on this clock. Tests substitute a mock.
	Clock clock.Clock
	// Creates the engine when the Runner starts. Defaults to the anacrolix/dht engine.
	NewEngine NewEngineFunc
	// host:port addresses the engine falls back on when its table is empty.
	BootstrapNodes  []string
	GlobalBootstrap bool

	// How often Loop runs engine table maintenance.
	MaintenanceInterval time.Duration
	// How often Loop refreshes each listen subscription.
	ListenRefreshInterval time.Duration
	// The deadline Loop reports when there's nothing scheduled, including when not running.
	IdleLoopInterval time.Duration
	// Number of distinct values each listen subscription remembers having delivered.
	ListenDedupSize int
	// Limits listen refreshes across all subscriptions. Refreshes over the limit are skipped
	// until their next turn. nil means unlimited.
	ListenRefreshLimiter *rate.Limiter
}

func NewDefaultConfig() *Config {
	return &Config{
		Logger:                log.Default.WithNames("dhtrunner"),
		Clock:                 clock.New(),
		NewEngine:             NewAnacrolixEngine,
		MaintenanceInterval:   time.Minute,
		ListenRefreshInterval: 5 * time.Second,
		IdleLoopInterval:      time.Minute,
		ListenDedupSize:       1024,
		ListenRefreshLimiter:  rate.NewLimiter(20, 40),
	}
}

func (cfg *Config) setDefaults() {
	def := NewDefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.NewEngine == nil {
		cfg.NewEngine = def.NewEngine
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.ListenRefreshInterval <= 0 {
		cfg.ListenRefreshInterval = def.ListenRefreshInterval
	}
	if cfg.IdleLoopInterval <= 0 {
		cfg.IdleLoopInterval = def.IdleLoopInterval
	}
	if cfg.ListenDedupSize <= 0 {
		cfg.ListenDedupSize = def.ListenDedupSize
	}
}

func (cfg *Config) engineConfig(port uint16) EngineConfig {
	return EngineConfig{
		Port:            port,
		Logger:          cfg.Logger.WithNames("engine"),
		BootstrapNodes:  cfg.BootstrapNodes,
		GlobalBootstrap: cfg.GlobalBootstrap,
	}
}
