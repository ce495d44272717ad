package dhtrunner

import (
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/anacrolix/dhtrunner/internal/tmproot"
)

var TestingTempDir tmproot.Dir

// A Config for tests: scheduling on a mock clock, no listen rate limit, and logging through t.
// The caller supplies the engine.
func TestingConfig(t testing.TB, newEngine NewEngineFunc) *Config {
	cfg := NewDefaultConfig()
	cfg.Logger = cfg.Logger.WithContextText(t.Name())
	cfg.Clock = clock.NewMock()
	cfg.NewEngine = newEngine
	cfg.ListenRefreshLimiter = nil
	return cfg
}
