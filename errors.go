package dhtrunner

import (
	"errors"
)

var (
	// The engine couldn't be started, usually because the port couldn't be bound. The Runner is
	// left idle and Run can be retried.
	ErrStartup = errors.New("startup failure")
	// A snapshot buffer was corrupt or truncated. Nothing was changed.
	ErrDecode = errors.New("snapshot decode failure")
	// The operation needs a running engine.
	ErrNotRunning = errors.New("not running")
	ErrClosed     = errors.New("runner closed")
)
