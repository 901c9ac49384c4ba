// Package logging provides the process-wide structured logger.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

// Config controls logger construction.
type Config struct {
	Development bool
}

// New builds (once) and returns the shared sugared logger.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var l *zap.Logger
		if cfg.Development {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}

// Nop returns a no-op logger for callers that don't wire New.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
