// Package logger exposes the process-wide structured logger.
package logger

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/Laisky/zap/zapcore"
)

// Logger is the global structured logger. Safe for concurrent use.
var Logger *zap.Logger = zap.NewNop()

var setupOnce sync.Once

// Setup initializes the global logger. Debug enables development encoding and
// debug level output.
func Setup(debug bool) {
	setupOnce.Do(func() {
		var cfg zap.Config
		if debug {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		l, err := cfg.Build(zap.AddCallerSkip(0))
		if err != nil {
			// Logging must never take the process down; fall back to nop.
			return
		}
		Logger = l
	})
}
