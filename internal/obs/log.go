package obs

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process logger and installs it as the zap global.
// format "console" selects the development encoder, anything else JSON.
func InitLogger(level, format string) error {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrap(err, "obs: parse log level")
	}
	cfg.Level.SetLevel(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return eris.Wrap(err, "obs: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	return zap.L()
}

// LogRequest emits one access-log entry.
func LogRequest(fields ...zap.Field) {
	zap.L().Info("http request", fields...)
}
