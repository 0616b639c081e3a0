package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger writing to stderr, leaving stdout to command output.
// When debug is true it uses the development config (console, debug level);
// otherwise the production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
