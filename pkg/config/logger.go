package config

import "go.uber.org/zap"

// NewLogger builds the process logger. Production encoding everywhere
// except local development, where the console encoder is easier to read.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
