package app_configuration

import (
	"os"
	"path/filepath"
)

type resolver interface {
	resolve() (string, error)
}

type defaultResolver struct {
}

func newDefaultResolver() defaultResolver {
	return defaultResolver{}
}

func (r defaultResolver) resolve() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	return filepath.Join(configDir, "terracotta", "configuration.yaml"), nil
}
