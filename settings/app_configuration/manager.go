package app_configuration

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type AppConfigurationManager interface {
	Configuration() (*Configuration, error)
}

type Manager struct {
	resolver resolver
}

func NewManager() AppConfigurationManager {
	return &Manager{
		resolver: newDefaultResolver(),
	}
}

// Configuration reads the stored configuration, creating one with defaults
// (including a freshly generated machine name) on first run.
func (m *Manager) Configuration() (*Configuration, error) {
	path, pathErr := m.resolver.resolve()
	if pathErr != nil {
		return nil, pathErr
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			configuration := defaultConfiguration()
			if writeErr := write(path, configuration); writeErr != nil {
				return nil, fmt.Errorf("cannot persist initial configuration: %w", writeErr)
			}
			return configuration, nil
		}
		return nil, statErr
	}

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, readErr
	}
	configuration := defaultConfiguration()
	if unmarshalErr := yaml.Unmarshal(raw, configuration); unmarshalErr != nil {
		return nil, fmt.Errorf("configuration file %s is malformed: %w", path, unmarshalErr)
	}
	if configuration.MachineName == "" {
		configuration.MachineName = generateMachineName()
	}
	return configuration, nil
}

func defaultConfiguration() *Configuration {
	return &Configuration{
		Debug:          false,
		WebPort:        0,
		MachineName:    generateMachineName(),
		GuestLocalPort: 35781,
		RelayServers: []string{
			"tcp://public.easytier.top:11010",
		},
	}
}

func generateMachineName() string {
	return fmt.Sprintf("terracotta-%s", uuid.NewString()[:8])
}

func write(path string, configuration *Configuration) error {
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		return mkdirErr
	}
	raw, marshalErr := yaml.Marshal(configuration)
	if marshalErr != nil {
		return marshalErr
	}
	return os.WriteFile(path, raw, 0o600)
}
