// save.go: writing the active settings back to the configuration file
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/classtrack/classtrack-go/internal/errors"
)

// SaveSettings writes the settings as YAML to the first default config path.
// Used after first-run setup adjusts thresholds or stores.
func SaveSettings(settings *Settings) error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal-settings").
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Build()
	}
	return nil
}
