// Package conf defines the application settings and loads them with viper.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/classtrack/classtrack-go/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// Engine mode names, selected at construction and reported in every
// overlay/presence payload.
const (
	ModeDistance   = "distance"
	ModeSimilarity = "similarity"
)

// LogConfig defines the file logging settings.
type LogConfig struct {
	Enabled bool   // true to enable file logging
	Path    string // path to log file
}

// MainSettings contains application-wide settings.
type MainSettings struct {
	Name string    // name of this node, used e.g. in exported data
	Log  LogConfig // main log settings
}

// HTTPSettings contains settings for the HTTP/websocket server.
type HTTPSettings struct {
	Host string // server listen address
	Port int    // server listen port
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable the SQLite store
	Path    string // path to the database file
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable the MySQL store
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings contains the datastore selection.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// EventLogSettings controls the append-style recognition event file log.
type EventLogSettings struct {
	Enabled bool   // true to write recognition events to a rotated file log
	Path    string // path to the event log file
}

// RecognitionSettings contains settings for the recognition engine.
type RecognitionSettings struct {
	Mode                string        // "distance" or "similarity"
	Model               string        // embedding model name, empty selects the mode default
	DistanceThreshold   float64       // max Euclidean distance accepted in distance mode
	SimilarityThreshold float64       // min cosine similarity accepted in similarity mode
	Cooldown            time.Duration // min interval between notifications for the same subject
	CacheTTL            time.Duration // embedding cache time-to-live
	FrameStride         int           // process every Nth camera frame
	DetectorURL         string        // HTTP face detector endpoint
	DetectorTimeout     time.Duration // per-request detector timeout
	EventLog            EventLogSettings
}

// ModelName returns the configured embedding model, falling back to the
// conventional default for the active mode.
func (r *RecognitionSettings) ModelName() string {
	if r.Model != "" {
		return r.Model
	}
	if r.Mode == ModeSimilarity {
		return "insightface-512"
	}
	return "hog-128"
}

// MailSettings contains settings for absentee report email dispatch.
type MailSettings struct {
	Enabled  bool   // true to enable absentee report emails
	DryRun   bool   // log dispatches without sending
	SMTPHost string // SMTP server host
	SMTPPort int    // SMTP server port
	Username string // SMTP username
	Password string // SMTP password
	From     string // sender address
	UseTLS   bool   // use STARTTLS
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug bool // true to enable debug mode

	Main        MainSettings
	HTTP        HTTPSettings
	Output      OutputSettings
	Recognition RecognitionSettings
	Mail        MailSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		log.Fatalf("error loading settings: %v", err)
	}
	return settings
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter, defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns the list of configuration paths for the
// current operating system, preferring any path that already holds a
// config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch {
	case os.Getenv("CLASSTRACK_CONFIG_PATH") != "":
		configPaths = []string{os.Getenv("CLASSTRACK_CONFIG_PATH")}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "classtrack-go"),
			"/etc/classtrack-go",
			exeDir,
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}
