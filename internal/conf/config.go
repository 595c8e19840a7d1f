// config.go: This file contains the configuration for the CamWatch engine. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/camwatch/camwatch-go/internal/logging"
)

//go:embed config.yaml
var configFiles embed.FS

// EngineSettings contains settings for the correlation engine.
type EngineSettings struct {
	Debug           bool          // true to enable debug mode
	ResultTTL       time.Duration // how long a successful recognition result stays fresh
	SessionTTL      time.Duration // vehicle visit session window
	FailureCooldown time.Duration // retry hold-off after a failed recognition
	PendingTimeout  time.Duration // how long a pending recognition placeholder is honored
	TrackSilence    time.Duration // silence window after which a track is evicted
	SweepInterval   time.Duration // how often the eviction sweeper runs
	HistoryDepth    int           // centroid history positions kept per track
	APIBudget       int           // shared external API budget, granted calls per second
}

// Point is a position in fractional frame coordinates.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// BandZone defines a gate zone as a fractional band across one frame axis.
type BandZone struct {
	Axis string  // "x" or "y"
	From float64 // fractional band start, 0..1
	To   float64 // fractional band end, 0..1
}

// GateZoneConfig defines a single gate zone on a camera. Either Band or
// Polygon is set, not both.
type GateZoneConfig struct {
	Name          string   // zone name, unique per camera
	Classes       []string // detection classes evaluated against this zone
	MinConfidence float64  // detections below this confidence are ignored
	Band          *BandZone
	Polygon       []Point
}

// CrossingLineConfig defines a directional counting line on a camera.
type CrossingLineConfig struct {
	Name          string   // line name, unique per camera
	A             Point    // line start
	B             Point    // line end
	Buffer        float64  // hysteresis buffer distance around the line
	Invert        bool     // swap entry/exit polarity
	Counter       string   // occupancy counter this line feeds, defaults to the line name
	Classes       []string // detection classes counted by this line
	MinConfidence float64
}

// CameraAttendance wires a camera into the attendance state machine.
type CameraAttendance struct {
	Enabled bool
	Mode    string // "crossing" derives check-in/out from line direction, "presence" treats any recognition as check-in
	Line    string // crossing line that drives attendance when mode is "crossing"
}

// CameraConfig holds the zone and line definitions for one camera.
type CameraConfig struct {
	ID         string // camera identifier used by the ingest pipeline
	Name       string // human-readable camera name
	Gates      []GateZoneConfig
	Lines      []CrossingLineConfig
	Attendance CameraAttendance
}

// PolicyDefaults is the static fallback shift policy applied when no
// provider-supplied policy exists for an employee.
type PolicyDefaults struct {
	ShiftStart     string        // shift start as wall clock, e.g. "08:00"
	ShiftEnd       string        // shift end as wall clock, e.g. "17:00"
	LateGrace      time.Duration // grace after shift start before a check-in is late
	EarlyExitGrace time.Duration // grace before shift end before a checkout is an early exit
}

// PolicyProviderSettings selects and configures the shift policy source.
type PolicyProviderSettings struct {
	Type     string        // "static" or "http"
	Endpoint string        // HR backend endpoint for the http provider
	APIKey   string        // HR backend API key
	Timeout  time.Duration // HR backend request timeout
	CacheTTL time.Duration // shift policy cache TTL
}

// AttendanceSettings contains settings for the attendance state machine.
type AttendanceSettings struct {
	Enabled         bool
	Debug           bool
	DuplicateWindow time.Duration // repeated check-ins inside this window are suppressed
	Policy          PolicyDefaults
	Provider        PolicyProviderSettings
}

// RecognizerSettings configures one external recognition service client.
type RecognizerSettings struct {
	Enabled        bool
	Debug          bool
	Endpoint       string        // service endpoint URL
	APIKey         string        // service API key
	Timeout        time.Duration // per-request timeout
	MinConfidence  float64       // results below this confidence are treated as unknown
	RequestsPerSec float64       // transport-level pacing, 0 disables
	MaxRetries     int           // retry attempts on transient failures
}

// ServiceSettings groups the external recognition services.
type ServiceSettings struct {
	FaceMatch RecognizerSettings
	PlateOCR  RecognizerSettings
}

// MQTTSettings contains settings for MQTT event publishing.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT broker (tcp://host:port)
	Topic    string // base topic for published events
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // publish events with the retain flag
}

// TelemetrySettings contains settings for telemetry.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// OutputSettings groups the event sinks.
type OutputSettings struct {
	SQLite struct {
		Enabled bool   // true to enable sqlite output
		Path    string // path to sqlite database
	}

	MySQL struct {
		Enabled  bool   // true to enable mysql output
		Username string // username for mysql database
		Password string // password for mysql database
		Database string // database name for mysql database
		Host     string // host for mysql database
		Port     string // port for mysql database
	}

	MQTT MQTTSettings
}

// InputConfig holds runtime values for the replay and simulate commands.
type InputConfig struct {
	Path     string  `yaml:"-"` // path to the detection log
	Speed    float64 `yaml:"-"` // replay speed multiplier, 0 replays as fast as possible
	CloseDay bool    `yaml:"-"` // roll attendance over for the last replayed date on exit
	Scenario string  `yaml:"-"` // simulate scenario name, empty runs all
}

// Settings contains all configuration options for the CamWatch engine.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Input InputConfig `yaml:"-"` // replay and simulate runtime values

	Main struct {
		Name      string    // name of this CamWatch node, used to identify the event source
		TimeAs24h bool      // true 24-hour time format, false 12-hour time format
		Log       LogConfig // logging configuration
	}

	Engine EngineSettings // correlation engine settings

	Cameras []CameraConfig // per-camera zone and line definitions

	Attendance AttendanceSettings // attendance state machine settings

	Services ServiceSettings // external recognition service settings

	Output OutputSettings // event sinks

	Telemetry TelemetrySettings // telemetry endpoint settings
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // Path to the log file
	Rotation RotationType // Type of log rotation
	MaxSize  int64        // Max size in bytes for RotationSize
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// Create a new settings struct
	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	// Propagate log rotation settings to the logging package
	applyLogRotation(&settings.Main.Log)

	// Save settings instance
	settingsInstance = settings
	return settingsInstance, nil
}

// applyLogRotation converts the configured rotation mode into a lumberjack
// policy for file loggers created via logging.NewFileLogger.
func applyLogRotation(logConf *LogConfig) {
	policy := logging.RotationPolicy{}

	if maxSizeMB := int(logConf.MaxSize / (1024 * 1024)); maxSizeMB > 0 {
		policy.MaxSizeMB = maxSizeMB
	}

	switch logConf.Rotation {
	case RotationDaily:
		policy.MaxAgeDays = 1
		policy.MaxBackups = 30 // Keep up to 30 daily log files
	case RotationWeekly:
		policy.MaxAgeDays = 7
		policy.MaxBackups = 4 // Keep up to 4 weekly log files
	case RotationSize:
		// Size-based rotation uses the MaxSizeMB derived above
	default:
		logging.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", logConf.Rotation)
	}

	logging.SetRotationPolicy(policy)
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Get OS specific config paths
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	// Assign config paths to Viper
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// Read configuration file
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

	// Create directories for config file
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write default config file
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
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the configuration file.
// It uses SaveYAMLConfig to handle the atomic write process.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	// Create a copy of the settings
	settingsCopy := *settingsInstance

	// Find the path of the current config file
	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	// Save the settings to the config file
	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	// Marshal the settings struct to YAML
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write the YAML data to a temporary file
	// This is done to ensure atomic write operation
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	// Ensure the temporary file is removed in case of any failure
	defer os.Remove(tempFileName)

	// Write the YAML data to the temporary file
	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	// Close the temporary file after writing
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// Try to rename the temporary file to replace the original config file
	// This is typically an atomic operation on most filesystems
	if err := os.Rename(tempFileName, configPath); err != nil {
		// If rename fails (e.g., cross-device link), fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// Camera returns the configuration for the given camera ID, or nil when the
// camera is not configured.
func (s *Settings) Camera(id string) *CameraConfig {
	for i := range s.Cameras {
		if s.Cameras[i].ID == id {
			return &s.Cameras[i]
		}
	}
	return nil
}
