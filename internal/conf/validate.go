// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate Engine settings
	if err := validateEngineSettings(&settings.Engine); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Camera settings
	if err := validateCameraSettings(settings.Cameras); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Attendance settings
	if err := validateAttendanceSettings(&settings.Attendance); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Service settings
	if err := validateServiceSettings(&settings.Services); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Output settings
	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Telemetry settings
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateEngineSettings validates the correlation engine settings
func validateEngineSettings(settings *EngineSettings) error {
	var errs []string

	if settings.ResultTTL <= 0 {
		errs = append(errs, "engine result TTL must be positive")
	}
	if settings.SessionTTL <= 0 {
		errs = append(errs, "engine session TTL must be positive")
	}
	if settings.FailureCooldown <= 0 {
		errs = append(errs, "engine failure cooldown must be positive")
	}
	if settings.PendingTimeout <= 0 {
		errs = append(errs, "engine pending timeout must be positive")
	}
	if settings.TrackSilence <= 0 {
		errs = append(errs, "engine track silence window must be positive")
	}
	if settings.SweepInterval <= 0 {
		errs = append(errs, "engine sweep interval must be positive")
	}
	if settings.HistoryDepth < 2 {
		errs = append(errs, "engine history depth must be at least 2")
	}
	if settings.APIBudget < 1 {
		errs = append(errs, "engine API budget must be at least 1 per second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateCameraSettings validates the per-camera zone and line definitions
func validateCameraSettings(cameras []CameraConfig) error {
	var errs []string

	seenIDs := make(map[string]bool)
	for i := range cameras {
		cam := &cameras[i]
		if cam.ID == "" {
			errs = append(errs, fmt.Sprintf("camera %d: ID must not be empty", i))
			continue
		}
		if seenIDs[cam.ID] {
			errs = append(errs, fmt.Sprintf("camera %s: duplicate camera ID", cam.ID))
		}
		seenIDs[cam.ID] = true

		seenZones := make(map[string]bool)
		for j := range cam.Gates {
			zone := &cam.Gates[j]
			if zone.Name == "" {
				errs = append(errs, fmt.Sprintf("camera %s: gate zone %d has no name", cam.ID, j))
			}
			if seenZones[zone.Name] {
				errs = append(errs, fmt.Sprintf("camera %s: duplicate gate zone name %q", cam.ID, zone.Name))
			}
			seenZones[zone.Name] = true

			if err := validateZoneGeometry(zone); err != nil {
				errs = append(errs, fmt.Sprintf("camera %s zone %q: %v", cam.ID, zone.Name, err))
			}
			if zone.MinConfidence < 0 || zone.MinConfidence > 1 {
				errs = append(errs, fmt.Sprintf("camera %s zone %q: min confidence must be between 0 and 1", cam.ID, zone.Name))
			}
		}

		seenLines := make(map[string]bool)
		for j := range cam.Lines {
			line := &cam.Lines[j]
			if line.Name == "" {
				errs = append(errs, fmt.Sprintf("camera %s: crossing line %d has no name", cam.ID, j))
			}
			if seenLines[line.Name] {
				errs = append(errs, fmt.Sprintf("camera %s: duplicate crossing line name %q", cam.ID, line.Name))
			}
			seenLines[line.Name] = true

			if line.A == line.B {
				errs = append(errs, fmt.Sprintf("camera %s line %q: start and end points must differ", cam.ID, line.Name))
			}
			if line.Buffer < 0 || line.Buffer >= 0.5 {
				errs = append(errs, fmt.Sprintf("camera %s line %q: buffer must be in [0, 0.5)", cam.ID, line.Name))
			}
			if line.MinConfidence < 0 || line.MinConfidence > 1 {
				errs = append(errs, fmt.Sprintf("camera %s line %q: min confidence must be between 0 and 1", cam.ID, line.Name))
			}
		}

		if cam.Attendance.Enabled {
			switch cam.Attendance.Mode {
			case "presence":
			case "crossing":
				if !seenLines[cam.Attendance.Line] {
					errs = append(errs, fmt.Sprintf("camera %s: attendance references unknown crossing line %q", cam.ID, cam.Attendance.Line))
				}
			default:
				errs = append(errs, fmt.Sprintf("camera %s: attendance mode must be \"crossing\" or \"presence\"", cam.ID))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateZoneGeometry checks that a gate zone defines exactly one shape with
// coordinates inside the frame.
func validateZoneGeometry(zone *GateZoneConfig) error {
	hasBand := zone.Band != nil
	hasPolygon := len(zone.Polygon) > 0

	switch {
	case hasBand && hasPolygon:
		return fmt.Errorf("band and polygon are mutually exclusive")
	case !hasBand && !hasPolygon:
		return fmt.Errorf("either band or polygon must be set")
	case hasBand:
		if zone.Band.Axis != "x" && zone.Band.Axis != "y" {
			return fmt.Errorf("band axis must be \"x\" or \"y\"")
		}
		if zone.Band.From < 0 || zone.Band.To > 1 || zone.Band.From >= zone.Band.To {
			return fmt.Errorf("band range must satisfy 0 <= from < to <= 1")
		}
	case hasPolygon:
		if len(zone.Polygon) < 3 {
			return fmt.Errorf("polygon needs at least 3 vertices")
		}
		for _, p := range zone.Polygon {
			if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
				return fmt.Errorf("polygon vertices must lie in the frame")
			}
		}
	}
	return nil
}

// validateAttendanceSettings validates the attendance state machine settings
func validateAttendanceSettings(settings *AttendanceSettings) error {
	var errs []string

	if settings.DuplicateWindow < 0 {
		errs = append(errs, "attendance duplicate window must not be negative")
	}
	if _, err := time.Parse("15:04", settings.Policy.ShiftStart); err != nil {
		errs = append(errs, fmt.Sprintf("attendance shift start %q is not a valid HH:MM clock time", settings.Policy.ShiftStart))
	}
	if _, err := time.Parse("15:04", settings.Policy.ShiftEnd); err != nil {
		errs = append(errs, fmt.Sprintf("attendance shift end %q is not a valid HH:MM clock time", settings.Policy.ShiftEnd))
	}
	if settings.Policy.LateGrace < 0 {
		errs = append(errs, "attendance late grace must not be negative")
	}
	if settings.Policy.EarlyExitGrace < 0 {
		errs = append(errs, "attendance early exit grace must not be negative")
	}

	switch settings.Provider.Type {
	case "static":
	case "http":
		if settings.Provider.Endpoint == "" {
			errs = append(errs, "attendance http provider requires an endpoint")
		}
		if settings.Provider.Timeout <= 0 {
			errs = append(errs, "attendance provider timeout must be positive")
		}
		if settings.Provider.CacheTTL <= 0 {
			errs = append(errs, "attendance provider cache TTL must be positive")
		}
	default:
		errs = append(errs, "attendance provider type must be \"static\" or \"http\"")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateServiceSettings validates the external recognition service settings
func validateServiceSettings(settings *ServiceSettings) error {
	var errs []string

	check := func(name string, svc *RecognizerSettings) {
		if !svc.Enabled {
			return
		}
		if svc.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("%s service requires an endpoint", name))
		}
		if svc.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("%s service timeout must be positive", name))
		}
		if svc.MinConfidence < 0 || svc.MinConfidence > 1 {
			errs = append(errs, fmt.Sprintf("%s service min confidence must be between 0 and 1", name))
		}
		if svc.RequestsPerSec < 0 {
			errs = append(errs, fmt.Sprintf("%s service requests per second must not be negative", name))
		}
		if svc.MaxRetries < 0 {
			errs = append(errs, fmt.Sprintf("%s service max retries must not be negative", name))
		}
	}

	check("face match", &settings.FaceMatch)
	check("plate OCR", &settings.PlateOCR)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateOutputSettings validates the event sink settings
func validateOutputSettings(settings *OutputSettings) error {
	var errs []string

	if settings.SQLite.Enabled && settings.SQLite.Path == "" {
		errs = append(errs, "SQLite output requires a database path")
	}

	if settings.MySQL.Enabled {
		if settings.MySQL.Host == "" {
			errs = append(errs, "MySQL output requires a host")
		}
		if settings.MySQL.Database == "" {
			errs = append(errs, "MySQL output requires a database name")
		}
		if settings.MySQL.Username == "" {
			errs = append(errs, "MySQL output requires a username")
		}
	}

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			errs = append(errs, "MQTT output requires a broker URL")
		} else if !hasBrokerScheme(settings.MQTT.Broker) {
			errs = append(errs, fmt.Sprintf("MQTT broker %q must start with tcp://, ssl://, ws:// or wss://", settings.MQTT.Broker))
		}
		if settings.MQTT.Topic == "" {
			errs = append(errs, "MQTT output requires a base topic")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func hasBrokerScheme(broker string) bool {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return true
		}
	}
	return false
}

// validateTelemetrySettings validates the telemetry endpoint settings
func validateTelemetrySettings(settings *TelemetrySettings) error {
	var errs []string

	if settings.Enabled {
		if settings.Listen == "" {
			errs = append(errs, "telemetry requires a listen address")
		} else if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("telemetry listen address %q is not a valid host:port", settings.Listen))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
