// Package reconcile normalizes decoded entries into canonical tracking
// records. The retranslator is inconsistent about field names across its
// encodings, so every logical attribute is resolved by probing an ordered
// list of aliases; the first usable value wins.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wialon-bridge/internal/decoder"
	"wialon-bridge/internal/models"
	"wialon-bridge/internal/sensors"
)

// ErrMissingUnitID marks entries with no resolvable device identity. Such
// entries are skipped, never persisted.
var ErrMissingUnitID = errors.New("no unit ID found in data entry")

var (
	unitIDAliases      = []string{"unit_id", "unitId", "id", "device_id", "deviceId", "imei", "uid", "gpsCode", "gps_code", "code"}
	latitudeAliases    = []string{"lat", "latitude", "y", "coordY"}
	longitudeAliases   = []string{"lon", "lng", "longitude", "x", "coordX"}
	altitudeAliases    = []string{"alt", "altitude", "z"}
	speedAliases       = []string{"speed", "spd"}
	headingAliases     = []string{"heading", "course", "dir"}
	odometerAliases    = []string{"odometer", "mileage"}
	fuelAliases        = []string{"fuel", "fuel_level"}
	engineHoursAliases = []string{"engine_hours", "hours"}
	batteryAliases     = []string{"battery", "battery_voltage"}
	externalAliases    = []string{"external_voltage", "ext_voltage"}
	timestampAliases   = []string{"timestamp", "time", "t", "datetime", "dt", "server_time", "date"}
)

// Reconciler builds tracking records from raw entries.
type Reconciler struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Reconcile resolves one decoded entry into a tracking record. The only
// hard requirement is a device identity; everything else degrades to an
// absent field or a default. Panics from unexpected payload shapes are
// converted to an entry-level reject so one bad entry cannot abort a batch.
func (r *Reconciler) Reconcile(entry decoder.Entry, encoding, rawSample string, now time.Time) (rec *models.TrackingRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec, err = nil, fmt.Errorf("entry extraction failed: %v", p)
		}
	}()

	unitID, ok := stringField(entry, unitIDAliases...)
	if !ok {
		return nil, ErrMissingUnitID
	}

	rec = &models.TrackingRecord{
		UnitID:    unitID,
		Latitude:  floatField(entry, latitudeAliases...),
		Longitude: floatField(entry, longitudeAliases...),
		Altitude:  floatField(entry, altitudeAliases...),
		Speed:     floatField(entry, speedAliases...),
		Heading:   floatField(entry, headingAliases...),

		Odometer:        floatField(entry, odometerAliases...),
		FuelLevel:       floatField(entry, fuelAliases...),
		EngineHours:     floatField(entry, engineHoursAliases...),
		BatteryVoltage:  floatField(entry, batteryAliases...),
		ExternalVoltage: floatField(entry, externalAliases...),

		IgnitionStatus: optionalBoolField(entry, "ignition", "ign"),
		GPSValid:       boolField(entry, true, "gps_valid", "valid"),
		PanicButton:    boolField(entry, false, "panic", "sos"),

		Timestamp: r.resolveTimestamp(entry, now),
		Encoding:  encoding,
		RawData:   rawSample,
	}

	r.mapTelemetryDetails(entry, rec)
	r.applyLooseSensors(entry, rec)

	return rec, nil
}

// resolveTimestamp probes the timestamp aliases in order; the first value
// that parses wins. Unparseable or missing timestamps default to the
// ingestion time rather than rejecting the entry.
func (r *Reconciler) resolveTimestamp(entry decoder.Entry, now time.Time) time.Time {
	for _, alias := range timestampAliases {
		value, ok := entry[alias]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			return time.Unix(int64(v), 0).UTC()
		case int:
			return time.Unix(int64(v), 0).UTC()
		case string:
			if ts, err := parseTimestamp(v); err == nil {
				return ts
			}
		}
	}
	return now
}

// parseTimestamp tries the date formats seen from retranslator payloads,
// then a bare Unix epoch.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
		"2006-01-02",
	}

	s = strings.TrimSpace(s)
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// mapTelemetryDetails resolves each telemetryDetails item through the
// sensor catalog. Details with a missing code or value, or a code that is
// not of the sensorNNN shape, are skipped without rejecting the entry.
func (r *Reconciler) mapTelemetryDetails(entry decoder.Entry, rec *models.TrackingRecord) {
	raw, ok := entry["telemetryDetails"]
	if !ok || raw == nil {
		return
	}

	details, ok := raw.([]any)
	if !ok {
		details = []any{raw}
	}

	telemetry := make(map[string]models.TelemetryReading)
	for _, item := range details {
		detail, ok := item.(map[string]any)
		if !ok {
			continue
		}
		codeToken, _ := detail["sensorCode"].(string)
		value, hasValue := detail["value"]
		if codeToken == "" || !hasValue || value == nil {
			continue
		}

		code, ok := sensors.ParseCode(codeToken)
		if !ok {
			r.log.Warn("unparseable sensor code", "sensor_code", codeToken)
			continue
		}

		d := sensors.Describe(code)
		telemetry[d.Name] = models.TelemetryReading{
			Value:      sensors.Calibrate(code, value),
			RawValue:   value,
			Unit:       d.Unit,
			Kind:       string(d.Kind),
			Category:   sensors.CategoryOf(d.Name),
			SensorCode: code,
		}
	}

	if len(telemetry) > 0 {
		rec.Telemetry = telemetry
	}
}

// applyLooseSensors picks up the flat "sensors" map some non-SOAP payloads
// carry, mapping fuel-ish channels onto the fuel level field.
func (r *Reconciler) applyLooseSensors(entry decoder.Entry, rec *models.TrackingRecord) {
	sensorsRaw, ok := entry["sensors"].(map[string]any)
	if !ok {
		return
	}
	for name, value := range sensorsRaw {
		if strings.Contains(strings.ToLower(name), "fuel") {
			if f, ok := coerceFloat(value); ok {
				rec.FuelLevel = &f
			}
		}
	}
}

// stringField returns the first non-empty value among the aliases,
// stringified. Numeric unit IDs arrive as JSON numbers and are rendered
// without a decimal point.
func stringField(entry decoder.Entry, aliases ...string) (string, bool) {
	for _, alias := range aliases {
		value, ok := entry[alias]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// floatField returns the first alias value that coerces to a float, or nil.
func floatField(entry decoder.Entry, aliases ...string) *float64 {
	for _, alias := range aliases {
		value, ok := entry[alias]
		if !ok || value == nil {
			continue
		}
		if f, ok := coerceFloat(value); ok {
			return &f
		}
	}
	return nil
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// boolField coerces the first present alias permissively: native bools pass
// through, numbers are true when non-zero, and the usual affirmative
// strings count as true. Absent fields take the stated default.
func boolField(entry decoder.Entry, def bool, aliases ...string) bool {
	if b := optionalBoolField(entry, aliases...); b != nil {
		return *b
	}
	return def
}

func optionalBoolField(entry decoder.Entry, aliases ...string) *bool {
	for _, alias := range aliases {
		value, ok := entry[alias]
		if !ok || value == nil {
			continue
		}
		b := coerceBool(value)
		return &b
	}
	return nil
}

func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on", "active":
			return true
		}
	}
	return false
}
