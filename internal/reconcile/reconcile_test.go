package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wialon-bridge/internal/decoder"
	"wialon-bridge/internal/observability"
)

var testNow = time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)

func newTestReconciler() *Reconciler {
	return New(observability.NewLogger())
}

func TestReconcileJSONEntry(t *testing.T) {
	entry := decoder.Entry{"unitId": "U1", "lat": 1.0, "lon": 2.0, "speed": 10.0}

	rec, err := newTestReconciler().Reconcile(entry, "json", `{"unitId":"U1"}`, testNow)
	require.NoError(t, err)
	assert.Equal(t, "U1", rec.UnitID)
	require.NotNil(t, rec.Latitude)
	assert.Equal(t, 1.0, *rec.Latitude)
	require.NotNil(t, rec.Longitude)
	assert.Equal(t, 2.0, *rec.Longitude)
	require.NotNil(t, rec.Speed)
	assert.Equal(t, 10.0, *rec.Speed)
	assert.Equal(t, "json", rec.Encoding)
	assert.Equal(t, `{"unitId":"U1"}`, rec.RawData)
	assert.Nil(t, rec.Altitude)
	assert.Nil(t, rec.Odometer)
}

func TestReconcileUnitIDAliasPriority(t *testing.T) {
	tests := []struct {
		name  string
		entry decoder.Entry
		want  string
	}{
		{"unit_id wins over imei", decoder.Entry{"unit_id": "A", "imei": "B"}, "A"},
		{"camelCase", decoder.Entry{"unitId": "C"}, "C"},
		{"wialon gpsCode", decoder.Entry{"gpsCode": "D"}, "D"},
		{"numeric id", decoder.Entry{"id": 123.0}, "123"},
		{"empty string skipped", decoder.Entry{"unit_id": "", "uid": "E"}, "E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newTestReconciler().Reconcile(tt.entry, "json", "", testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.UnitID)
		})
	}
}

func TestReconcileMissingUnitID(t *testing.T) {
	entry := decoder.Entry{"lat": 1.0, "lon": 2.0}
	rec, err := newTestReconciler().Reconcile(entry, "json", "", testNow)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrMissingUnitID)
}

func TestReconcileWialonCoordinates(t *testing.T) {
	entry := decoder.Entry{"gpsCode": "U1", "coordY": "55.75", "coordX": "37.62"}
	rec, err := newTestReconciler().Reconcile(entry, "form", "", testNow)
	require.NoError(t, err)
	require.NotNil(t, rec.Latitude)
	assert.Equal(t, 55.75, *rec.Latitude)
	require.NotNil(t, rec.Longitude)
	assert.Equal(t, 37.62, *rec.Longitude)
}

func TestReconcileTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		entry decoder.Entry
		want  time.Time
	}{
		{"rfc3339", decoder.Entry{"unitId": "U", "timestamp": "2025-08-05T10:48:00Z"}, time.Date(2025, 8, 5, 10, 48, 0, 0, time.UTC)},
		{"epoch number", decoder.Entry{"unitId": "U", "t": 1754390880.0}, time.Unix(1754390880, 0).UTC()},
		{"epoch string", decoder.Entry{"unitId": "U", "time": "1754390880"}, time.Unix(1754390880, 0).UTC()},
		{"wialon date field", decoder.Entry{"unitId": "U", "date": "2025-08-05 10:48:00"}, time.Date(2025, 8, 5, 10, 48, 0, 0, time.UTC)},
		{"garbage defaults to now", decoder.Entry{"unitId": "U", "timestamp": "whenever"}, testNow},
		{"absent defaults to now", decoder.Entry{"unitId": "U"}, testNow},
		{"first parseable alias wins", decoder.Entry{"unitId": "U", "timestamp": "junk", "time": "2025-08-05T10:48:00Z"}, time.Date(2025, 8, 5, 10, 48, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newTestReconciler().Reconcile(tt.entry, "json", "", testNow)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(rec.Timestamp), "got %v want %v", rec.Timestamp, tt.want)
		})
	}
}

func TestReconcileFlags(t *testing.T) {
	rec, err := newTestReconciler().Reconcile(decoder.Entry{"unitId": "U"}, "json", "", testNow)
	require.NoError(t, err)
	assert.Nil(t, rec.IgnitionStatus)
	assert.True(t, rec.GPSValid)
	assert.False(t, rec.PanicButton)

	rec, err = newTestReconciler().Reconcile(decoder.Entry{
		"unitId": "U", "ign": "on", "valid": "0", "sos": 1.0,
	}, "json", "", testNow)
	require.NoError(t, err)
	require.NotNil(t, rec.IgnitionStatus)
	assert.True(t, *rec.IgnitionStatus)
	assert.False(t, rec.GPSValid)
	assert.True(t, rec.PanicButton)
}

func TestReconcileBoolCoercion(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{true, true},
		{false, false},
		{1.0, true},
		{0.0, false},
		{"true", true},
		{"YES", true},
		{"active", true},
		{"on", true},
		{"off", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		rec, err := newTestReconciler().Reconcile(decoder.Entry{"unitId": "U", "ignition": tt.value}, "json", "", testNow)
		require.NoError(t, err)
		require.NotNil(t, rec.IgnitionStatus)
		assert.Equal(t, tt.want, *rec.IgnitionStatus, "value %v", tt.value)
	}
}

func TestReconcileTelemetryDetails(t *testing.T) {
	entry := decoder.Entry{
		"unitId": "XG3780_001",
		"telemetryDetails": []any{
			map[string]any{"sensorCode": "sensor8192", "value": "45.6"},
			map[string]any{"sensorCode": "sensor8200", "value": "85.5"},
			map[string]any{"sensorCode": "sensor109", "value": "1"},
			map[string]any{"sensorCode": "sensor9999", "value": "7"},
			map[string]any{"sensorCode": "bogus", "value": "1"},
			map[string]any{"sensorCode": "sensor8193"},
			map[string]any{"value": "3"},
		},
	}

	rec, err := newTestReconciler().Reconcile(entry, "xml", "", testNow)
	require.NoError(t, err)
	require.Len(t, rec.Telemetry, 4)

	speed := rec.Telemetry["SENSOR_GNSS_SPEED"]
	assert.Equal(t, 45.6, speed.Value)
	assert.Equal(t, "45.6", speed.RawValue)
	assert.Equal(t, "km/h", speed.Unit)
	assert.Equal(t, "gps", speed.Category)
	assert.Equal(t, 8192, speed.SensorCode)

	temp := rec.Telemetry["SENSOR_ENGINE_TEMPERATURE"]
	assert.Equal(t, 45.5, temp.Value)
	assert.Equal(t, "engine", temp.Category)

	ignition := rec.Telemetry["SENSOR_IGNITION"]
	assert.Equal(t, 1.0, ignition.Value)
	assert.Equal(t, "bool", ignition.Kind)

	unknown := rec.Telemetry["SENSOR_UNKNOWN_9999"]
	assert.Equal(t, 7.0, unknown.Value)
	assert.Equal(t, "other", unknown.Category)
}

func TestReconcileSingleTelemetryDetail(t *testing.T) {
	entry := decoder.Entry{
		"unitId":           "U1",
		"telemetryDetails": map[string]any{"sensorCode": "sensor8192", "value": "12"},
	}
	rec, err := newTestReconciler().Reconcile(entry, "xml", "", testNow)
	require.NoError(t, err)
	require.Len(t, rec.Telemetry, 1)
	assert.Equal(t, 12.0, rec.Telemetry["SENSOR_GNSS_SPEED"].Value)
}

func TestReconcileLooseSensors(t *testing.T) {
	entry := decoder.Entry{
		"unitId":  "U1",
		"sensors": map[string]any{"fuel_sensor_1": "73.5", "temp_1": "90"},
	}
	rec, err := newTestReconciler().Reconcile(entry, "json", "", testNow)
	require.NoError(t, err)
	require.NotNil(t, rec.FuelLevel)
	assert.Equal(t, 73.5, *rec.FuelLevel)
}
