package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeKnownCodes(t *testing.T) {
	for _, code := range Codes() {
		d := Describe(code)
		assert.Equal(t, code, d.Code)
		assert.NotEmpty(t, d.Name, "code %d", code)
		assert.Contains(t, []Kind{KindBoolean, KindNumeric}, d.Kind, "code %d", code)
	}
}

func TestDescribeUnknownCode(t *testing.T) {
	d := Describe(9999)
	assert.Equal(t, "SENSOR_UNKNOWN_9999", d.Name)
	assert.Equal(t, KindUnknown, d.Kind)
	assert.Equal(t, 1.0, d.Multiplier)
	assert.Equal(t, 0.0, d.Offset)
	assert.False(t, Known(9999))
}

func TestDescribeSamples(t *testing.T) {
	speed := Describe(8192)
	assert.Equal(t, "SENSOR_GNSS_SPEED", speed.Name)
	assert.Equal(t, "km/h", speed.Unit)
	assert.Equal(t, KindNumeric, speed.Kind)

	ignition := Describe(109)
	assert.Equal(t, "SENSOR_IGNITION", ignition.Name)
	assert.Equal(t, KindBoolean, ignition.Kind)
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		token string
		code  int
		ok    bool
	}{
		{"sensor8192", 8192, true},
		{"sensor1", 1, true},
		{"sensor0", 0, true},
		{"8192", 0, false},
		{"sensorX", 0, false},
		{"sensor", 0, false},
		{"SENSOR8192", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			code, ok := ParseCode(tt.token)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestCalibrate(t *testing.T) {
	// Identity calibration for multiplier=1, offset=0.
	assert.Equal(t, 45.6, Calibrate(8192, "45.6"))
	assert.Equal(t, 45.6, Calibrate(8192, 45.6))

	// Engine temperature carries a -40 offset.
	assert.Equal(t, 45.5, Calibrate(8200, "85.5"))

	// HDOP scales by 0.1.
	assert.InDelta(t, 1.2, Calibrate(8194, "12").(float64), 1e-9)

	// Unknown codes calibrate as identity.
	assert.Equal(t, 7.0, Calibrate(123456, "7"))
}

func TestCalibratePassThrough(t *testing.T) {
	// Non-numeric input is returned untouched, not raised as an error.
	assert.Equal(t, "not-a-number", Calibrate(8192, "not-a-number"))
	assert.Nil(t, Calibrate(8192, nil))
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, "gps", CategoryOf("SENSOR_GNSS_SPEED"))
	assert.Equal(t, "engine", CategoryOf("SENSOR_IGNITION"))
	assert.Equal(t, "security", CategoryOf("SENSOR_TAMPER"))
	assert.Equal(t, "other", CategoryOf("SENSOR_UNKNOWN_9999"))
	// The vendor table lists the generic seatbelt name under safety while
	// the catalog only carries driver/passenger variants, so those resolve
	// to "other".
	assert.Equal(t, "safety", CategoryOf("SENSOR_SEATBELT_WARNING"))
	assert.Equal(t, "other", CategoryOf("SENSOR_DRIVER_SEATBELT_WARNING"))
}

func TestBatteryWarningCategoryFirstMatch(t *testing.T) {
	// Appears under both warnings and power; first group wins.
	require.Equal(t, "warnings", CategoryOf("SENSOR_BATTERY_VOLTAGE_WARNING"))
}
