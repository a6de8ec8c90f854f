package sensors

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies what a sensor channel reports.
type Kind string

const (
	KindBoolean Kind = "bool"
	KindNumeric Kind = "numeric"
	KindUnknown Kind = "unknown"
)

// Descriptor describes one Xirgo/Sensata XG3780 sensor channel.
// Calibrated value = raw*Multiplier + Offset.
type Descriptor struct {
	Code       int     `json:"code"`
	Name       string  `json:"name"`
	Kind       Kind    `json:"kind"`
	Unit       string  `json:"unit"`
	Multiplier float64 `json:"multiplier"`
	Offset     float64 `json:"offset"`
}

func boolSensor(name string) Descriptor {
	return Descriptor{Name: name, Kind: KindBoolean, Multiplier: 1}
}

func numericSensor(name, unit string, multiplier, offset float64) Descriptor {
	return Descriptor{Name: name, Kind: KindNumeric, Unit: unit, Multiplier: multiplier, Offset: offset}
}

// catalog maps sensor codes from the Xirgo Global documentation
// (https://docs.xirgoglobal.com/space/SD/27149650/Sensor+properties).
// Codes below 8192 are digital/boolean channels, 8192 and up are analog.
var catalog = map[int]Descriptor{
	1:  boolSensor("SENSOR_MODEM_ON"),
	2:  boolSensor("SENSOR_MOTION_DETECTED"),
	5:  boolSensor("SENSOR_SYSTEM_TIME_PRESENT"),
	6:  boolSensor("SENSOR_INSIDE_GEOZONE"),
	7:  boolSensor("SENSOR_POOR_GNSS_SIGNAL"),
	8:  boolSensor("SENSOR_GSM_JAMMING"),
	9:  boolSensor("SENSOR_ROAMING"),
	10: boolSensor("SENSOR_GSM_REGISTERED"),
	11: boolSensor("SENSOR_GPRS_REGISTERED"),
	12: boolSensor("SENSOR_PDP_ACTIVE"),
	13: boolSensor("SENSOR_PREFERRED_OPERATOR_ACTIVE"),
	14: boolSensor("SENSOR_GNSS_SPEED_PRESENT"),
	15: boolSensor("SENSOR_SIGNAL_WIEGAND_ID_PRESENT"),
	16: boolSensor("SENSOR_IN_2"),
	17: boolSensor("SENSOR_IN_3"),
	18: boolSensor("SENSOR_IN_4"),
	19: boolSensor("SENSOR_IN_5"),
	20: boolSensor("SENSOR_IN_7"),
	21: boolSensor("SENSOR_IN_8"),
	30: boolSensor("SENSOR_IBUTTON_PRESENT"),

	// Vehicle CAN bus
	96:  boolSensor("SENSOR_ARMED"),
	97:  boolSensor("SENSOR_LOCKED"),
	98:  boolSensor("SENSOR_DOORS_F_L"),
	99:  boolSensor("SENSOR_DOORS_F_R"),
	100: boolSensor("SENSOR_DOORS_R_L"),
	101: boolSensor("SENSOR_DOORS_R_R"),
	102: boolSensor("SENSOR_BONNET"),
	103: boolSensor("SENSOR_TRUNK"),
	108: boolSensor("SENSOR_FACTORY_ALARM"),
	109: boolSensor("SENSOR_IGNITION"),

	// Warning indicators
	116: boolSensor("SENSOR_STOP_WARNING"),
	117: boolSensor("SENSOR_OIL_PRESSURE_WARNING"),
	118: boolSensor("SENSOR_COOLANT_FLUID_WARNING"),
	119: boolSensor("SENSOR_BRAKE_SYSTEM_WARNING"),
	120: boolSensor("SENSOR_BATTERY_VOLTAGE_WARNING"),
	121: boolSensor("SENSOR_AIRBAG_WARNING"),
	122: boolSensor("SENSOR_CHECK_ENGINE_WARNING"),
	123: boolSensor("SENSOR_HEADLAMP_MALFUNCTION_WARNING"),
	124: boolSensor("SENSOR_TIRE_PRESSURE_WARNING"),
	125: boolSensor("SENSOR_LOW_BRAKE_PAD_WARNING"),
	126: boolSensor("SENSOR_MASTER_WARNING"),
	127: boolSensor("SENSOR_ABS_WARNING"),
	128: boolSensor("SENSOR_LOW_FUEL_LEVEL_WARNING"),
	129: boolSensor("SENSOR_ESP_WARNING"),
	130: boolSensor("SENSOR_GLOW_PLUG_WARNING"),
	131: boolSensor("SENSOR_DPF_WARNING"),
	132: boolSensor("SENSOR_EPC_WARNING"),
	133: boolSensor("SENSOR_DRIVER_SEATBELT_WARNING"),
	134: boolSensor("SENSOR_PASSENGER_SEATBELT_WARNING"),

	// Status indicators
	135: boolSensor("SENSOR_PARKING_LIGHT_INDICATOR"),
	136: boolSensor("SENSOR_HEADLIGHT_INDICATOR"),
	137: boolSensor("SENSOR_HIGH_BEAM_LIGHT_INDICATOR"),
	138: boolSensor("SENSOR_KEY_INSERTED"),
	139: boolSensor("SENSOR_HANDBRAKE"),
	140: boolSensor("SENSOR_FOOT_BRAKE"),
	141: boolSensor("SENSOR_ENGINE_WORKING"),
	142: boolSensor("SENSOR_READY_TO_DRIVE"),
	143: boolSensor("SENSOR_CRUISE_CONTROL"),
	144: boolSensor("SENSOR_RETARDER_AUTO"),
	145: boolSensor("SENSOR_RETARDER_MANUAL"),
	146: boolSensor("SENSOR_AIR_CONDITIONING"),
	147: boolSensor("SENSOR_WEBASTO"),

	// Output controls
	148: boolSensor("SENSOR_OUT_1"),
	149: boolSensor("SENSOR_OUT_2"),
	150: boolSensor("SENSOR_OUT_3"),
	154: boolSensor("SENSOR_OUT_4"),

	// Motion/security
	151: boolSensor("SENSOR_OVERTURN"),
	152: boolSensor("SENSOR_SHOCK_1"),
	153: boolSensor("SENSOR_SHOCK_2"),
	155: boolSensor("SENSOR_GNSS_JAMMING"),
	156: boolSensor("SENSOR_TAMPER"),

	// Additional CAN
	157: boolSensor("SENSOR_CLUTCH_PEDAL_PRESSED"),
	158: boolSensor("SENSOR_PTO_ENABLED"),
	159: boolSensor("SENSOR_CAN_ACTIVITY_PRESENT"),
	167: boolSensor("SENSOR_EXTERNAL_POWER_PRESENT"),
	170: boolSensor("SENSOR_DTC_CAPTURED"),
	171: boolSensor("SENSOR_CAN_1_ACTIVITY_PRESENT"),
	172: boolSensor("SENSOR_CAN_2_ACTIVITY_PRESENT"),

	// Analog/numeric
	8192: numericSensor("SENSOR_GNSS_SPEED", "km/h", 1, 0),
	8193: numericSensor("SENSOR_GNSS_SATELLITES", "", 1, 0),
	8194: numericSensor("SENSOR_GNSS_H_DOP", "", 0.1, 0),
	8195: numericSensor("SENSOR_MOBILE_NETWORK_CODE", "", 1, 0),
	8196: numericSensor("SENSOR_TIMING_ADVANCE", "", 1, 0),
	8197: numericSensor("SENSOR_GSM_POWER", "dBm", 1, 0),
	8198: numericSensor("SENSOR_PEDAL_POSITION", "%", 0.4, 0),
	8199: numericSensor("SENSOR_FUEL_LEVEL_1", "%/L", 1, 0),
	8200: numericSensor("SENSOR_ENGINE_TEMPERATURE", "°C", 1, -40),
	8201: numericSensor("SENSOR_FUEL_LEVEL_2", "%", 1, 0),
	8202: numericSensor("SENSOR_ENGINE_LOAD", "%", 1, 0),
}

// categories groups sensor names for dashboard organization. Membership is
// first match wins; names in no group fall back to "other". The safety group
// carries SENSOR_SEATBELT_WARNING as shipped in the vendor table even though
// the catalog only names the driver/passenger variants.
var categories = []struct {
	name    string
	sensors []string
}{
	{"gps", []string{"SENSOR_GNSS_SPEED", "SENSOR_GNSS_SATELLITES", "SENSOR_GNSS_H_DOP", "SENSOR_GNSS_SPEED_PRESENT", "SENSOR_POOR_GNSS_SIGNAL", "SENSOR_GNSS_JAMMING"}},
	{"connectivity", []string{"SENSOR_MODEM_ON", "SENSOR_GSM_REGISTERED", "SENSOR_GPRS_REGISTERED", "SENSOR_PDP_ACTIVE", "SENSOR_GSM_JAMMING", "SENSOR_ROAMING", "SENSOR_GSM_POWER", "SENSOR_MOBILE_NETWORK_CODE"}},
	{"engine", []string{"SENSOR_IGNITION", "SENSOR_ENGINE_WORKING", "SENSOR_ENGINE_TEMPERATURE", "SENSOR_ENGINE_LOAD", "SENSOR_PEDAL_POSITION", "SENSOR_FUEL_LEVEL_1", "SENSOR_FUEL_LEVEL_2"}},
	{"doors", []string{"SENSOR_DOORS_F_L", "SENSOR_DOORS_F_R", "SENSOR_DOORS_R_L", "SENSOR_DOORS_R_R", "SENSOR_BONNET", "SENSOR_TRUNK", "SENSOR_LOCKED"}},
	{"warnings", []string{"SENSOR_STOP_WARNING", "SENSOR_OIL_PRESSURE_WARNING", "SENSOR_COOLANT_FLUID_WARNING", "SENSOR_BRAKE_SYSTEM_WARNING", "SENSOR_BATTERY_VOLTAGE_WARNING", "SENSOR_AIRBAG_WARNING", "SENSOR_CHECK_ENGINE_WARNING"}},
	{"safety", []string{"SENSOR_SEATBELT_WARNING", "SENSOR_HANDBRAKE", "SENSOR_FOOT_BRAKE", "SENSOR_CRUISE_CONTROL", "SENSOR_ABS_WARNING", "SENSOR_ESP_WARNING"}},
	{"security", []string{"SENSOR_ARMED", "SENSOR_FACTORY_ALARM", "SENSOR_MOTION_DETECTED", "SENSOR_SHOCK_1", "SENSOR_SHOCK_2", "SENSOR_OVERTURN", "SENSOR_TAMPER"}},
	{"lighting", []string{"SENSOR_PARKING_LIGHT_INDICATOR", "SENSOR_HEADLIGHT_INDICATOR", "SENSOR_HIGH_BEAM_LIGHT_INDICATOR", "SENSOR_HEADLAMP_MALFUNCTION_WARNING"}},
	{"inputs", []string{"SENSOR_IN_2", "SENSOR_IN_3", "SENSOR_IN_4", "SENSOR_IN_5", "SENSOR_IN_7", "SENSOR_IN_8"}},
	{"outputs", []string{"SENSOR_OUT_1", "SENSOR_OUT_2", "SENSOR_OUT_3", "SENSOR_OUT_4"}},
	{"power", []string{"SENSOR_EXTERNAL_POWER_PRESENT", "SENSOR_BATTERY_VOLTAGE_WARNING"}},
	{"comfort", []string{"SENSOR_AIR_CONDITIONING", "SENSOR_WEBASTO", "SENSOR_KEY_INSERTED"}},
}

// Describe returns the descriptor for a sensor code. Unknown codes get a
// synthesized SENSOR_UNKNOWN_<code> descriptor with identity calibration,
// so lookups never fail.
func Describe(code int) Descriptor {
	if d, ok := catalog[code]; ok {
		d.Code = code
		return d
	}
	return Descriptor{
		Code:       code,
		Name:       fmt.Sprintf("SENSOR_UNKNOWN_%d", code),
		Kind:       KindUnknown,
		Multiplier: 1,
	}
}

// Known reports whether a code is present in the catalog.
func Known(code int) bool {
	_, ok := catalog[code]
	return ok
}

// Codes returns every cataloged sensor code in ascending order.
func Codes() []int {
	out := make([]int, 0, len(catalog))
	for code := range catalog {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}

// CategoryOf returns the dashboard category for a sensor name, or "other"
// when the name belongs to no group.
func CategoryOf(name string) string {
	for _, group := range categories {
		for _, s := range group.sensors {
			if s == name {
				return group.name
			}
		}
	}
	return "other"
}

// ParseCode extracts the numeric sensor ID from tokens of the exact shape
// "sensor<digits>" as they appear in retranslator XML. Any other shape
// returns false.
func ParseCode(token string) (int, bool) {
	if !strings.HasPrefix(token, "sensor") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(token, "sensor"))
	if err != nil {
		return 0, false
	}
	return id, true
}

// Calibrate applies a descriptor's linear calibration to a raw reading.
// Values that do not coerce to a number pass through unchanged, so the
// return type is not necessarily numeric.
func Calibrate(code int, raw any) any {
	d := Describe(code)
	v, ok := toFloat(raw)
	if !ok {
		return raw
	}
	return v*d.Multiplier + d.Offset
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
