package models

import "time"

// Encoding labels which decoder produced a record.
const (
	EncodingJSON = "json"
	EncodingXML  = "xml"
	EncodingForm = "form"
)

// TrackingRecord is one normalized tracking submission from the Wialon
// retranslator. Optional fields are pointers; a nil pointer means the
// payload carried no usable value for that field.
type TrackingRecord struct {
	ID       int64  `json:"id"`
	DeviceID int64  `json:"device_id"`
	UnitID   string `json:"unit_id"`

	// Position
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	// Vehicle data specific to Xirgo devices
	Odometer        *float64 `json:"odometer,omitempty"`
	FuelLevel       *float64 `json:"fuel_level,omitempty"`
	EngineHours     *float64 `json:"engine_hours,omitempty"`
	BatteryVoltage  *float64 `json:"battery_voltage,omitempty"`
	ExternalVoltage *float64 `json:"external_voltage,omitempty"`

	// Status flags
	IgnitionStatus *bool `json:"ignition_status,omitempty"`
	GPSValid       bool  `json:"gps_valid"`
	PanicButton    bool  `json:"panic_button"`

	// Mapped sensor readings keyed by canonical sensor name
	Telemetry map[string]TelemetryReading `json:"telemetry,omitempty"`

	// Provenance
	RawData  string `json:"raw_data,omitempty"`
	Encoding string `json:"encoding"`
}

// TelemetryReading is one calibrated sensor reading attached to a record.
type TelemetryReading struct {
	Value      any    `json:"value"`
	RawValue   any    `json:"raw_value"`
	Unit       string `json:"unit"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	SensorCode int    `json:"sensor_code"`
}

// Device is a tracked unit, created on first sight of its unit ID.
type Device struct {
	ID         int64      `json:"id"`
	UnitID     string     `json:"unit_id"`
	DeviceType string     `json:"device_type"`
	Name       string     `json:"name"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WebhookLog captures one inbound HTTP call for auditing.
type WebhookLog struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Endpoint         string    `json:"endpoint"`
	Method           string    `json:"method"`
	ContentType      string    `json:"content_type,omitempty"`
	ContentLength    int64     `json:"content_length,omitempty"`
	RemoteAddr       string    `json:"remote_addr,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	StatusCode       int       `json:"status_code"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RequestSample    string    `json:"request_data_sample,omitempty"`
}

// DevicePosition is the latest known position of one device, shaped for
// the map feed.
type DevicePosition struct {
	DeviceID   int64                       `json:"device_id"`
	UnitID     string                      `json:"unit_id"`
	DeviceName string                      `json:"device_name"`
	Latitude   float64                     `json:"latitude"`
	Longitude  float64                     `json:"longitude"`
	Speed      float64                     `json:"speed"`
	Heading    float64                     `json:"heading"`
	Timestamp  time.Time                   `json:"timestamp"`
	IsActive   bool                        `json:"is_active"`
	Telemetry  map[string]TelemetryReading `json:"telemetry,omitempty"`
}

// HourlyCount is one bucket of the dashboard ingest-rate chart.
type HourlyCount struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

// DashboardStats aggregates the counters shown on the dashboard.
type DashboardStats struct {
	TotalDevices   int64         `json:"total_devices"`
	ActiveDevices  int64         `json:"active_devices"`
	RecordsLast24h int64         `json:"records_last_24h"`
	HourlyData     []HourlyCount `json:"hourly_data"`
	RecentWebhooks []WebhookLog  `json:"recent_webhooks"`
}
