package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wialon-bridge/internal/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "bridge_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func floatPtr(f float64) *float64 { return &f }

func sampleRecord(unitID string, ts time.Time) *models.TrackingRecord {
	return &models.TrackingRecord{
		UnitID:    unitID,
		Latitude:  floatPtr(40.7589),
		Longitude: floatPtr(-73.9851),
		Speed:     floatPtr(45.6),
		Timestamp: ts,
		GPSValid:  true,
		Encoding:  models.EncodingJSON,
		Telemetry: map[string]models.TelemetryReading{
			"SENSOR_GNSS_SPEED": {Value: 45.6, RawValue: "45.6", Unit: "km/h", Kind: "numeric", Category: "gps", SensorCode: 8192},
		},
	}
}

func TestInsertTrackingBatchCreatesDevices(t *testing.T) {
	database := newTestDB(t)
	ts := time.Now().UTC()

	count, err := database.InsertTrackingBatch([]*models.TrackingRecord{
		sampleRecord("U1", ts),
		sampleRecord("U2", ts),
		sampleRecord("U1", ts.Add(time.Second)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	total, active, err := database.CountDevices()
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), active)

	device, err := database.GetDevice("U1")
	require.NoError(t, err)
	assert.Equal(t, "Device U1", device.Name)
	assert.Equal(t, "Xirgo/Sensata XG3780", device.DeviceType)
	assert.NotNil(t, device.LastSeen)
	assert.True(t, device.IsActive)
}

func TestInsertTrackingBatchOptionalFields(t *testing.T) {
	database := newTestDB(t)

	rec := &models.TrackingRecord{
		UnitID:    "BARE",
		Timestamp: time.Now().UTC(),
		GPSValid:  true,
		Encoding:  models.EncodingForm,
	}
	count, err := database.InsertTrackingBatch([]*models.TrackingRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.NotZero(t, rec.DeviceID)
	assert.False(t, rec.ReceivedAt.IsZero())
}

func TestCountTrackingSince(t *testing.T) {
	database := newTestDB(t)
	now := time.Now().UTC()

	_, err := database.InsertTrackingBatch([]*models.TrackingRecord{
		sampleRecord("U1", now.Add(-2*time.Hour)),
		sampleRecord("U1", now.Add(-10*time.Minute)),
		sampleRecord("U1", now),
	})
	require.NoError(t, err)

	count, err := database.CountTrackingSince(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLatestPerDevice(t *testing.T) {
	database := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	older := sampleRecord("U1", now.Add(-time.Hour))
	older.Latitude = floatPtr(1)
	older.Longitude = floatPtr(1)
	newest := sampleRecord("U1", now)

	// A record without coordinates never feeds the map.
	noPos := &models.TrackingRecord{UnitID: "U2", Timestamp: now, GPSValid: true, Encoding: models.EncodingJSON}

	_, err := database.InsertTrackingBatch([]*models.TrackingRecord{older, newest, noPos})
	require.NoError(t, err)

	positions, err := database.LatestPerDevice()
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "U1", p.UnitID)
	assert.Equal(t, "Device U1", p.DeviceName)
	assert.Equal(t, 40.7589, p.Latitude)
	assert.Equal(t, 45.6, p.Speed)
	require.Contains(t, p.Telemetry, "SENSOR_GNSS_SPEED")
	assert.Equal(t, "gps", p.Telemetry["SENSOR_GNSS_SPEED"].Category)
}

func TestWebhookLogRoundTrip(t *testing.T) {
	database := newTestDB(t)

	l := &models.WebhookLog{
		Endpoint:         "/webhook/wialon",
		Method:           "POST",
		ContentType:      "application/json",
		ContentLength:    42,
		RemoteAddr:       "10.0.0.1",
		UserAgent:        "wialon-retranslator",
		StatusCode:       200,
		ProcessingTimeMs: 12,
		RequestSample:    `{"unitId":"U1"}`,
	}
	require.NoError(t, database.InsertWebhookLog(l))
	assert.NotZero(t, l.ID)

	count, err := database.CountRecentWebhooks(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	logs, err := database.RecentWebhookLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/webhook/wialon", logs[0].Endpoint)
	assert.Equal(t, `{"unitId":"U1"}`, logs[0].RequestSample)
}

func TestGetStats(t *testing.T) {
	database := newTestDB(t)
	now := time.Now().UTC()

	_, err := database.InsertTrackingBatch([]*models.TrackingRecord{sampleRecord("U1", now)})
	require.NoError(t, err)
	require.NoError(t, database.InsertWebhookLog(&models.WebhookLog{Endpoint: "/webhook/wialon", Method: "POST", StatusCode: 200}))

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDevices)
	assert.Equal(t, int64(1), stats.ActiveDevices)
	assert.Equal(t, int64(1), stats.RecordsLast24h)
	require.Len(t, stats.RecentWebhooks, 1)
}

func TestPing(t *testing.T) {
	database := newTestDB(t)
	assert.NoError(t, database.Ping())
}
