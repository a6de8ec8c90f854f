package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wialon-bridge/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDeviceType = "Xirgo/Sensata XG3780"

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT UNIQUE NOT NULL,
		device_type TEXT NOT NULL DEFAULT 'Xirgo/Sensata XG3780',
		name TEXT,
		last_seen DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tracking_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		speed REAL,
		heading REAL,
		timestamp DATETIME NOT NULL,
		server_timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		odometer REAL,
		fuel_level REAL,
		engine_hours REAL,
		battery_voltage REAL,
		external_voltage REAL,
		ignition_status BOOLEAN,
		gps_valid BOOLEAN NOT NULL DEFAULT 1,
		panic_button BOOLEAN NOT NULL DEFAULT 0,
		telemetry_data TEXT,
		raw_data TEXT,
		data_format TEXT,
		FOREIGN KEY (device_id) REFERENCES devices(id)
	);

	CREATE TABLE IF NOT EXISTS webhook_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		content_type TEXT,
		content_length INTEGER,
		remote_addr TEXT,
		user_agent TEXT,
		status_code INTEGER,
		processing_time_ms INTEGER,
		error_message TEXT,
		request_data_sample TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tracking_device_timestamp ON tracking_records(device_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_tracking_timestamp ON tracking_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_webhook_logs_timestamp ON webhook_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_webhook_logs_endpoint ON webhook_logs(endpoint);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is usable
func (db *Database) Ping() error {
	var one int
	return db.conn.QueryRow("SELECT 1").Scan(&one)
}

// upsertDeviceTx finds or creates the device for a unit ID inside an open
// transaction and touches its last-seen/active flags.
func upsertDeviceTx(tx *sql.Tx, unitID string, seen time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM devices WHERE unit_id = ?`, unitID).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		result, err := tx.Exec(
			`INSERT INTO devices (unit_id, name, device_type, last_seen, is_active) VALUES (?, ?, ?, ?, 1)`,
			unitID, "Device "+unitID, defaultDeviceType, seen,
		)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	case err != nil:
		return 0, err
	}

	if _, err := tx.Exec(`UPDATE devices SET last_seen = ?, is_active = 1 WHERE id = ?`, seen, id); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertTrackingBatch commits a batch of reconciled records in one
// transaction, creating devices as needed. A failure rolls the whole batch
// back; no partial writes survive.
func (db *Database) InsertTrackingBatch(records []*models.TrackingRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tracking_records
		(device_id, latitude, longitude, altitude, speed, heading, timestamp, server_timestamp,
		 odometer, fuel_level, engine_hours, battery_voltage, external_voltage,
		 ignition_status, gps_valid, panic_button, telemetry_data, raw_data, data_format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var count int64
	for _, r := range records {
		deviceID, err := upsertDeviceTx(tx, r.UnitID, now)
		if err != nil {
			return 0, err
		}
		r.DeviceID = deviceID
		r.ReceivedAt = now

		var telemetryJSON any
		if len(r.Telemetry) > 0 {
			blob, err := json.Marshal(r.Telemetry)
			if err != nil {
				return 0, err
			}
			telemetryJSON = string(blob)
		}

		_, err = stmt.Exec(
			deviceID, r.Latitude, r.Longitude, r.Altitude, r.Speed, r.Heading,
			r.Timestamp, now,
			r.Odometer, r.FuelLevel, r.EngineHours, r.BatteryVoltage, r.ExternalVoltage,
			r.IgnitionStatus, r.GPSValid, r.PanicButton,
			telemetryJSON, r.RawData, r.Encoding,
		)
		if err != nil {
			return 0, err
		}
		count++
	}

	return count, tx.Commit()
}

// InsertWebhookLog records one inbound call for auditing
func (db *Database) InsertWebhookLog(l *models.WebhookLog) error {
	result, err := db.conn.Exec(`
		INSERT INTO webhook_logs
		(endpoint, method, content_type, content_length, remote_addr, user_agent,
		 status_code, processing_time_ms, error_message, request_data_sample)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Endpoint, l.Method, l.ContentType, l.ContentLength, l.RemoteAddr, l.UserAgent,
		l.StatusCode, l.ProcessingTimeMs, l.ErrorMessage, l.RequestSample,
	)
	if err != nil {
		return err
	}
	l.ID, _ = result.LastInsertId()
	return nil
}

// CountRecentWebhooks returns how many calls arrived since the given time
func (db *Database) CountRecentWebhooks(since time.Time) (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM webhook_logs WHERE timestamp >= ?`, since).Scan(&count)
	return count, err
}

// RecentWebhookLogs returns the newest audit entries
func (db *Database) RecentWebhookLogs(limit int) ([]models.WebhookLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, timestamp, endpoint, method, COALESCE(content_type, ''), COALESCE(content_length, 0),
		       COALESCE(remote_addr, ''), COALESCE(user_agent, ''), status_code, processing_time_ms,
		       COALESCE(error_message, ''), COALESCE(request_data_sample, '')
		FROM webhook_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.WebhookLog
	for rows.Next() {
		var l models.WebhookLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Endpoint, &l.Method, &l.ContentType, &l.ContentLength,
			&l.RemoteAddr, &l.UserAgent, &l.StatusCode, &l.ProcessingTimeMs,
			&l.ErrorMessage, &l.RequestSample); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListDevices returns devices ordered by most recently seen
func (db *Database) ListDevices(limit, offset int) ([]models.Device, error) {
	rows, err := db.conn.Query(`
		SELECT id, unit_id, device_type, COALESCE(name, ''), last_seen, is_active, created_at
		FROM devices
		ORDER BY last_seen DESC, created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.ID, &d.UnitID, &d.DeviceType, &d.Name, &lastSeen, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			d.LastSeen = &t
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDevice retrieves a device by unit ID
func (db *Database) GetDevice(unitID string) (*models.Device, error) {
	var d models.Device
	var lastSeen sql.NullTime
	err := db.conn.QueryRow(`
		SELECT id, unit_id, device_type, COALESCE(name, ''), last_seen, is_active, created_at
		FROM devices WHERE unit_id = ?`, unitID).
		Scan(&d.ID, &d.UnitID, &d.DeviceType, &d.Name, &lastSeen, &d.IsActive, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeen = &t
	}
	return &d, nil
}

// CountDevices returns total and active device counts
func (db *Database) CountDevices() (total, active int64, err error) {
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM devices WHERE is_active = 1`).Scan(&active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

// CountTrackingSince counts tracking records newer than the given time
func (db *Database) CountTrackingSince(since time.Time) (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM tracking_records WHERE timestamp >= ?`, since).Scan(&count)
	return count, err
}

// mapCategories are the telemetry categories surfaced on the map feed.
var mapCategories = map[string]bool{"gps": true, "engine": true, "fuel": true, "power": true}

// LatestPerDevice returns each device's newest positioned record, with
// telemetry trimmed to the categories the map cares about.
func (db *Database) LatestPerDevice() ([]models.DevicePosition, error) {
	rows, err := db.conn.Query(`
		SELECT d.id, d.unit_id, COALESCE(NULLIF(d.name, ''), d.unit_id), d.is_active,
		       t.latitude, t.longitude, COALESCE(t.speed, 0), COALESCE(t.heading, 0),
		       t.timestamp, t.telemetry_data
		FROM tracking_records t
		JOIN devices d ON d.id = t.device_id
		JOIN (
			SELECT device_id, MAX(timestamp) AS max_ts
			FROM tracking_records
			WHERE latitude IS NOT NULL AND longitude IS NOT NULL
			GROUP BY device_id
		) latest ON latest.device_id = t.device_id AND latest.max_ts = t.timestamp
		WHERE t.latitude IS NOT NULL AND t.longitude IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.DevicePosition
	for rows.Next() {
		var p models.DevicePosition
		var telemetryJSON sql.NullString
		if err := rows.Scan(&p.DeviceID, &p.UnitID, &p.DeviceName, &p.IsActive,
			&p.Latitude, &p.Longitude, &p.Speed, &p.Heading, &p.Timestamp, &telemetryJSON); err != nil {
			return nil, err
		}
		if telemetryJSON.Valid && telemetryJSON.String != "" {
			var full map[string]models.TelemetryReading
			if err := json.Unmarshal([]byte(telemetryJSON.String), &full); err == nil {
				filtered := make(map[string]models.TelemetryReading)
				for name, reading := range full {
					if mapCategories[reading.Category] {
						filtered[name] = reading
					}
				}
				if len(filtered) > 0 {
					p.Telemetry = filtered
				}
			}
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// HourlyCounts buckets tracking records per hour since the given time
func (db *Database) HourlyCounts(since time.Time) ([]models.HourlyCount, error) {
	rows, err := db.conn.Query(`
		SELECT strftime('%H', timestamp) AS hour, COUNT(*)
		FROM tracking_records
		WHERE timestamp >= ?
		GROUP BY strftime('%H', timestamp)
		ORDER BY hour`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.HourlyCount
	for rows.Next() {
		var c models.HourlyCount
		if err := rows.Scan(&c.Hour, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetStats assembles the dashboard counters
func (db *Database) GetStats() (*models.DashboardStats, error) {
	total, active, err := db.CountDevices()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records24h, err := db.CountTrackingSince(now.Add(-24 * time.Hour))
	if err != nil {
		return nil, err
	}

	hourly, err := db.HourlyCounts(now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	recent, err := db.RecentWebhookLogs(10)
	if err != nil {
		return nil, err
	}

	return &models.DashboardStats{
		TotalDevices:   total,
		ActiveDevices:  active,
		RecordsLast24h: records24h,
		HourlyData:     hourly,
		RecentWebhooks: recent,
	}, nil
}
