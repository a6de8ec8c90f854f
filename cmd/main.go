package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"wialon-bridge/internal/api"
	"wialon-bridge/internal/db"
	"wialon-bridge/internal/gate"
	"wialon-bridge/internal/ingest"
	"wialon-bridge/internal/observability"
	"wialon-bridge/internal/sensors"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	database *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wialon-bridge",
		Short: "Wialon Bridge - retranslator webhook ingestion for Xirgo/Sensata trackers",
		Long: `A bridge service that receives Wialon retranslator webhooks in SOAP/XML,
JSON, or form encoding, maps Xirgo/Sensata XG3780 sensor codes to named
readings, and stores normalized tracking records in SQLite with REST API
access.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnv("WIALON_DB_PATH", "wialon_bridge.db"), "Path to SQLite database")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(sensorsCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// serverCmd starts the webhook and API server
func serverCmd() *cobra.Command {
	var (
		port      int
		secret    string
		perMinute int
		redisAddr string
		redisDB   int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the webhook ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			logger := observability.NewLogger()

			var counter gate.RateCounter
			if redisAddr != "" {
				rc, err := gate.NewRedisCounter(redisAddr, redisDB)
				if err != nil {
					return fmt.Errorf("redis error: %w", err)
				}
				counter = rc
				logger.Info("rate limiting via redis", "addr", redisAddr)
			} else {
				counter = gate.NewMemoryCounter()
			}

			g := gate.New(secret, perMinute, counter, logger)
			pipeline := ingest.New(g, database, logger)
			server := api.NewServer(database, pipeline, logger)

			addr := fmt.Sprintf(":%d", port)
			logger.Info("starting wialon bridge",
				"addr", addr,
				"db", dbPath,
				"rate_limit_per_minute", perMinute,
				"auth_enabled", secret != "")

			fmt.Printf("Wialon Bridge\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", dbPath)
			fmt.Println("Available endpoints:")
			fmt.Println("  POST /webhook/wialon")
			fmt.Println("  POST /webhook/wialon/test")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /metrics")
			fmt.Println("  GET  /api/v1/devices")
			fmt.Println("  GET  /api/v1/devices/{unit_id}")
			fmt.Println("  GET  /api/v1/tracking/latest")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println("  GET  /api/v1/logs")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("WIALON_PORT", 8080), "Server port")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("WIALON_WEBHOOK_SECRET"), "Webhook shared secret (empty disables auth)")
	cmd.Flags().IntVar(&perMinute, "rate-limit", getEnvInt("WIALON_RATE_LIMIT", 100), "Max webhook calls per address per minute")
	cmd.Flags().StringVar(&redisAddr, "redis", os.Getenv("WIALON_REDIS_ADDR"), "Redis address for shared rate limiting (empty uses in-memory)")
	cmd.Flags().IntVar(&redisDB, "redis-db", getEnvInt("WIALON_REDIS_DB", 0), "Redis database number")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ingestion statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Wialon Bridge Statistics")
			fmt.Println("========================")
			fmt.Printf("  Total Devices:      %d\n", stats.TotalDevices)
			fmt.Printf("  Active Devices:     %d\n", stats.ActiveDevices)
			fmt.Printf("  Records (24h):      %d\n", stats.RecordsLast24h)
			fmt.Printf("  Database:           %s\n", dbPath)

			if len(stats.RecentWebhooks) > 0 {
				fmt.Println("\nRecent webhooks:")
				for _, l := range stats.RecentWebhooks {
					fmt.Printf("  [%s] %s %s -> %d (%dms)\n",
						l.Timestamp.Format("2006-01-02 15:04:05"),
						l.Method, l.Endpoint, l.StatusCode, l.ProcessingTimeMs)
				}
			}

			return nil
		},
	}
}

// sensorsCmd inspects the sensor catalog
func sensorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensors [code...]",
		Short: "Show the Xirgo/Sensata sensor catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				for _, arg := range args {
					code, err := strconv.Atoi(strings.TrimPrefix(arg, "sensor"))
					if err != nil {
						return fmt.Errorf("invalid sensor code %q", arg)
					}
					printSensor(code)
				}
				return nil
			}

			for _, code := range sensors.Codes() {
				printSensor(code)
			}
			return nil
		},
	}
	return cmd
}

func printSensor(code int) {
	d := sensors.Describe(code)
	line := fmt.Sprintf("%6d  %-40s %-8s %s", code, d.Name, d.Kind, sensors.CategoryOf(d.Name))
	if d.Unit != "" {
		line += fmt.Sprintf("  [%s", d.Unit)
		if d.Multiplier != 1 || d.Offset != 0 {
			line += fmt.Sprintf(", x%g%+g", d.Multiplier, d.Offset)
		}
		line += "]"
	}
	fmt.Println(line)
}

// simulateCmd sends a sample SOAP submission to a running server
func simulateCmd() *cobra.Command {
	var (
		target string
		unitID string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send a sample retranslator submission to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:web="http://webservice.retranslator.wialon">
  <soapenv:Header>
    <wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
      <wsse:UsernameToken><wsse:Username>%s</wsse:Username></wsse:UsernameToken>
    </wsse:Security>
  </soapenv:Header>
  <soapenv:Body>
    <web:submitData>
      <unitId>%s</unitId>
      <latitude>40.7589</latitude>
      <longitude>-73.9851</longitude>
      <speed>45.6</speed>
      <course>180</course>
      <timestamp>%s</timestamp>
      <telemetryDetails><sensorCode>sensor8192</sensorCode><value>45.6</value></telemetryDetails>
      <telemetryDetails><sensorCode>sensor8200</sensorCode><value>130</value></telemetryDetails>
      <telemetryDetails><sensorCode>sensor109</sensorCode><value>true</value></telemetryDetails>
    </web:submitData>
  </soapenv:Body>
</soapenv:Envelope>`, secret, unitID, time.Now().UTC().Format(time.RFC3339))

			resp, err := http.Post(target+"/webhook/wialon", "application/soap+xml", strings.NewReader(body))
			if err != nil {
				return fmt.Errorf("request error: %w", err)
			}
			defer resp.Body.Close()

			reply, _ := io.ReadAll(resp.Body)
			fmt.Printf("HTTP %d\n%s\n", resp.StatusCode, reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "http://localhost:8080", "Base URL of the running server")
	cmd.Flags().StringVarP(&unitID, "unit", "u", "XG3780_SIM_001", "Unit ID to submit")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("WIALON_WEBHOOK_SECRET"), "Webhook shared secret")
	return cmd
}
