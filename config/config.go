package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Meter-facing TCP listener
	Addr string
	// Synthetic clients seeded at startup
	NumClients int

	// Tariff applied to every session
	UnitCost       float64
	StandingCharge float64

	// Alert fan-out buffer per session
	AlertCapacity int

	// Empty means in-memory store
	DatabasePath string

	// Admin HTTP API
	AdminAddr string
	JWTSecret string
	AdminUser string
	AdminPass string

	// Optional MQTT grid-event source
	MQTTBroker string
	GridTopic  string

	// Optional modbus meter bridge
	ModbusAddr     string
	ModbusClientID string
	ModbusRegister int
	ModbusPoll     time.Duration
}

func Load() *Config {
	return &Config{
		Addr:           getEnv("ADDR", "127.0.0.1:8080"),
		NumClients:     getEnvInt("NCLIENT", 128),
		UnitCost:       getEnvFloat("UNIT_COST", 0.2),
		StandingCharge: getEnvFloat("STANDING_CHARGE", 0.4),
		AlertCapacity:  getEnvInt("ALERT_CAPACITY", 2),
		DatabasePath:   getEnv("DATABASE_PATH", ""),
		AdminAddr:      getEnv("ADMIN_ADDR", "127.0.0.1:8081"),
		JWTSecret:      getEnv("JWT_SECRET", "smart-meter-secret-change-in-production"),
		AdminUser:      getEnv("ADMIN_USER", "admin"),
		AdminPass:      getEnv("ADMIN_PASS", "admin"),
		MQTTBroker:     getEnv("MQTT_BROKER", ""),
		GridTopic:      getEnv("GRID_TOPIC", "grid/events"),
		ModbusAddr:     getEnv("MODBUS_ADDR", ""),
		ModbusClientID: getEnv("MODBUS_CLIENT_ID", "0"),
		ModbusRegister: getEnvInt("MODBUS_REGISTER", 0),
		ModbusPoll:     time.Duration(getEnvInt("MODBUS_POLL", 60)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
