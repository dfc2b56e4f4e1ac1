package config

import (
	"log/slog"
	"testing"
	"time"
)

var configKeys = []string{
	"APP_ENV", "LOG_LEVEL", "DEVICE_ID", "BACKEND_URL", "AUTH_USERNAME", "AUTH_PASSWORD",
	"AUTH_TIMEOUT", "AUTH_RETRY_ATTEMPTS", "AUTH_RETRY_DELAY", "TOKEN_REFRESH_MARGIN",
	"TOKEN_DEFAULT_TTL", "PAYLOAD_LIMIT", "WIFI_SSID", "WIFI_PASSWORD", "WIFI_INTERFACE",
	"CELLULAR_APN", "CELLULAR_ALLOW_SMS_ONLY", "MODEM_PORT", "MODEM_BAUD", "MODEM_POWER_PIN",
	"MODEM_PWRKEY_PIN", "MODEM_RESET_PIN", "MAINTAIN_INTERVAL", "CELLULAR_COOLDOWN",
	"MIN_WIFI_FAILURES", "BLE_ADAPTER", "STRAP_ADDRESS", "QUEUE_CAPACITY", "BME280_ENABLED",
	"BME280_ADDRESS", "SENSOR_POLL_INTERVAL", "GPS_ENABLED", "GPS_POLL_INTERVAL",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.DeviceID != "SENTINEL-001" {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, "SENTINEL-001")
	}
	if got.AuthTimeout != 15*time.Second {
		t.Errorf("AuthTimeout = %v, want %v", got.AuthTimeout, 15*time.Second)
	}
	if got.AuthRetryAttempts != 3 {
		t.Errorf("AuthRetryAttempts = %d, want 3", got.AuthRetryAttempts)
	}
	if got.TokenRefreshMargin != 5*time.Minute {
		t.Errorf("TokenRefreshMargin = %v, want %v", got.TokenRefreshMargin, 5*time.Minute)
	}
	if got.TokenDefaultTTL != time.Hour {
		t.Errorf("TokenDefaultTTL = %v, want %v", got.TokenDefaultTTL, time.Hour)
	}
	if got.CellularCooldown != 60*time.Second {
		t.Errorf("CellularCooldown = %v, want %v", got.CellularCooldown, 60*time.Second)
	}
	if got.MinWiFiFailures != 3 {
		t.Errorf("MinWiFiFailures = %d, want 3", got.MinWiFiFailures)
	}
	if got.QueueCapacity != 10 {
		t.Errorf("QueueCapacity = %d, want 10", got.QueueCapacity)
	}
	if got.BME280Address != 0x76 {
		t.Errorf("BME280Address = %#x, want %#x", got.BME280Address, 0x76)
	}
	if got.CellularEnabled() {
		t.Errorf("CellularEnabled() = true with no MODEM_PORT")
	}
	if got.MQTTEnabled() {
		t.Errorf("MQTTEnabled() = true with no MQTT_BROKER")
	}
}

func TestLoadFromEnv_AppEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
	}{
		{name: "staging", appEnv: "staging"},
		{name: "uppercase", appEnv: "DEV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", tt.appEnv)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "https://api.example.com/ ")
	t.Setenv("STRAP_ADDRESS", "a0:9e:1a:ec:35:1e")
	t.Setenv("MODEM_PORT", "/dev/ttyUSB2")
	t.Setenv("GPS_ENABLED", "true")
	t.Setenv("CELLULAR_ALLOW_SMS_ONLY", "1")
	t.Setenv("BME280_ADDRESS", "0x77")
	t.Setenv("MAINTAIN_INTERVAL", "5s")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.BackendURL != "https://api.example.com" {
		t.Errorf("BackendURL = %q, want trailing slash trimmed", got.BackendURL)
	}
	if got.StrapAddress != "A0:9E:1A:EC:35:1E" {
		t.Errorf("StrapAddress = %q, want upper-case MAC", got.StrapAddress)
	}
	if !got.CellularEnabled() || !got.GPSEnabled || !got.CellularAllowSMSOnly {
		t.Errorf("cellular flags not applied: %+v", got)
	}
	if got.BME280Address != 0x77 {
		t.Errorf("BME280Address = %#x, want %#x", got.BME280Address, 0x77)
	}
	if got.MaintainInterval != 5*time.Second {
		t.Errorf("MaintainInterval = %v, want 5s", got.MaintainInterval)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad duration", key: "AUTH_TIMEOUT", value: "soon"},
		{name: "zero duration", key: "CELLULAR_COOLDOWN", value: "0s"},
		{name: "bad int", key: "QUEUE_CAPACITY", value: "ten"},
		{name: "zero capacity", key: "QUEUE_CAPACITY", value: "0"},
		{name: "bad bool", key: "GPS_ENABLED", value: "maybe"},
		{name: "bad address", key: "BME280_ADDRESS", value: "0xZZ"},
		{name: "bad level", key: "LOG_LEVEL", value: "loud"},
		{name: "gps without modem", key: "GPS_ENABLED", value: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.value)
			}
		})
	}
}
