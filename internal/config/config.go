package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel-device/internal/logging"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	DeviceID string

	BackendURL         string
	AuthUsername       string
	AuthPassword       string
	AuthTimeout        time.Duration
	AuthRetryAttempts  int
	AuthRetryDelay     time.Duration
	TokenRefreshMargin time.Duration
	TokenDefaultTTL    time.Duration
	PayloadLimit       int

	WiFiSSID      string
	WiFiPassword  string
	WiFiInterface string

	CellularAPN          string
	CellularAllowSMSOnly bool
	ModemPort            string
	ModemBaud            int
	ModemPowerPin        string
	ModemPwrKeyPin       string
	ModemResetPin        string

	MaintainInterval time.Duration
	CellularCooldown time.Duration
	MinWiFiFailures  int

	BLEAdapter   string
	StrapAddress string

	QueueCapacity int

	BME280Enabled      bool
	BME280Address      uint16
	SensorPollInterval time.Duration

	GPSEnabled      bool
	GPSPollInterval time.Duration

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
}

// CellularEnabled reports whether a modem UART is configured.
func (c Config) CellularEnabled() bool {
	return c.ModemPort != ""
}

// MQTTEnabled reports whether the telemetry mirror is configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := logging.ParseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,
		DeviceID: envString("DEVICE_ID", "SENTINEL-001"),

		BackendURL:   strings.TrimRight(envString("BACKEND_URL", "http://localhost:8080"), "/"),
		AuthUsername: envString("AUTH_USERNAME", ""),
		AuthPassword: envString("AUTH_PASSWORD", ""),

		WiFiSSID:      envString("WIFI_SSID", ""),
		WiFiPassword:  envString("WIFI_PASSWORD", ""),
		WiFiInterface: envString("WIFI_INTERFACE", "wlan0"),

		CellularAPN:    envString("CELLULAR_APN", "internet"),
		ModemPort:      envString("MODEM_PORT", ""),
		ModemPowerPin:  envString("MODEM_POWER_PIN", ""),
		ModemPwrKeyPin: envString("MODEM_PWRKEY_PIN", ""),
		ModemResetPin:  envString("MODEM_RESET_PIN", ""),

		BLEAdapter:   envString("BLE_ADAPTER", "hci0"),
		StrapAddress: strings.ToUpper(envString("STRAP_ADDRESS", "")),

		MQTTBroker:   envString("MQTT_BROKER", ""),
		MQTTClientID: envString("MQTT_CLIENT_ID", "sentinel-device"),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"AUTH_TIMEOUT", "15s", &cfg.AuthTimeout},
		{"AUTH_RETRY_DELAY", "1s", &cfg.AuthRetryDelay},
		{"TOKEN_REFRESH_MARGIN", "5m", &cfg.TokenRefreshMargin},
		{"TOKEN_DEFAULT_TTL", "1h", &cfg.TokenDefaultTTL},
		{"MAINTAIN_INTERVAL", "10s", &cfg.MaintainInterval},
		{"CELLULAR_COOLDOWN", "60s", &cfg.CellularCooldown},
		{"SENSOR_POLL_INTERVAL", "60s", &cfg.SensorPollInterval},
		{"GPS_POLL_INTERVAL", "30s", &cfg.GPSPollInterval},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"AUTH_RETRY_ATTEMPTS", 3, &cfg.AuthRetryAttempts},
		{"PAYLOAD_LIMIT", 512, &cfg.PayloadLimit},
		{"MODEM_BAUD", 115200, &cfg.ModemBaud},
		{"MIN_WIFI_FAILURES", 3, &cfg.MinWiFiFailures},
		{"QUEUE_CAPACITY", 10, &cfg.QueueCapacity},
		{"MQTT_PORT", 1883, &cfg.MQTTPort},
	}
	for _, i := range ints {
		v, err := envPositiveInt(i.key, i.def)
		if err != nil {
			return Config{}, err
		}
		*i.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"CELLULAR_ALLOW_SMS_ONLY", &cfg.CellularAllowSMSOnly},
		{"BME280_ENABLED", &cfg.BME280Enabled},
		{"GPS_ENABLED", &cfg.GPSEnabled},
	}
	for _, b := range bools {
		v, err := envBool(b.key)
		if err != nil {
			return Config{}, err
		}
		*b.dst = v
	}

	bme280AddressStr := envString("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}
	cfg.BME280Address = uint16(bme280Address)

	if cfg.GPSEnabled && !cfg.CellularEnabled() {
		return Config{}, fmt.Errorf("GPS_ENABLED requires MODEM_PORT")
	}

	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key, def string) (time.Duration, error) {
	s := envString(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func envPositiveInt(key string, def int) (int, error) {
	s := envString(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func envBool(key string) (bool, error) {
	s := envString(key, "false")
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
