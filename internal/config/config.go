package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/imu_bridge/internal/filter"
)

// Config holds all application configuration values. A loaded Config is
// immutable: reload produces a new instance that is swapped in wholesale.
type Config struct {
	// Service
	RunMode            string // "daemon" or "interactive"
	UpdateInterval     int    // acquisition cadence, milliseconds
	AutoReconnect      bool
	ReconnectDelay     int // milliseconds
	QueueSize          int // outbound message queue capacity
	MaxReadFailures    int // consecutive failures before a device is disabled
	ConsoleLogInterval int // interactive view redraw, milliseconds

	// MQTT
	MQTTHost      string
	MQTTPort      int
	MQTTBaseTopic string
	MQTTClientID  string
	MQTTQoS       byte
	MQTTUsername  string
	MQTTPassword  string

	// Devices, in file order
	Devices []DeviceConfig

	// GPS producer
	GPSSerialPort string
	GPSBaudRate   int

	// Display consumer
	DisplayUpdateInterval int // milliseconds

	// Web consumer
	WebServerPort int
}

// DeviceConfig is the immutable per-device settings block.
type DeviceConfig struct {
	Name       string
	Bus        string // I2C bus name, e.g. "1"
	Address    uint16 // I2C address
	Driver     string // registry key, e.g. "mpu6500"
	Enabled    bool
	AccelRange int // g: 2, 4, 8, 16
	GyroRange  int // deg/s: 250, 500, 1000, 2000
	SampleRate int // Hz

	AccelFilter  filter.Tuning
	AccelZFilter filter.Tuning
	GyroFilter   filter.Tuning
}

// Package-level unexported variables for the singleton used by the consumer
// binaries. External code must use InitGlobal() to set and Get() to read.
// The bridge itself holds its own *Config so it can swap a reloaded one in.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	// First pass: collect all KEY=VALUE pairs.
	pairs := map[string]string{}
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if _, dup := pairs[key]; dup {
			return nil, fmt.Errorf("duplicate config key %q (line %d)", key, lineNum)
		}
		pairs[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := defaults()
	consumed := map[string]bool{}

	for key, value := range pairs {
		ok, err := cfg.setValue(key, value)
		if err != nil {
			return nil, err
		}
		if ok {
			consumed[key] = true
		}
	}

	// Second pass: device blocks, keyed off the DEVICES list.
	if list, ok := pairs["DEVICES"]; ok {
		consumed["DEVICES"] = true
		for _, name := range strings.Split(list, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			dev, used, err := parseDevice(name, pairs)
			if err != nil {
				return nil, err
			}
			for _, k := range used {
				consumed[k] = true
			}
			cfg.Devices = append(cfg.Devices, dev)
		}
	}

	for key := range pairs {
		if !consumed[key] {
			return nil, fmt.Errorf("unknown config key: %q", key)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		RunMode:               "daemon",
		UpdateInterval:        10,
		AutoReconnect:         true,
		ReconnectDelay:        5000,
		QueueSize:             256,
		MaxReadFailures:       10,
		ConsoleLogInterval:    500,
		MQTTPort:              1883,
		MQTTClientID:          "imu-bridge",
		DisplayUpdateInterval: 250,
		WebServerPort:         8080,
	}
}

// setValue sets a global config value based on the key. Returns false for
// keys that are not global (device-prefixed keys handled separately).
func (c *Config) setValue(key, value string) (bool, error) {
	switch key {
	// Service
	case "RUN_MODE":
		if value != "daemon" && value != "interactive" {
			return false, fmt.Errorf("RUN_MODE must be \"daemon\" or \"interactive\", got %q", value)
		}
		c.RunMode = value
	case "UPDATE_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.UpdateInterval = v
	case "AUTO_RECONNECT":
		v, err := parseBool(key, value)
		if err != nil {
			return false, err
		}
		c.AutoReconnect = v
	case "RECONNECT_DELAY":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.ReconnectDelay = v
	case "QUEUE_SIZE":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.QueueSize = v
	case "MAX_READ_FAILURES":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.MaxReadFailures = v
	case "CONSOLE_LOG_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.ConsoleLogInterval = v

	// MQTT
	case "MQTT_HOST":
		c.MQTTHost = value
	case "MQTT_PORT":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.MQTTPort = v
	case "MQTT_BASE_TOPIC":
		c.MQTTBaseTopic = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_QOS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false, fmt.Errorf("invalid MQTT_QOS %q: %w", value, err)
		}
		if v < 0 || v > 2 {
			return false, fmt.Errorf("MQTT_QOS must be 0-2, got %d", v)
		}
		c.MQTTQoS = byte(v)
	case "MQTT_USERNAME":
		c.MQTTUsername = value
	case "MQTT_PASSWORD":
		c.MQTTPassword = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.GPSBaudRate = v

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.DisplayUpdateInterval = v

	// Web
	case "WEB_SERVER_PORT":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return false, err
		}
		c.WebServerPort = v

	default:
		return false, nil
	}
	return true, nil
}

// parseDevice builds one DeviceConfig from <NAME>_-prefixed keys.
func parseDevice(name string, pairs map[string]string) (DeviceConfig, []string, error) {
	prefix := strings.ToUpper(name) + "_"
	dev := DeviceConfig{
		Name:       name,
		Bus:        "1",
		Address:    0x68,
		Driver:     "mpu6500",
		Enabled:    true,
		AccelRange: 16,
		GyroRange:  2000,
		SampleRate: 100,
	}
	var used []string

	get := func(suffix string) (string, bool) {
		v, ok := pairs[prefix+suffix]
		if ok {
			used = append(used, prefix+suffix)
		}
		return v, ok
	}

	if v, ok := get("BUS"); ok {
		dev.Bus = v
	}
	if v, ok := get("ADDRESS"); ok {
		addr, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return dev, used, fmt.Errorf("invalid %sADDRESS %q: %w", prefix, v, err)
		}
		dev.Address = uint16(addr)
	}
	if v, ok := get("DRIVER"); ok {
		dev.Driver = v
	}
	if v, ok := get("ENABLED"); ok {
		b, err := parseBool(prefix+"ENABLED", v)
		if err != nil {
			return dev, used, err
		}
		dev.Enabled = b
	}
	if v, ok := get("ACCEL_RANGE"); ok {
		r, err := strconv.Atoi(v)
		if err != nil {
			return dev, used, fmt.Errorf("invalid %sACCEL_RANGE %q: %w", prefix, v, err)
		}
		switch r {
		case 2, 4, 8, 16:
			dev.AccelRange = r
		default:
			return dev, used, fmt.Errorf("%sACCEL_RANGE must be 2, 4, 8 or 16 (g), got %d", prefix, r)
		}
	}
	if v, ok := get("GYRO_RANGE"); ok {
		r, err := strconv.Atoi(v)
		if err != nil {
			return dev, used, fmt.Errorf("invalid %sGYRO_RANGE %q: %w", prefix, v, err)
		}
		switch r {
		case 250, 500, 1000, 2000:
			dev.GyroRange = r
		default:
			return dev, used, fmt.Errorf("%sGYRO_RANGE must be 250, 500, 1000 or 2000 (deg/s), got %d", prefix, r)
		}
	}
	if v, ok := get("SAMPLE_RATE"); ok {
		r, err := strconv.Atoi(v)
		if err != nil {
			return dev, used, fmt.Errorf("invalid %sSAMPLE_RATE %q: %w", prefix, v, err)
		}
		if r < 4 || r > 1000 {
			return dev, used, fmt.Errorf("%sSAMPLE_RATE must be 4-1000 Hz, got %d", prefix, r)
		}
		dev.SampleRate = r
	}

	tuning := func(suffix string) (filter.Tuning, error) {
		v, ok := get(suffix)
		if !ok {
			return filter.Tuning{}, fmt.Errorf("%s%s is required", prefix, suffix)
		}
		return parseTuning(prefix+suffix, v)
	}

	var err error
	if dev.AccelFilter, err = tuning("ACCEL_FILTER"); err != nil {
		return dev, used, err
	}
	if dev.AccelZFilter, err = tuning("ACCEL_Z_FILTER"); err != nil {
		return dev, used, err
	}
	if dev.GyroFilter, err = tuning("GYRO_FILTER"); err != nil {
		return dev, used, err
	}

	return dev, used, nil
}

// parseTuning parses a "process_noise,measurement_noise,dead_zone" triple.
func parseTuning(key, value string) (filter.Tuning, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return filter.Tuning{}, fmt.Errorf("%s must be \"process_noise,measurement_noise,dead_zone\", got %q", key, value)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return filter.Tuning{}, fmt.Errorf("invalid %s component %q: %w", key, p, err)
		}
		vals[i] = f
	}
	t := filter.Tuning{ProcessNoise: vals[0], MeasurementNoise: vals[1], DeadZone: vals[2]}
	if t.ProcessNoise <= 0 || t.MeasurementNoise <= 0 {
		return filter.Tuning{}, fmt.Errorf("%s: process and measurement noise must be > 0", key)
	}
	if t.DeadZone < 0 {
		return filter.Tuning{}, fmt.Errorf("%s: dead zone must be >= 0", key)
	}
	return t, nil
}

func parsePositiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, v)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s %q: want true/false", key, value)
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTHost == "" {
		return fmt.Errorf("MQTT_HOST is required")
	}
	if c.MQTTBaseTopic == "" {
		return fmt.Errorf("MQTT_BASE_TOPIC is required")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("DEVICES is required (at least one device)")
	}
	seen := map[string]bool{}
	for _, d := range c.Devices {
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// Device returns the configuration block for a named device, if present.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// BrokerURL builds the paho broker URL from host and port.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort)
}

// WebAddr is the listen address for the web consumer.
func (c *Config) WebAddr() string {
	return fmt.Sprintf(":%d", c.WebServerPort)
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so it only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
